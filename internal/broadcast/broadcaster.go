package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatd/internal/storage"
	"chatd/internal/transport"
	logx "chatd/pkg/logx"
)

// ErrBlacklisted is reported for channels skipped without an attempt
// because earlier failures crossed the blacklist threshold.
var ErrBlacklisted = errors.New("channel blacklisted")

// BackoffMode selects the delay progression between retries.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffExponential BackoffMode = "exponential"
)

type Config struct {
	// Workers caps how many channels are attempted concurrently for a
	// single task. Tasks themselves are dispatched one at a time.
	Workers int
	// RatePerSec is the shared outbound send budget across all
	// channels; Burst allows short spikes above it.
	RatePerSec float64
	Burst      int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Backoff       BackoffMode

	// FailThreshold is the number of consecutive exhausted deliveries
	// after which a channel is blacklisted.
	FailThreshold int
	// SendTimeout bounds a single transport attempt.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.Backoff != BackoffFixed && c.Backoff != BackoffExponential {
		c.Backoff = BackoffExponential
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

type Result string

const (
	ResultDelivered Result = "delivered"
	ResultRetried   Result = "retried" // delivered after at least one retry
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
)

// Delivery is the per-channel outcome of one broadcast call. Record is
// set only when the send actually happened; the caller buffers it and
// commits the whole cycle in one store transaction.
type Delivery struct {
	ChannelID string
	Result    Result
	Attempts  int
	Record    *storage.Record
	Err       error
}

// ChannelHealth tracks consecutive exhausted deliveries per channel.
type ChannelHealth struct {
	ConsecutiveFailures int
	Blacklisted         bool
	LastFailure         time.Time
}

// Message is one announcement to fan out. Kind and UpdatedAt identify
// the announcement: the same posting produces a new Message each time
// it changes, and only an exact replay is suppressed as a duplicate.
type Message struct {
	PostingID string
	Kind      string
	UpdatedAt int64
	Text      string
}

// RecordChecker answers whether a channel already received this exact
// announcement. Satisfied by storage.Store.
type RecordChecker interface {
	HasDelivery(ctx context.Context, postingID, channelID, kind string, updatedAt int64) (bool, error)
}

// Broadcaster fans one formatted message out to the configured
// channels with rate limiting, bounded retries and per-channel health
// tracking. Safe for concurrent use; Apply may reconfigure it while
// broadcasts are in flight.
type Broadcaster struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	seen   RecordChecker
	log    logx.Logger

	healthMu sync.Mutex
	health   map[string]*ChannelHealth
}

func New(cfg Config, sender transport.Sender, seen RecordChecker, log logx.Logger) *Broadcaster {
	cfg = cfg.withDefaults()
	return &Broadcaster{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		sender:  sender,
		seen:    seen,
		log:     log,
		health:  make(map[string]*ChannelHealth),
	}
}

// Apply swaps the runtime settings. Health state is kept; in-flight
// sends finish under the snapshot they started with.
func (b *Broadcaster) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	b.mu.Lock()
	b.cfg = cfg
	b.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	b.mu.Unlock()
}

// Broadcast delivers one announcement to every channel and returns one
// Delivery per channel, in the channels' order.
func (b *Broadcaster) Broadcast(ctx context.Context, msg Message, channels []string) []Delivery {
	b.mu.Lock()
	workers := b.cfg.Workers
	b.mu.Unlock()

	results := make([]Delivery, len(channels))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ch string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = b.sendOne(ctx, msg, ch)
		}(i, ch)
	}
	wg.Wait()
	return results
}

func (b *Broadcaster) sendOne(ctx context.Context, msg Message, channelID string) Delivery {
	d := Delivery{ChannelID: channelID}

	if b.isBlacklisted(channelID) {
		d.Result = ResultSkipped
		d.Err = ErrBlacklisted
		return d
	}

	// Skip only an exact replay of this announcement. A record left by
	// an earlier announcement of the same posting does not match, so
	// follow-up changes still go out.
	already, err := b.seen.HasDelivery(ctx, msg.PostingID, channelID, msg.Kind, msg.UpdatedAt)
	if err != nil {
		// Without the guard a send could duplicate; fail the channel
		// rather than risk it.
		d.Result = ResultFailed
		d.Err = err
		return d
	}
	if already {
		d.Result = ResultSkipped
		return d
	}

	// Snapshot mutable settings to avoid races with Apply.
	b.mu.Lock()
	lim := b.limiter
	cfg := b.cfg
	b.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		d.Result = ResultFailed
		d.Err = err
		return d
	}

	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		d.Attempts = i + 1

		// The attempt is detached from the cycle context so shutdown
		// lets an in-flight send finish; only the per-attempt timeout
		// bounds it. A record must never be written for a send that
		// was aborted midway.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
		ref, err := b.sender.Send(attemptCtx, channelID, msg.Text)
		cancel()
		if err == nil {
			b.clearHealth(channelID)
			d.Result = ResultDelivered
			if i > 0 {
				d.Result = ResultRetried
			}
			d.Record = &storage.Record{
				PostingID:   msg.PostingID,
				ChannelID:   channelID,
				Kind:        msg.Kind,
				UpdatedAt:   msg.UpdatedAt,
				MessageRef:  ref,
				DeliveredAt: time.Now().UTC(),
			}
			return d
		}
		last = err

		if errors.Is(err, transport.ErrPermanent) {
			b.blacklist(channelID)
			b.log.Warn("channel blacklisted on permanent delivery failure",
				logx.String("channel", channelID), logx.Err(err))
			d.Result = ResultFailed
			d.Err = err
			return d
		}
		if i == cfg.RetryMax {
			break
		}

		delay := backoffDelay(cfg, i)
		b.log.Debug("delivery retry scheduled",
			logx.String("posting", msg.PostingID),
			logx.String("channel", channelID),
			logx.Int("attempt", i+2),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			d.Result = ResultFailed
			d.Err = ctx.Err()
			return d
		case <-tmr.C:
		}
	}

	hl := b.recordFailure(channelID)
	fields := []logx.Field{
		logx.String("posting", msg.PostingID),
		logx.String("channel", channelID),
		logx.Int("attempts", d.Attempts),
		logx.Int("consecutive_failures", hl.ConsecutiveFailures),
		logx.Err(last),
	}
	if hl.Blacklisted {
		b.log.Warn("channel blacklisted after repeated delivery failures", fields...)
	} else {
		b.log.Warn("delivery failed after retries", fields...)
	}
	d.Result = ResultFailed
	d.Err = last
	return d
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	if cfg.Backoff == BackoffFixed {
		return cfg.RetryBase
	}
	d := cfg.RetryBase << uint(attempt)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func (b *Broadcaster) isBlacklisted(channelID string) bool {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	hl := b.health[channelID]
	return hl != nil && hl.Blacklisted
}

func (b *Broadcaster) clearHealth(channelID string) {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	delete(b.health, channelID)
}

func (b *Broadcaster) blacklist(channelID string) {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	hl := b.health[channelID]
	if hl == nil {
		hl = &ChannelHealth{}
		b.health[channelID] = hl
	}
	hl.ConsecutiveFailures++
	hl.Blacklisted = true
	hl.LastFailure = time.Now()
}

func (b *Broadcaster) recordFailure(channelID string) ChannelHealth {
	b.mu.Lock()
	threshold := b.cfg.FailThreshold
	b.mu.Unlock()

	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	hl := b.health[channelID]
	if hl == nil {
		hl = &ChannelHealth{}
		b.health[channelID] = hl
	}
	hl.ConsecutiveFailures++
	hl.LastFailure = time.Now()
	if hl.ConsecutiveFailures >= threshold {
		hl.Blacklisted = true
	}
	return *hl
}

// Health returns a snapshot of the per-channel failure state, keyed by
// channel id. Channels with no recorded failures are absent.
func (b *Broadcaster) Health() map[string]ChannelHealth {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	out := make(map[string]ChannelHealth, len(b.health))
	for k, v := range b.health {
		out[k] = *v
	}
	return out
}

// Reprobe clears every blacklist entry so the next task attempts the
// channel again. Intended for the periodic health re-probe and for
// operator-driven resets.
func (b *Broadcaster) Reprobe() {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	for ch, hl := range b.health {
		if hl.Blacklisted {
			b.log.Info("channel blacklist cleared for re-probe", logx.String("channel", ch))
			delete(b.health, ch)
		}
	}
}
