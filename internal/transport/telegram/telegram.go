// Package telegram implements the delivery transport on the Telegram
// Bot API via telebot. The sender is outbound-only: chatd never polls
// for updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"chatd/internal/transport"
	logx "chatd/pkg/logx"
)

type Config struct {
	Token string
}

type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Sender{bot: b, log: log}, nil
}

func (s *Sender) Send(ctx context.Context, channelID, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(channelID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad channel id %q", transport.ErrPermanent, channelID)
	}

	// telebot's API calls don't take a context; run the send in a
	// goroutine so ctx deadlines still bound the wait. The stray send
	// is left to finish so a timed-out attempt can't be half-observed.
	type sendResult struct {
		msg *tele.Message
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		msg, err := s.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
			ParseMode:             tele.ModeMarkdown,
			DisableWebPagePreview: true,
		})
		done <- sendResult{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", s.classify(channelID, res.err)
		}
		return strconv.Itoa(res.msg.ID), nil
	}
}

// classify maps Telegram API errors onto the core's error taxonomy.
func (s *Sender) classify(channelID string, err error) error {
	if isPermanent(err) {
		return fmt.Errorf("telegram send to %s: %w: %v", channelID, transport.ErrPermanent, err)
	}
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		s.log.Debug("telegram flood limit",
			logx.String("channel", channelID),
			logx.Duration("retry_after", time.Duration(flood.RetryAfter)*time.Second),
		)
	}
	return fmt.Errorf("telegram send to %s: %w", channelID, err)
}

func isPermanent(err error) bool {
	for _, perm := range []error{
		tele.ErrChatNotFound,
		tele.ErrBlockedByUser,
		tele.ErrKickedFromChannel,
		tele.ErrKickedFromGroup,
		tele.ErrKickedFromSuperGroup,
		tele.ErrNoRightsToSend,
		tele.ErrUserIsDeactivated,
	} {
		if errors.Is(err, perm) {
			return true
		}
	}
	return false
}
