package transport

import (
	"context"
	"errors"
)

// ErrPermanent marks delivery failures that retrying cannot fix
// (channel deleted, bot removed, permissions revoked). The broadcaster
// blacklists the channel immediately instead of burning retries.
var ErrPermanent = errors.New("permanent delivery failure")

// Sender delivers one formatted message to one destination channel and
// returns the platform's opaque message reference.
//
// Implementations own connection, authentication and rate-limit
// plumbing below this call; the core only sees success, a retryable
// error, or an ErrPermanent-wrapped error.
type Sender interface {
	Send(ctx context.Context, channelID, text string) (ref string, err error)
}
