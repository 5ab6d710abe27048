package forward

import (
	"context"
	"log/slog"

	"github.com/brije111/quietshare/internal/receiver"
)

// Forwarder delivers events read from a channel through a Client, one at a
// time and in reception order. While a delivery is retrying, newer events
// wait in the channel; a session listener drops its oldest when full.
type Forwarder struct {
	client          *Client
	logger          *slog.Logger
	includeFailures bool
}

// NewForwarder creates a forwarder. Failed events are skipped unless
// includeFailures is set.
func NewForwarder(client *Client, logger *slog.Logger, includeFailures bool) *Forwarder {
	return &Forwarder{
		client:          client,
		logger:          logger,
		includeFailures: includeFailures,
	}
}

// Run forwards events until the channel closes or ctx is done
func (f *Forwarder) Run(ctx context.Context, events <-chan receiver.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == receiver.KindFailed && !f.includeFailures {
				continue
			}
			f.deliver(ctx, NewMessage(ev))
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, msg *Message) {
	if err := f.client.Deliver(ctx, msg); err != nil {
		f.logger.Error("Failed to forward event",
			slog.String("event_id", msg.EventID),
			slog.String("request_id", msg.RequestID),
			slog.String("error", err.Error()),
		)
		return
	}
	f.logger.Debug("Event forwarded",
		slog.String("event_id", msg.EventID),
		slog.String("kind", msg.Kind),
	)
}
