package notifier

import (
	"context"
	"errors"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// Multi fans one alert out to several channels. Delivery is
// best-effort per channel; errors are joined so one broken channel
// does not silence the rest.
type Multi struct {
	channels []agent.Notifier
}

// NewMulti combines notifiers into one. Nil entries are skipped.
func NewMulti(channels ...agent.Notifier) *Multi {
	out := make([]agent.Notifier, 0, len(channels))
	for _, c := range channels {
		if c != nil {
			out = append(out, c)
		}
	}
	return &Multi{channels: out}
}

// Send delivers the alert to every channel.
func (n *Multi) Send(ctx context.Context, alert agent.Alert) error {
	var errs []error
	for _, c := range n.channels {
		if err := c.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
