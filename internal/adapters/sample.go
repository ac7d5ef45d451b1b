package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/vibepanel/vibepanel/internal/domain"
)

// ErrNoEvent is returned by Sample when the adapter started but reported
// nothing before the deadline.
var ErrNoEvent = errors.New("no event before deadline")

// Sample starts a, waits for its first payload event and shuts it down.
func Sample(ctx context.Context, a Adapter, timeout time.Duration) (domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := a.Start(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer h.Close()

	select {
	case ev := <-a.Events():
		return ev, nil
	case <-h.Done():
		select {
		case ev := <-a.Events():
			return ev, nil
		default:
		}
		if err := h.Err(); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{}, errEnded
	case <-ctx.Done():
		return domain.Event{}, ErrNoEvent
	}
}
