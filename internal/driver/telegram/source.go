package telegram

import (
	"context"
	"fmt"
)

// EventHandler consumes mapped channel events.
type EventHandler func(ctx context.Context, event ChannelEvent) error

// EventSource streams channel events into a store.
type EventSource interface {
	// Consume runs the event loop until context cancellation or fatal error.
	Consume(ctx context.Context, handler EventHandler) error
}

// ChannelSource reads events from a channel.
type ChannelSource struct {
	// Events is the owned input stream consumed by the source loop.
	Events <-chan ChannelEvent
}

// Consume forwards channel events until closure or cancellation.
func (s ChannelSource) Consume(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return fmt.Errorf("channel source: nil handler")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.Events:
			if !ok {
				return nil
			}
			if err := handler(ctx, event); err != nil {
				return fmt.Errorf("channel source handle event %s: %w", event.Kind, err)
			}
		}
	}
}
