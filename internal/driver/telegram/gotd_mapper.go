package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/tg"
)

// DefaultGotdUpdateMapper maps gotd updates into channel events.
type DefaultGotdUpdateMapper struct {
	logger *slog.Logger
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithMapperLogger sets the logger used for skipped update diagnostics.
func WithMapperLogger(logger *slog.Logger) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if logger != nil {
			mapper.logger = logger
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into a channel event.
//
// Updates outside channels, and update classes that cannot change a record,
// are reported as not accepted.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (ChannelEvent, bool, error) {
	select {
	case <-ctx.Done():
		return ChannelEvent{}, false, fmt.Errorf("map gotd update context: %w", ctx.Err())
	default:
	}

	envelope, err := normalizeGotdRaw(raw)
	if err != nil {
		return ChannelEvent{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	if envelope.resync {
		return ChannelEvent{Kind: EventResync, OccurredAt: occurredAt}, true, nil
	}

	event := ChannelEvent{OccurredAt: occurredAt}
	switch update := envelope.update.(type) {
	case *tg.UpdateNewChannelMessage:
		event.Kind = EventMessage
		event.ChannelID, event.MessageIDs = channelMessageRef(update.Message)
	case *tg.UpdateEditChannelMessage:
		event.Kind = EventEdit
		event.ChannelID, event.MessageIDs = channelMessageRef(update.Message)
	case *tg.UpdateDeleteChannelMessages:
		event.Kind = EventDelete
		event.ChannelID = update.ChannelID
		event.MessageIDs = append([]int(nil), update.Messages...)
	case *tg.UpdatePinnedChannelMessages:
		event.Kind = EventPin
		event.ChannelID = update.ChannelID
		event.MessageIDs = append([]int(nil), update.Messages...)
	case *tg.UpdateMessageReactions:
		peer, ok := update.Peer.(*tg.PeerChannel)
		if !ok {
			return ChannelEvent{}, false, nil
		}
		event.Kind = EventReaction
		event.ChannelID = peer.ChannelID
		event.MessageIDs = []int{update.MsgID}
	default:
		return ChannelEvent{}, false, nil
	}

	if event.ChannelID == 0 {
		if m.logger != nil {
			m.logger.DebugContext(ctx, "skip gotd update without channel peer", "update_class", envelope.updateClass)
		}
		return ChannelEvent{}, false, nil
	}

	return event, true, nil
}

func normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

// channelMessageRef extracts the channel id and message id of a channel message.
func channelMessageRef(message tg.MessageClass) (int64, []int) {
	var peer tg.PeerClass
	switch typed := message.(type) {
	case *tg.Message:
		peer = typed.PeerID
	case *tg.MessageService:
		peer = typed.PeerID
	default:
		return 0, nil
	}

	channel, ok := peer.(*tg.PeerChannel)
	if !ok {
		return 0, nil
	}

	return channel.ChannelID, []int{message.GetID()}
}
