package telegram

import (
	"context"
	"fmt"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
)

// maxHistoryBatch is the largest page Telegram serves per history request.
const maxHistoryBatch = 100

// HistoryRPC is the subset of Telegram API calls the store issues.
type HistoryRPC interface {
	// History returns messages older than offsetID, newest first. Zero
	// offsetID starts from the latest message.
	History(ctx context.Context, peer tg.InputPeerClass, offsetID int, limit int) ([]tg.MessageClass, error)
	// Pinned returns pinned messages older than offsetID, newest first.
	Pinned(ctx context.Context, peer tg.InputPeerClass, offsetID int, limit int) ([]tg.MessageClass, error)
	// Messages returns messages by id.
	Messages(ctx context.Context, channel tg.InputChannelClass, ids []int) ([]tg.MessageClass, error)
	// SetReaction replaces the caller's reactions on one message.
	SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error
	// Revoke deletes one message for everyone.
	Revoke(ctx context.Context, peer tg.InputPeerClass, messageID int) error
}

type gotdHistoryRPC struct {
	raw    *tg.Client
	sender *message.Sender
}

func newGotdHistoryRPC(client *gotdtelegram.Client) gotdHistoryRPC {
	raw := client.API()

	return gotdHistoryRPC{
		raw:    raw,
		sender: message.NewSender(raw),
	}
}

func (r gotdHistoryRPC) History(
	ctx context.Context,
	peer tg.InputPeerClass,
	offsetID int,
	limit int,
) ([]tg.MessageClass, error) {
	result, err := r.raw.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("messages.getHistory: %w", err)
	}

	return unpackMessages(result)
}

func (r gotdHistoryRPC) Pinned(
	ctx context.Context,
	peer tg.InputPeerClass,
	offsetID int,
	limit int,
) ([]tg.MessageClass, error) {
	result, err := r.raw.MessagesSearch(ctx, &tg.MessagesSearchRequest{
		Peer:     peer,
		Filter:   &tg.InputMessagesFilterPinned{},
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("messages.search pinned: %w", err)
	}

	return unpackMessages(result)
}

func (r gotdHistoryRPC) Messages(
	ctx context.Context,
	channel tg.InputChannelClass,
	ids []int,
) ([]tg.MessageClass, error) {
	inputIDs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		inputIDs = append(inputIDs, &tg.InputMessageID{ID: id})
	}

	result, err := r.raw.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel,
		ID:      inputIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("channels.getMessages: %w", err)
	}

	return unpackMessages(result)
}

func (r gotdHistoryRPC) SetReaction(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	reactions []tg.ReactionClass,
) error {
	if _, err := r.sender.To(peer).Reaction(ctx, messageID, reactions...); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}

	return nil
}

func (r gotdHistoryRPC) Revoke(ctx context.Context, peer tg.InputPeerClass, messageID int) error {
	if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
		return fmt.Errorf("revoke message: %w", err)
	}

	return nil
}

func unpackMessages(result tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch typed := result.(type) {
	case *tg.MessagesMessages:
		return typed.Messages, nil
	case *tg.MessagesMessagesSlice:
		return typed.Messages, nil
	case *tg.MessagesChannelMessages:
		return typed.Messages, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	case nil:
		return nil, &decodeError{cause: fmt.Errorf("nil messages result")}
	default:
		return nil, &decodeError{cause: fmt.Errorf("unexpected messages result %s", result.TypeName())}
	}
}
