package telegram

import (
	"strconv"
	"strings"
	"time"

	"ex-feedsync/pkg/feed"

	"github.com/gotd/td/tg"
)

// Attribute keys carried through from Telegram message metadata.
const (
	AttrEditedAt   = "edited_at"
	AttrViews      = "views"
	AttrPostAuthor = "post_author"
	AttrMediaKind  = "media_kind"
	AttrMediaID    = "media_id"
	AttrMIMEType   = "mime_type"
)

// messageRecord maps one channel message to a record. Service messages are
// not records; empty messages map to invisible tombstones.
func messageRecord(message tg.MessageClass) (feed.Record, bool) {
	switch typed := message.(type) {
	case *tg.Message:
		return postRecord(typed), true
	case *tg.MessageEmpty:
		return feed.Record{
			ID:          strconv.Itoa(typed.ID),
			OrderingKey: int64(typed.ID),
			Visible:     false,
		}, true
	default:
		return feed.Record{}, false
	}
}

func postRecord(message *tg.Message) feed.Record {
	record := feed.Record{
		ID:          strconv.Itoa(message.ID),
		Pinned:      message.Pinned,
		OrderingKey: int64(message.ID),
		Visible:     true,
		Body:        message.Message,
		CreatedAt:   intToTimeUTC(message.Date),
	}

	if replies, ok := message.GetReplies(); ok {
		record.Counters.Replies = int64(replies.Replies)
	}
	if reactions, ok := message.GetReactions(); ok {
		for _, result := range reactions.Results {
			if result.Count > 0 {
				record.Counters.Likes += int64(result.Count)
			}
		}
	}
	if from, ok := message.GetFromID(); ok {
		record.AuthorID = peerKey(from)
	}
	if record.AuthorID == "" {
		record.AuthorID = peerKey(message.PeerID)
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				record.ParentID = strconv.Itoa(replyToMessageID)
			}
		}
	}

	attributes := make(map[string]string)
	if editDate, ok := message.GetEditDate(); ok {
		attributes[AttrEditedAt] = intToTimeUTC(editDate).Format(time.RFC3339)
	}
	if views, ok := message.GetViews(); ok {
		attributes[AttrViews] = strconv.Itoa(views)
	}
	if author, ok := message.GetPostAuthor(); ok && strings.TrimSpace(author) != "" {
		attributes[AttrPostAuthor] = author
	}
	for key, value := range mediaAttributes(message.Media) {
		attributes[key] = value
	}
	if len(attributes) > 0 {
		record.Attributes = attributes
	}

	return record
}

// peerKey renders a peer as a stable author id such as "user:42".
func peerKey(peer tg.PeerClass) string {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return "user:" + strconv.FormatInt(typed.UserID, 10)
	case *tg.PeerChannel:
		return "channel:" + strconv.FormatInt(typed.ChannelID, 10)
	case *tg.PeerChat:
		return "chat:" + strconv.FormatInt(typed.ChatID, 10)
	default:
		return ""
	}
}

func mediaAttributes(media tg.MessageMediaClass) map[string]string {
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok {
			return nil
		}
		concrete, ok := photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return map[string]string{
			AttrMediaKind: "photo",
			AttrMediaID:   strconv.FormatInt(concrete.ID, 10),
		}
	case *tg.MessageMediaDocument:
		document, ok := typed.GetDocument()
		if !ok {
			return nil
		}
		concrete, ok := document.(*tg.Document)
		if !ok {
			return nil
		}
		return map[string]string{
			AttrMediaKind: documentKind(concrete),
			AttrMediaID:   strconv.FormatInt(concrete.ID, 10),
			AttrMIMEType:  concrete.MimeType,
		}
	default:
		return nil
	}
}

func documentKind(document *tg.Document) string {
	for _, attribute := range document.Attributes {
		switch attribute.(type) {
		case *tg.DocumentAttributeAudio:
			return "audio"
		case *tg.DocumentAttributeVideo:
			return "video"
		}
	}

	switch {
	case strings.HasPrefix(document.MimeType, "image/"):
		return "photo"
	case strings.HasPrefix(document.MimeType, "video/"):
		return "video"
	case strings.HasPrefix(document.MimeType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// reactionToEmoji renders one reaction as its configuration token.
func reactionToEmoji(reaction tg.ReactionClass) string {
	switch typed := reaction.(type) {
	case *tg.ReactionEmoji:
		return typed.Emoticon
	case *tg.ReactionCustomEmoji:
		return "custom:" + strconv.FormatInt(typed.DocumentID, 10)
	case *tg.ReactionPaid:
		return "paid"
	default:
		return ""
	}
}

// parseReaction is the inverse of reactionToEmoji.
func parseReaction(token string) (tg.ReactionClass, error) {
	trimmed := strings.TrimSpace(token)
	switch {
	case trimmed == "":
		return nil, feed.ErrInvalidQuery
	case trimmed == "paid":
		return &tg.ReactionPaid{}, nil
	case strings.HasPrefix(trimmed, "custom:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(trimmed, "custom:"), 10, 64)
		if err != nil {
			return nil, feed.ErrInvalidQuery
		}
		return &tg.ReactionCustomEmoji{DocumentID: id}, nil
	default:
		return &tg.ReactionEmoji{Emoticon: trimmed}, nil
	}
}
