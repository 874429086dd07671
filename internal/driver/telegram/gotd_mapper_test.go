package telegram

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestDefaultGotdUpdateMapperMap(t *testing.T) {
	t.Parallel()

	occurredAt := time.Unix(1_700_000_100, 0).UTC()
	envelope := func(update tg.UpdateClass) gotdUpdateEnvelope {
		return gotdUpdateEnvelope{update: update, occurredAt: occurredAt, updateClass: update.TypeName()}
	}

	tests := []struct {
		name         string
		raw          any
		wantAccepted bool
		wantKind     EventKind
		wantChannel  int64
		wantIDs      string
		wantErr      bool
	}{
		{
			name:         "new channel post",
			raw:          envelope(&tg.UpdateNewChannelMessage{Message: channelPost(10, false)}),
			wantAccepted: true,
			wantKind:     EventMessage,
			wantChannel:  testChannelID,
			wantIDs:      "[10]",
		},
		{
			name: "edited channel service message",
			raw: envelope(&tg.UpdateEditChannelMessage{Message: &tg.MessageService{
				ID:     11,
				PeerID: &tg.PeerChannel{ChannelID: testChannelID},
				Action: &tg.MessageActionPinMessage{},
			}}),
			wantAccepted: true,
			wantKind:     EventEdit,
			wantChannel:  testChannelID,
			wantIDs:      "[11]",
		},
		{
			name:         "deleted posts",
			raw:          envelope(&tg.UpdateDeleteChannelMessages{ChannelID: 7, Messages: []int{1, 2}}),
			wantAccepted: true,
			wantKind:     EventDelete,
			wantChannel:  7,
			wantIDs:      "[1 2]",
		},
		{
			name:         "pin change",
			raw:          envelope(&tg.UpdatePinnedChannelMessages{ChannelID: 7, Messages: []int{3}, Pinned: true}),
			wantAccepted: true,
			wantKind:     EventPin,
			wantChannel:  7,
			wantIDs:      "[3]",
		},
		{
			name:         "reaction counters",
			raw:          envelope(&tg.UpdateMessageReactions{Peer: &tg.PeerChannel{ChannelID: 7}, MsgID: 4}),
			wantAccepted: true,
			wantKind:     EventReaction,
			wantChannel:  7,
			wantIDs:      "[4]",
		},
		{
			name:         "private reaction is skipped",
			raw:          envelope(&tg.UpdateMessageReactions{Peer: &tg.PeerUser{UserID: 7}, MsgID: 4}),
			wantAccepted: false,
		},
		{
			name: "channel update carrying a private message is skipped",
			raw: envelope(&tg.UpdateNewChannelMessage{Message: &tg.Message{
				ID:     5,
				PeerID: &tg.PeerUser{UserID: 1},
			}}),
			wantAccepted: false,
		},
		{
			name:         "private message update is skipped",
			raw:          envelope(&tg.UpdateNewMessage{Message: &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 1}}}),
			wantAccepted: false,
		},
		{
			name:         "gap",
			raw:          gotdUpdateEnvelope{resync: true, occurredAt: occurredAt},
			wantAccepted: true,
			wantKind:     EventResync,
			wantIDs:      "[]",
		},
		{
			name:         "bare update class",
			raw:          &tg.UpdateDeleteChannelMessages{ChannelID: 9, Messages: []int{8}},
			wantAccepted: true,
			wantKind:     EventDelete,
			wantChannel:  9,
			wantIDs:      "[8]",
		},
		{
			name:    "unsupported raw type",
			raw:     "raw",
			wantErr: true,
		},
	}

	mapper := NewDefaultGotdUpdateMapper()
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			event, accepted, err := mapper.Map(context.Background(), testCase.raw)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("map failed: %v", err)
			}
			if accepted != testCase.wantAccepted {
				t.Fatalf("accepted = %v, want %v", accepted, testCase.wantAccepted)
			}
			if !accepted {
				return
			}
			if event.Kind != testCase.wantKind {
				t.Fatalf("kind = %s, want %s", event.Kind, testCase.wantKind)
			}
			if event.ChannelID != testCase.wantChannel {
				t.Fatalf("channel = %d, want %d", event.ChannelID, testCase.wantChannel)
			}
			if got := fmt.Sprint(nonNilInts(event.MessageIDs)); got != testCase.wantIDs {
				t.Fatalf("message ids = %s, want %s", got, testCase.wantIDs)
			}
			if event.OccurredAt.IsZero() {
				t.Fatal("occurredAt is zero")
			}
		})
	}
}

func TestDefaultGotdUpdateMapperCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := NewDefaultGotdUpdateMapper().Map(ctx, &tg.UpdateDeleteChannelMessages{ChannelID: 1}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestChannelEventTouches(t *testing.T) {
	t.Parallel()

	if !(ChannelEvent{Kind: EventEdit, ChannelID: 3}).Touches(3) {
		t.Fatal("event on channel should touch it")
	}
	if (ChannelEvent{Kind: EventEdit, ChannelID: 4}).Touches(3) {
		t.Fatal("event on another channel should not touch it")
	}
	if !(ChannelEvent{Kind: EventResync}).Touches(3) {
		t.Fatal("resync should touch every channel")
	}
}

func TestMessageRecord(t *testing.T) {
	t.Parallel()

	post := channelPost(42, true)
	post.SetFromID(&tg.PeerUser{UserID: 9})
	post.SetReplies(tg.MessageReplies{Replies: 4})
	post.SetReactions(tg.MessageReactions{Results: []tg.ReactionCount{
		{Reaction: &tg.ReactionEmoji{Emoticon: "👍"}, Count: 3},
		{Reaction: &tg.ReactionEmoji{Emoticon: "🔥"}, Count: 2},
	}})
	post.SetViews(120)
	post.SetMedia(&tg.MessageMediaDocument{})

	record, ok := messageRecord(post)
	if !ok {
		t.Fatal("post was not mapped")
	}
	if record.ID != "42" || record.OrderingKey != 42 || !record.Pinned || !record.Visible {
		t.Fatalf("identity = %+v", record)
	}
	if record.AuthorID != "user:9" {
		t.Fatalf("author = %q, want user:9", record.AuthorID)
	}
	if record.Counters.Replies != 4 || record.Counters.Likes != 5 {
		t.Fatalf("counters = %+v, want 4 replies 5 likes", record.Counters)
	}
	if record.Attributes[AttrViews] != "120" {
		t.Fatalf("attributes = %v", record.Attributes)
	}
	if _, present := record.Attributes[AttrMediaKind]; present {
		t.Fatal("document media without a document should not set media attributes")
	}
	if !record.CreatedAt.Equal(time.Unix(1_700_000_042, 0)) {
		t.Fatalf("created at = %v", record.CreatedAt)
	}

	anonymous, _ := messageRecord(channelPost(43, false))
	if anonymous.AuthorID != fmt.Sprintf("channel:%d", testChannelID) {
		t.Fatalf("anonymous author = %q", anonymous.AuthorID)
	}

	tombstone, ok := messageRecord(&tg.MessageEmpty{ID: 7})
	if !ok || tombstone.Visible || tombstone.ID != "7" {
		t.Fatalf("tombstone = %+v, %v", tombstone, ok)
	}
	if _, ok := messageRecord(&tg.MessageService{ID: 8}); ok {
		t.Fatal("service message should not map to a record")
	}
}

func TestParseReaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token   string
		want    string
		wantErr bool
	}{
		{token: "👍", want: "👍"},
		{token: " paid ", want: "paid"},
		{token: "custom:123", want: "custom:123"},
		{token: "custom:x", wantErr: true},
		{token: "  ", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.token, func(t *testing.T) {
			t.Parallel()

			reaction, err := parseReaction(testCase.token)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if got := reactionToEmoji(reaction); got != testCase.want {
				t.Fatalf("reaction = %q, want %q", got, testCase.want)
			}
		})
	}
}

func nonNilInts(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}
