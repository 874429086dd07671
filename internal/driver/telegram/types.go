package telegram

import "time"

// EventKind identifies the channel change category carried by an update.
type EventKind string

const (
	// EventMessage identifies new channel posts.
	EventMessage EventKind = "message"
	// EventEdit identifies edited channel posts.
	EventEdit EventKind = "edit"
	// EventDelete identifies deleted channel posts.
	EventDelete EventKind = "delete"
	// EventReaction identifies reaction counter changes.
	EventReaction EventKind = "reaction"
	// EventPin identifies pin and unpin changes.
	EventPin EventKind = "pin"
	// EventResync identifies a gap after which every window must be re-read.
	EventResync EventKind = "resync"
)

// ChannelEvent is the adapter's projection of one gotd update.
//
// The store never applies events incrementally; any event on the served
// channel marks subscription windows dirty.
type ChannelEvent struct {
	Kind       EventKind
	ChannelID  int64
	MessageIDs []int
	OccurredAt time.Time
}

// Touches reports whether the event may change windows of channelID.
func (e ChannelEvent) Touches(channelID int64) bool {
	return e.Kind == EventResync || e.ChannelID == channelID
}
