package feed

import (
	"fmt"
	"time"
)

// Profile attribute keys decoded from a profile record.
const (
	ProfileAttrDisplayName = "display_name"
	ProfileAttrAvatarURL   = "avatar_url"
)

// Profile is an author profile decoded from a profile-collection record.
type Profile struct {
	// ID is the profile record id.
	ID string
	// DisplayName is the rendered author name.
	DisplayName string
	// AvatarURL addresses the avatar media object.
	AvatarURL string
	// Attributes carries every remaining field unchanged.
	Attributes map[string]string
}

// ProfileFromRecord decodes a profile record.
//
// The display name falls back to the record body when the attribute is absent.
func ProfileFromRecord(record Record) (Profile, error) {
	if err := record.Validate(); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	profile := Profile{
		ID:         record.ID,
		Attributes: make(map[string]string, len(record.Attributes)),
	}
	for key, value := range record.Attributes {
		switch key {
		case ProfileAttrDisplayName:
			profile.DisplayName = value
		case ProfileAttrAvatarURL:
			profile.AvatarURL = value
		default:
			profile.Attributes[key] = value
		}
	}
	if profile.DisplayName == "" {
		profile.DisplayName = record.Body
	}
	if profile.AvatarURL == "" && len(record.MediaURLs) > 0 {
		profile.AvatarURL = record.MediaURLs[0]
	}

	return profile, nil
}

// CommentPage is the first page of comments attached to one item.
type CommentPage struct {
	// ItemID is the parent item id.
	ItemID string
	// Comments are the comment records in feed order.
	Comments []Record
	// Next positions a follow-up comment fetch.
	Next PageCursor
	// FetchedAt is when the page was pulled.
	FetchedAt time.Time
}

// GovernorState is a point-in-time copy of the request governor bookkeeping.
type GovernorState struct {
	// LastRequestAt is when the last admitted request was issued.
	LastRequestAt time.Time
	// ConsecutiveFailures counts failures since the last success or circuit trip.
	ConsecutiveFailures uint32
	// CircuitOpenUntil is set while the circuit breaker is open.
	CircuitOpenUntil *time.Time
}
