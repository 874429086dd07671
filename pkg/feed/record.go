package feed

import (
	"fmt"
	"sort"
	"time"
)

// Counters stores the mutable engagement counters carried by a record.
type Counters struct {
	// Replies is the number of comments attached to the record.
	Replies int64
	// Likes is the number of votes or reactions on the record.
	Likes int64
}

// Record is one item of the remote collection.
//
// ID is the immutable identity used for list membership. Pinned, Visible and
// Counters are mutable and may be updated in place by reconciliation; every
// other field is carried through unchanged.
type Record struct {
	// ID identifies the record within its collection.
	ID string
	// Pinned marks records that belong to the head-of-feed pinned set.
	Pinned bool
	// OrderingKey is monotonically comparable, typically creation time or a sequence.
	OrderingKey int64
	// Visible is false for deleted or moderated-out records.
	Visible bool
	// Counters carries reply and like counts.
	Counters Counters
	// AuthorID references the author profile record.
	AuthorID string
	// ParentID references the parent item for comment records.
	ParentID string
	// Body is the textual content.
	Body string
	// MediaURLs lists media objects fetched through a MediaStore.
	MediaURLs []string
	// Attributes carries moderation and business fields the engine does not interpret.
	Attributes map[string]string
	// CreatedAt records when the record was created upstream.
	CreatedAt time.Time
}

// Validate checks that mandatory record fields are present.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("validate record: %w: missing id", ErrInvalidRecord)
	}

	return nil
}

// Clone returns a deep copy that shares no slices or maps with r.
func (r Record) Clone() Record {
	cloned := r
	if r.MediaURLs != nil {
		cloned.MediaURLs = append([]string(nil), r.MediaURLs...)
	}
	if r.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(r.Attributes))
		for key, value := range r.Attributes {
			cloned.Attributes[key] = value
		}
	}

	return cloned
}

// Less reports whether a sorts before b in feed order: OrderingKey descending,
// ties broken by ID descending.
func Less(a, b Record) bool {
	if a.OrderingKey != b.OrderingKey {
		return a.OrderingKey > b.OrderingKey
	}

	return a.ID > b.ID
}

// SortRecords sorts records in feed order in place.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}

// IsSorted reports whether records are in feed order.
func IsSorted(records []Record) bool {
	return sort.SliceIsSorted(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}

// MergeMutable copies the mutable counters and visibility flag from src into
// dst, never identity or position, and reports whether dst changed.
func MergeMutable(dst *Record, src Record) bool {
	if dst == nil {
		return false
	}

	changed := dst.Counters != src.Counters || dst.Visible != src.Visible
	dst.Counters = src.Counters
	dst.Visible = src.Visible

	return changed
}

// CloneRecords deep-copies a record slice.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}

	cloned := make([]Record, len(records))
	for index, record := range records {
		cloned[index] = record.Clone()
	}

	return cloned
}

// IndexByID maps record ids to their positions. Later duplicates are ignored.
func IndexByID(records []Record) map[string]int {
	index := make(map[string]int, len(records))
	for position, record := range records {
		if _, exists := index[record.ID]; exists {
			continue
		}
		index[record.ID] = position
	}

	return index
}
