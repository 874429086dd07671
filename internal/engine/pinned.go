package engine

import (
	"context"
	"fmt"

	"ex-feedsync/pkg/feed"
)

// PinnedSetManager owns the small pinned head of the feed.
//
// The set is loaded once per epoch before the first regular page is applied.
// Push snapshots received before the initial load completes are held pending
// and only applied on completion. Like PaginationController, only LoadInitial
// may run off the sequencer.
type PinnedSetManager struct {
	store    feed.DocumentStore
	query    feed.Query
	capacity int

	visible    []feed.Record
	pending    []feed.Record
	hasPending bool
}

// NewPinnedSetManager creates an empty manager over query.
func NewPinnedSetManager(store feed.DocumentStore, query feed.Query, capacity int) *PinnedSetManager {
	if capacity <= 0 {
		capacity = defaultPinnedCapacity
	}
	query.Limit = capacity

	return &PinnedSetManager{
		store:    store,
		query:    query,
		capacity: capacity,
	}
}

// Capacity returns the pinned set bound.
func (m *PinnedSetManager) Capacity() int {
	return m.capacity
}

// LoadInitial queries the pinned records for the current epoch without
// mutating the manager.
func (m *PinnedSetManager) LoadInitial(ctx context.Context) ([]feed.Record, error) {
	op := fmt.Sprintf("query %s pinned", m.query.Collection)
	page, err := m.store.Query(ctx, m.query)
	if err != nil {
		return nil, feed.ClassifyFetchError(op, err, feed.FetchErrorServer)
	}
	for index, record := range page.Items {
		if err := record.Validate(); err != nil {
			return nil, feed.NewFetchError(feed.FetchErrorDecode, op, fmt.Errorf("items[%d]: %w", index, err))
		}
	}

	return page.Items, nil
}

// SetInitial installs the result of LoadInitial.
func (m *PinnedSetManager) SetInitial(records []feed.Record) {
	m.visible = m.normalize(records)
}

// ApplyPushSnapshot replaces the visible set, or records the snapshot as
// pending when the initial load has not completed yet. It reports whether the
// visible set changed.
func (m *PinnedSetManager) ApplyPushSnapshot(records []feed.Record, initialLoadComplete bool) bool {
	if !initialLoadComplete {
		m.pending = feed.CloneRecords(records)
		m.hasPending = true
		return false
	}

	return m.replace(records)
}

// CompleteInitialLoad applies a pending push snapshot, if any, and reports
// whether the visible set changed.
func (m *PinnedSetManager) CompleteInitialLoad() bool {
	if !m.hasPending {
		return false
	}
	pending := m.pending
	m.pending = nil
	m.hasPending = false

	return m.replace(pending)
}

// HasPending reports whether a push snapshot is waiting for the initial load.
func (m *PinnedSetManager) HasPending() bool {
	return m.hasPending
}

// Remove drops id from the visible set and reports whether it was present.
func (m *PinnedSetManager) Remove(id string) bool {
	for index, record := range m.visible {
		if record.ID != id {
			continue
		}
		m.visible = append(m.visible[:index:index], m.visible[index+1:]...)
		return true
	}

	return false
}

// Find returns the visible pinned record with id.
func (m *PinnedSetManager) Find(id string) *feed.Record {
	for index := range m.visible {
		if m.visible[index].ID == id {
			return &m.visible[index]
		}
	}

	return nil
}

// Records returns the live visible set. Callers must not retain it across operations.
func (m *PinnedSetManager) Records() []feed.Record {
	return m.visible
}

// Reset clears the visible and pending sets.
func (m *PinnedSetManager) Reset() {
	m.visible = nil
	m.pending = nil
	m.hasPending = false
}

func (m *PinnedSetManager) replace(records []feed.Record) bool {
	next := m.normalize(records)
	changed := !sameRecords(m.visible, next)
	m.visible = next

	return changed
}

// normalize drops hidden and duplicate records, sorts, and truncates to capacity.
func (m *PinnedSetManager) normalize(records []feed.Record) []feed.Record {
	normalized := make([]feed.Record, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		if !record.Visible {
			continue
		}
		if _, exists := seen[record.ID]; exists {
			continue
		}
		seen[record.ID] = struct{}{}
		normalized = append(normalized, record.Clone())
	}
	feed.SortRecords(normalized)
	if len(normalized) > m.capacity {
		normalized = normalized[:m.capacity]
	}

	return normalized
}

// sameRecords compares ids, order, visibility and counters.
func sameRecords(left []feed.Record, right []feed.Record) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index].ID != right[index].ID ||
			left[index].Visible != right[index].Visible ||
			left[index].Counters != right[index].Counters {
			return false
		}
	}

	return true
}
