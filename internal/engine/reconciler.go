package engine

import (
	"maps"
	"slices"

	"ex-feedsync/pkg/feed"
)

// ReconcileResult reports the effect of one push snapshot.
type ReconcileResult struct {
	// Changed is the content-change signal: the visible id set changed or a
	// carried counter changed.
	Changed bool
	// RepliesChanged lists ids whose reply counter changed.
	RepliesChanged []string
	// Replaced reports that the regular segment content was replaced.
	Replaced bool
}

func (r ReconcileResult) merge(other ReconcileResult) ReconcileResult {
	r.Changed = r.Changed || other.Changed
	r.Replaced = r.Replaced || other.Replaced
	r.RepliesChanged = append(r.RepliesChanged, other.RepliesChanged...)

	return r
}

// RealtimeReconciler merges push snapshots into pinned and regular state.
//
// While the regular segment is no longer than the push window the window
// replaces it; once the user has paginated past the window only counters and
// visibility are copied forward, never position or identity. It must only run
// on the sequencer goroutine.
type RealtimeReconciler struct {
	pushWindow int
	pinned     *PinnedSetManager
	pagination *PaginationController

	// pushed holds the latest push values of records older than the segment
	// tail so later pages pick them up regardless of arrival order. It never
	// holds more than pushWindow entries.
	pushed     map[string]feed.Record
	pending    []feed.Record
	hasPending bool
}

// NewRealtimeReconciler creates a reconciler over the given state owners.
func NewRealtimeReconciler(pushWindow int, pinned *PinnedSetManager, pagination *PaginationController) *RealtimeReconciler {
	if pushWindow <= 0 {
		pushWindow = defaultPushWindow
	}

	return &RealtimeReconciler{
		pushWindow: pushWindow,
		pinned:     pinned,
		pagination: pagination,
		pushed:     make(map[string]feed.Record),
	}
}

// PushWindow returns the push window size.
func (r *RealtimeReconciler) PushWindow() int {
	return r.pushWindow
}

// OnSnapshot applies one full push window.
func (r *RealtimeReconciler) OnSnapshot(records []feed.Record, initialLoadComplete bool) ReconcileResult {
	pinned := make([]feed.Record, 0)
	unpinned := make([]feed.Record, 0, len(records))
	for _, record := range records {
		if record.Pinned {
			pinned = append(pinned, record.Clone())
			continue
		}
		unpinned = append(unpinned, record.Clone())
	}
	feed.SortRecords(pinned)
	feed.SortRecords(unpinned)
	unpinned = dedupeSorted(unpinned)
	if len(unpinned) > r.pushWindow {
		unpinned = unpinned[:r.pushWindow]
	}

	result := ReconcileResult{
		Changed: r.pinned.ApplyPushSnapshot(pinned, initialLoadComplete),
	}
	if !initialLoadComplete {
		r.pending = unpinned
		r.hasPending = true
		return result
	}

	return result.merge(r.applyWindow(unpinned))
}

// CompleteInitialLoad applies snapshots held back while loading.
func (r *RealtimeReconciler) CompleteInitialLoad() ReconcileResult {
	result := ReconcileResult{Changed: r.pinned.CompleteInitialLoad()}
	if !r.hasPending {
		return result
	}
	pending := r.pending
	r.pending = nil
	r.hasPending = false

	return result.merge(r.applyWindow(pending))
}

// Overlay refreshes mutable fields of a freshly paged record from push data.
func (r *RealtimeReconciler) Overlay(record *feed.Record) {
	pushed, ok := r.pushed[record.ID]
	if !ok {
		return
	}
	feed.MergeMutable(record, pushed)
	delete(r.pushed, record.ID)
}

// Reset forgets pending and remembered push data.
func (r *RealtimeReconciler) Reset() {
	r.pushed = make(map[string]feed.Record)
	r.pending = nil
	r.hasPending = false
}

func (r *RealtimeReconciler) applyWindow(window []feed.Record) ReconcileResult {
	segment := r.pagination.Segment()
	visibleBefore := visibleIDs(segment, r.pagination.ShownCount())

	var result ReconcileResult
	if len(segment) <= r.pushWindow {
		result = r.replaceSegment(segment, window)
	} else {
		result = r.mergeSegment(window)
	}

	visibleAfter := visibleIDs(r.pagination.Segment(), r.pagination.ShownCount())
	result.Changed = result.Changed || !slices.Equal(visibleBefore, visibleAfter)

	return result
}

// replaceSegment installs the window, keeping paged records strictly older
// than the oldest window record so the cursor stays contiguous.
func (r *RealtimeReconciler) replaceSegment(segment []feed.Record, window []feed.Record) ReconcileResult {
	previous := make(map[string]feed.Counters, len(segment))
	for _, record := range segment {
		previous[record.ID] = record.Counters
	}

	next := feed.CloneRecords(window)
	if next == nil {
		next = make([]feed.Record, 0)
	}
	inWindow := make(map[string]struct{}, len(window))
	for _, record := range window {
		inWindow[record.ID] = struct{}{}
		delete(r.pushed, record.ID)
	}
	if len(window) > 0 {
		oldest := window[len(window)-1]
		for _, record := range segment {
			if _, exists := inWindow[record.ID]; exists {
				continue
			}
			if feed.Less(oldest, record) {
				next = append(next, record)
			}
		}
	}

	result := ReconcileResult{Replaced: true}
	for _, record := range next {
		counters, existed := previous[record.ID]
		if !existed {
			continue
		}
		if counters != record.Counters {
			result.Changed = true
		}
		if counters.Replies != record.Counters.Replies {
			result.RepliesChanged = append(result.RepliesChanged, record.ID)
		}
	}
	r.pagination.Replace(next)

	return result
}

// mergeSegment copies counters and visibility into records already paged.
func (r *RealtimeReconciler) mergeSegment(window []feed.Record) ReconcileResult {
	segment := r.pagination.Segment()
	tail := segment[len(segment)-1]

	var result ReconcileResult
	for _, pushed := range window {
		current := r.pagination.Find(pushed.ID)
		if current == nil {
			if feed.Less(tail, pushed) {
				r.pushed[pushed.ID] = pushed
			}
			continue
		}
		previousReplies := current.Counters.Replies
		previousCounters := current.Counters
		feed.MergeMutable(current, pushed)
		if previousCounters != current.Counters {
			result.Changed = true
		}
		if previousReplies != current.Counters.Replies {
			result.RepliesChanged = append(result.RepliesChanged, pushed.ID)
		}
	}
	r.prunePushed(tail)

	return result
}

// prunePushed drops remembered records no later page can return and keeps at
// most pushWindow entries, preferring those closest to tail.
func (r *RealtimeReconciler) prunePushed(tail feed.Record) {
	for id, record := range r.pushed {
		if !feed.Less(tail, record) {
			delete(r.pushed, id)
		}
	}
	if len(r.pushed) <= r.pushWindow {
		return
	}

	remembered := slices.Collect(maps.Values(r.pushed))
	feed.SortRecords(remembered)
	for _, record := range remembered[r.pushWindow:] {
		delete(r.pushed, record.ID)
	}
}

// Remembered returns how many pushed records wait for a later page.
func (r *RealtimeReconciler) Remembered() int {
	return len(r.pushed)
}

// visibleIDs returns the revealed visible ids in order.
func visibleIDs(segment []feed.Record, shownCount int) []string {
	shownCount = min(shownCount, len(segment))
	ids := make([]string, 0, shownCount)
	for _, record := range segment[:shownCount] {
		if record.Visible {
			ids = append(ids, record.ID)
		}
	}

	return ids
}

// dedupeSorted drops repeated ids, keeping the first occurrence.
func dedupeSorted(records []feed.Record) []feed.Record {
	seen := make(map[string]struct{}, len(records))
	deduped := records[:0]
	for _, record := range records {
		if _, exists := seen[record.ID]; exists {
			continue
		}
		seen[record.ID] = struct{}{}
		deduped = append(deduped, record)
	}

	return deduped
}
