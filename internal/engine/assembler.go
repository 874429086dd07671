package engine

import "ex-feedsync/pkg/feed"

// Assemble derives the visible feed from pinned and regular state.
//
// The view is the pinned set followed by the revealed regular prefix with
// hidden records filtered out. hasMore is false only when the cursor is
// exhausted and everything fetched has been revealed.
func Assemble(pinned []feed.Record, regular []feed.Record, shownCount int, exhausted bool) ([]feed.Record, bool) {
	shownCount = max(0, min(shownCount, len(regular)))

	view := make([]feed.Record, 0, len(pinned)+shownCount)
	for _, record := range pinned {
		view = append(view, record.Clone())
	}
	for _, record := range regular[:shownCount] {
		if !record.Visible {
			continue
		}
		view = append(view, record.Clone())
	}

	return view, !exhausted || shownCount < len(regular)
}
