package engine

import (
	"context"
	"fmt"

	"ex-feedsync/pkg/feed"
)

// PageOutcome reports what one FetchNextPage call did.
type PageOutcome string

const (
	// OutcomeAccepted means a page was fetched and applied.
	OutcomeAccepted PageOutcome = "accepted"
	// OutcomeNothingToDo means the cursor is exhausted or a fetch is already in flight.
	OutcomeNothingToDo PageOutcome = "nothing_to_do"
)

// PageResult summarizes one page acceptance.
type PageResult struct {
	// Outcome reports whether a page was applied.
	Outcome PageOutcome
	// Appended counts new records added to the regular segment.
	Appended int
	// Duplicates counts page records dropped because their id was already present.
	Duplicates int
	// ShownCount is the watermark after acceptance.
	ShownCount int
	// Total is the regular segment length after acceptance.
	Total int
	// Exhausted reports the cursor state after acceptance.
	Exhausted bool
}

// PaginationController owns the cursor-paginated regular segment.
//
// Except for Fetch, every method mutates state and must only run on the
// sequencer goroutine. Fetch reads immutable configuration and performs I/O
// off the sequencer.
type PaginationController struct {
	store    feed.DocumentStore
	query    feed.Query
	pageSize int

	segment    []feed.Record
	ids        map[string]struct{}
	shownCount int
	cursor     feed.PageCursor
	inFlight   bool

	// pulled holds every id a page has delivered since the last Reset. Push
	// replacement never touches it.
	pulled map[string]struct{}
}

// NewPaginationController creates an empty controller over query.
func NewPaginationController(store feed.DocumentStore, query feed.Query, pageSize int) *PaginationController {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	query.Limit = pageSize

	return &PaginationController{
		store:    store,
		query:    query,
		pageSize: pageSize,
		ids:      make(map[string]struct{}),
		pulled:   make(map[string]struct{}),
	}
}

// PageSize returns the requested page size.
func (p *PaginationController) PageSize() int {
	return p.pageSize
}

// Begin marks a fetch as in flight and returns the cursor to fetch from.
//
// It returns false when the cursor is exhausted or a fetch is already running.
func (p *PaginationController) Begin() (feed.PageCursor, bool) {
	if p.cursor.Exhausted || p.inFlight {
		return feed.PageCursor{}, false
	}
	p.inFlight = true

	return p.cursor, true
}

// InFlight reports whether a fetch has begun and not yet completed.
func (p *PaginationController) InFlight() bool {
	return p.inFlight
}

// Fetch pulls the page positioned at cursor.
func (p *PaginationController) Fetch(ctx context.Context, cursor feed.PageCursor) (feed.Page, error) {
	query := p.query
	query.Cursor = cursor

	op := fmt.Sprintf("query %s page", query.Collection)
	page, err := p.store.Query(ctx, query)
	if err != nil {
		return feed.Page{}, feed.ClassifyFetchError(op, err, feed.FetchErrorServer)
	}
	for index, record := range page.Items {
		if err := record.Validate(); err != nil {
			return feed.Page{}, feed.NewFetchError(
				feed.FetchErrorDecode,
				op,
				fmt.Errorf("items[%d]: %w", index, err),
			)
		}
	}

	return page, nil
}

// Fail clears the in-flight mark after a failed fetch.
func (p *PaginationController) Fail() {
	p.inFlight = false
}

// Accept applies a fetched page.
//
// Records already present are dropped, new ones are appended and the segment
// is kept in feed order. The watermark advances by up to one page of records
// no earlier page delivered, whether or not a push already placed them in the
// segment, and never past the segment length. overlay, when set, refreshes
// mutable fields of each appended record.
func (p *PaginationController) Accept(page feed.Page, overlay func(*feed.Record)) PageResult {
	p.inFlight = false
	if p.cursor.Exhausted {
		return p.result(OutcomeNothingToDo, 0, len(page.Items))
	}

	appended, duplicates, newlyPulled := 0, 0, 0
	for _, record := range page.Items {
		if _, seen := p.pulled[record.ID]; !seen {
			p.pulled[record.ID] = struct{}{}
			newlyPulled++
		}
		if _, exists := p.ids[record.ID]; exists {
			duplicates++
			continue
		}
		cloned := record.Clone()
		if overlay != nil {
			overlay(&cloned)
		}
		p.segment = append(p.segment, cloned)
		p.ids[cloned.ID] = struct{}{}
		appended++
	}
	if appended > 0 {
		feed.SortRecords(p.segment)
	}

	next := page.Next
	if len(page.Items) < p.pageSize {
		next.Exhausted = true
	}
	p.cursor = p.cursor.Advance(next)

	p.shownCount = min(p.shownCount+min(p.pageSize, newlyPulled), len(p.segment))

	return p.result(OutcomeAccepted, appended, duplicates)
}

// Reveal advances the watermark by one page and returns how many records were
// revealed.
func (p *PaginationController) Reveal() int {
	next := min(p.shownCount+p.pageSize, len(p.segment))
	revealed := next - p.shownCount
	p.shownCount = next

	return revealed
}

// Replace swaps the segment content, keeping the watermark no larger than the
// new length.
func (p *PaginationController) Replace(records []feed.Record) {
	p.segment = records
	p.ids = make(map[string]struct{}, len(records))
	for _, record := range records {
		p.ids[record.ID] = struct{}{}
	}
	p.shownCount = min(p.shownCount, len(records))
}

// Reset clears segment, cursor and watermark.
func (p *PaginationController) Reset() {
	p.segment = nil
	p.ids = make(map[string]struct{})
	p.pulled = make(map[string]struct{})
	p.shownCount = 0
	p.cursor = feed.PageCursor{}
	p.inFlight = false
}

// Segment returns the live segment. Callers must not retain it across operations.
func (p *PaginationController) Segment() []feed.Record {
	return p.segment
}

// Contains reports whether id is in the segment.
func (p *PaginationController) Contains(id string) bool {
	_, ok := p.ids[id]
	return ok
}

// Find returns the segment record with id.
func (p *PaginationController) Find(id string) *feed.Record {
	if !p.Contains(id) {
		return nil
	}
	for index := range p.segment {
		if p.segment[index].ID == id {
			return &p.segment[index]
		}
	}

	return nil
}

// ShownCount returns the watermark.
func (p *PaginationController) ShownCount() int {
	return p.shownCount
}

// Cursor returns the current cursor.
func (p *PaginationController) Cursor() feed.PageCursor {
	return p.cursor
}

// Exhausted reports whether the cursor is exhausted.
func (p *PaginationController) Exhausted() bool {
	return p.cursor.Exhausted
}

func (p *PaginationController) result(outcome PageOutcome, appended int, duplicates int) PageResult {
	return PageResult{
		Outcome:    outcome,
		Appended:   appended,
		Duplicates: duplicates,
		ShownCount: p.shownCount,
		Total:      len(p.segment),
		Exhausted:  p.cursor.Exhausted,
	}
}
