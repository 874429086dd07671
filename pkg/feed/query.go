package feed

import (
	"fmt"
	"strings"
)

// Well-known filter and ordering field names understood by the bundled stores.
const (
	FieldID          = "id"
	FieldPinned      = "pinned"
	FieldVisible     = "visible"
	FieldAuthorID    = "author_id"
	FieldParentID    = "parent_id"
	FieldOrderingKey = "ordering_key"
)

// PageCursor is an opaque position in a paginated remote sequence.
//
// A cursor is monotonic: once Exhausted is set it stays set until the owner
// resets it explicitly.
type PageCursor struct {
	// Token is the store-specific position; empty means "from the start".
	Token string
	// Exhausted reports that no further pages exist.
	Exhausted bool
}

// Advance returns the cursor after accepting a page.
//
// An exhausted cursor never un-exhausts.
func (c PageCursor) Advance(next PageCursor) PageCursor {
	if c.Exhausted {
		return c
	}
	if next.Token == "" {
		next.Token = c.Token
	}

	return next
}

// Page is one pull result.
type Page struct {
	// Items holds the records of this page in feed order.
	Items []Record
	// Next is the cursor positioned after the last item.
	Next PageCursor
}

// Filter is one equality predicate interpreted by the store.
type Filter struct {
	// Field names the record field, for example FieldPinned.
	Field string
	// Value is the expected value.
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// OrderBy describes the requested ordering.
type OrderBy struct {
	// Field names the ordering field, typically FieldOrderingKey.
	Field string
	// Descending requests newest-first order.
	Descending bool
}

// Query describes one pull request or one push subscription window.
type Query struct {
	// Collection names the remote collection.
	Collection string
	// Filters are conjunctive equality predicates.
	Filters []Filter
	// OrderBy is the requested ordering.
	OrderBy OrderBy
	// Cursor positions the pull request; ignored by subscriptions.
	Cursor PageCursor
	// Limit bounds the page or window size.
	Limit int
}

// Validate checks that mandatory query fields are present.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("validate query: %w: missing collection", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("validate query %s: %w: limit must be > 0", q.Collection, ErrInvalidQuery)
	}
	for index, filter := range q.Filters {
		if strings.TrimSpace(filter.Field) == "" {
			return fmt.Errorf("validate query %s: %w: filters[%d] missing field", q.Collection, ErrInvalidQuery, index)
		}
	}

	return nil
}

// WithFilters returns a copy of q with extra filters appended.
func (q Query) WithFilters(filters ...Filter) Query {
	cloned := q
	cloned.Filters = make([]Filter, 0, len(q.Filters)+len(filters))
	cloned.Filters = append(cloned.Filters, q.Filters...)
	cloned.Filters = append(cloned.Filters, filters...)

	return cloned
}

// WithLimit returns a copy of q with Limit set.
func (q Query) WithLimit(limit int) Query {
	q.Limit = limit
	return q
}

// FilterValue returns the value of the first filter on field.
func (q Query) FilterValue(field string) (any, bool) {
	for _, filter := range q.Filters {
		if filter.Field == field {
			return filter.Value, true
		}
	}

	return nil, false
}

// RecencyOrder is the default newest-first ordering.
func RecencyOrder() OrderBy {
	return OrderBy{Field: FieldOrderingKey, Descending: true}
}
