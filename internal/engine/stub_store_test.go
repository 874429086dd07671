package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"ex-feedsync/pkg/feed"
)

// stubStore is an in-memory DocumentStore and RecordWriter with keyset
// cursors and manually triggered push deliveries.
type stubStore struct {
	mu          sync.Mutex
	collections map[string][]feed.Record
	queries     map[string]int
	queryErr    error
	queryHook   func(ctx context.Context, query feed.Query) error
	subs        []*stubSubscription
	nextSubID   int
	writeErr    error
	votes       int
	deletes     int
}

type stubSubscription struct {
	id         int
	store      *stubStore
	query      feed.Query
	onSnapshot feed.SnapshotHandler
	onError    feed.ErrorHandler
	closed     bool
}

func newStubStore() *stubStore {
	return &stubStore{
		collections: make(map[string][]feed.Record),
		queries:     make(map[string]int),
	}
}

func (s *stubStore) put(collection string, records ...feed.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.collections[collection]
	for _, record := range records {
		replaced := false
		for index := range existing {
			if existing[index].ID == record.ID {
				existing[index] = record.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, record.Clone())
		}
	}
	feed.SortRecords(existing)
	s.collections[collection] = existing
}

func (s *stubStore) setQueryErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queryErr = err
}

func (s *stubStore) setQueryHook(hook func(ctx context.Context, query feed.Query) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queryHook = hook
}

func (s *stubStore) queryCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queries[collection]
}

func (s *stubStore) Query(ctx context.Context, query feed.Query) (feed.Page, error) {
	s.mu.Lock()
	hook := s.queryHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, query); err != nil {
			return feed.Page{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries[query.Collection]++
	if s.queryErr != nil {
		return feed.Page{}, s.queryErr
	}

	matching := s.window(query)
	if query.Cursor.Token != "" {
		after, err := parseStubCursor(query.Cursor.Token)
		if err != nil {
			return feed.Page{}, err
		}
		filtered := matching[:0]
		for _, record := range matching {
			if feed.Less(after, record) {
				filtered = append(filtered, record)
			}
		}
		matching = filtered
	}

	exhausted := len(matching) < query.Limit
	if len(matching) > query.Limit {
		matching = matching[:query.Limit]
	}
	next := feed.PageCursor{Exhausted: exhausted}
	if len(matching) > 0 {
		last := matching[len(matching)-1]
		next.Token = fmt.Sprintf("%d|%s", last.OrderingKey, last.ID)
	}

	return feed.Page{Items: feed.CloneRecords(matching), Next: next}, nil
}

// window returns every record matching the query filters in feed order.
func (s *stubStore) window(query feed.Query) []feed.Record {
	matching := make([]feed.Record, 0)
	for _, record := range s.collections[query.Collection] {
		if stubMatches(record, query.Filters) {
			matching = append(matching, record.Clone())
		}
	}

	return matching
}

func stubMatches(record feed.Record, filters []feed.Filter) bool {
	for _, filter := range filters {
		switch filter.Field {
		case feed.FieldID:
			if record.ID != filter.Value {
				return false
			}
		case feed.FieldPinned:
			if record.Pinned != filter.Value {
				return false
			}
		case feed.FieldVisible:
			if record.Visible != filter.Value {
				return false
			}
		case feed.FieldParentID:
			if record.ParentID != filter.Value {
				return false
			}
		}
	}

	return true
}

func parseStubCursor(token string) (feed.Record, error) {
	key, id, ok := strings.Cut(token, "|")
	if !ok {
		return feed.Record{}, feed.ErrInvalidCursor
	}
	orderingKey, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return feed.Record{}, feed.ErrInvalidCursor
	}

	return feed.Record{ID: id, OrderingKey: orderingKey}, nil
}

func (s *stubStore) Subscribe(
	_ context.Context,
	query feed.Query,
	onSnapshot feed.SnapshotHandler,
	onError feed.ErrorHandler,
) (feed.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	sub := &stubSubscription{
		id:         s.nextSubID,
		store:      s,
		query:      query,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	s.subs = append(s.subs, sub)

	return sub, nil
}

// push delivers the current window of every open subscription.
func (s *stubStore) push(ctx context.Context) {
	s.mu.Lock()
	type delivery struct {
		handler feed.SnapshotHandler
		records []feed.Record
	}
	deliveries := make([]delivery, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.closed {
			continue
		}
		records := s.window(sub.query)
		if len(records) > sub.query.Limit {
			records = records[:sub.query.Limit]
		}
		deliveries = append(deliveries, delivery{handler: sub.onSnapshot, records: records})
	}
	s.mu.Unlock()

	for _, entry := range deliveries {
		entry.handler(ctx, entry.records)
	}
}

// pushError reports err to every open subscription.
func (s *stubStore) pushError(ctx context.Context, err error) {
	s.mu.Lock()
	handlers := make([]feed.ErrorHandler, 0, len(s.subs))
	for _, sub := range s.subs {
		if !sub.closed {
			handlers = append(handlers, sub.onError)
		}
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, err)
	}
}

func (s *stubStore) openSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	for _, sub := range s.subs {
		if !sub.closed {
			open++
		}
	}

	return open
}

func (s *stubStore) Vote(_ context.Context, collection string, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	for index := range s.collections[collection] {
		if s.collections[collection][index].ID == id {
			s.collections[collection][index].Counters.Likes += delta
			s.votes++
			return nil
		}
	}

	return feed.ErrRecordNotFound
}

func (s *stubStore) SetVisible(_ context.Context, collection string, id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	for index := range s.collections[collection] {
		if s.collections[collection][index].ID == id {
			s.collections[collection][index].Visible = visible
			s.deletes++
			return nil
		}
	}

	return feed.ErrRecordNotFound
}

func (s *stubSubscription) Name() string {
	return fmt.Sprintf("stub-%d", s.id)
}

func (s *stubSubscription) Close(context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.closed = true
	return nil
}

// readOnlyStore hides the RecordWriter capability of its store.
type readOnlyStore struct {
	feed.DocumentStore
}

func regularRecord(id string, key int64) feed.Record {
	return feed.Record{ID: id, OrderingKey: key, Visible: true}
}

func pinnedRecord(id string, key int64) feed.Record {
	return feed.Record{ID: id, OrderingKey: key, Visible: true, Pinned: true}
}

func recordIDs(records []feed.Record) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}

	return ids
}
