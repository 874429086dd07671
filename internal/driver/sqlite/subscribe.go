package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"sync"
	"time"

	"ex-feedsync/pkg/feed"
)

// Subscribe tails the newest window described by query.
//
// The window is re-read every poll interval and whenever a write through this
// store touches the collection. onSnapshot fires for the first read and after
// that only when the window content changed.
func (s *Store) Subscribe(
	ctx context.Context,
	query feed.Query,
	onSnapshot feed.SnapshotHandler,
	onError feed.ErrorHandler,
) (feed.Subscription, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("subscribe %s: nil snapshot handler", query.Collection)
	}
	query.Cursor = feed.PageCursor{}
	if _, _, err := buildSelect(query); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", query.Collection, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", query.Collection, feed.ErrSubscriptionClosed)
	}
	s.nextSubID++
	id := s.nextSubID
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		name:       fmt.Sprintf("sqlite:%s#%d", query.Collection, id),
		collection: query.Collection,
		wakeCh:     make(chan struct{}, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	sub.release = func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	s.subs[id] = sub
	s.mu.Unlock()

	go sub.run(runCtx, s, query, onSnapshot, onError)

	return sub, nil
}

// wake nudges every subscription on collection without blocking.
func (s *Store) wake(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		select {
		case sub.wakeCh <- struct{}{}:
		default:
		}
	}
}

type subscription struct {
	name       string
	collection string
	wakeCh     chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
	release    func()
	closeOnce  sync.Once
}

// Name returns the subscription identifier.
func (s *subscription) Name() string {
	return s.name
}

// Close stops polling and waits for the poller to exit or ctx to end.
func (s *subscription) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.release()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close subscription %s: %w", s.name, ctx.Err())
	}
}

func (s *subscription) run(
	ctx context.Context,
	store *Store,
	query feed.Query,
	onSnapshot feed.SnapshotHandler,
	onError feed.ErrorHandler,
) {
	defer close(s.done)

	ticker := time.NewTicker(store.cfg.pollInterval)
	defer ticker.Stop()

	var (
		delivered   bool
		fingerprint uint64
	)
	for {
		page, err := store.Query(ctx, query)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			store.logger.WarnContext(ctx, "subscription poll failed",
				"subscription", s.name,
				"error", err,
			)
			if onError != nil {
				onError(ctx, err)
			}
		default:
			current := windowFingerprint(page.Items)
			if !delivered || current != fingerprint {
				delivered = true
				fingerprint = current
				onSnapshot(ctx, page.Items)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wakeCh:
		}
	}
}

// windowFingerprint hashes every field a snapshot consumer can observe.
func windowFingerprint(records []feed.Record) uint64 {
	hasher := fnv.New64a()
	var scratch [8]byte
	writeInt := func(value int64) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(value))
		_, _ = hasher.Write(scratch[:])
	}
	writeString := func(value string) {
		writeInt(int64(len(value)))
		_, _ = hasher.Write([]byte(value))
	}
	writeBool := func(value bool) {
		if value {
			writeInt(1)
			return
		}
		writeInt(0)
	}

	writeInt(int64(len(records)))
	for _, record := range records {
		writeString(record.ID)
		writeBool(record.Pinned)
		writeInt(record.OrderingKey)
		writeBool(record.Visible)
		writeInt(record.Counters.Replies)
		writeInt(record.Counters.Likes)
		writeString(record.AuthorID)
		writeString(record.ParentID)
		writeString(record.Body)
		writeInt(int64(len(record.MediaURLs)))
		for _, url := range record.MediaURLs {
			writeString(url)
		}
		writeInt(int64(len(record.Attributes)))
		for _, key := range slices.Sorted(maps.Keys(record.Attributes)) {
			writeString(key)
			writeString(record.Attributes[key])
		}
		writeInt(record.CreatedAt.UnixNano())
	}

	return hasher.Sum64()
}
