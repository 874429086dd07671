package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ex-feedsync/pkg/feed"
)

// Subscribe tails the newest window described by query.
//
// The window is read once the session is ready and again after every channel
// event. A failed read is reported through onError and retried after the
// configured delay.
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
	if _, err := planQuery(query); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", query.Collection, err)
	}
	query.Cursor = feed.PageCursor{}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", query.Collection, feed.ErrSubscriptionClosed)
	}
	s.nextSubID++
	id := s.nextSubID
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		name:   fmt.Sprintf("telegram:%d:%s#%d", s.channelID, query.Collection, id),
		dirty:  make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.release = func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	sub.dirty <- struct{}{}
	s.subs[id] = sub
	s.mu.Unlock()

	go sub.run(runCtx, s, query, onSnapshot, onError)

	return sub, nil
}

// markDirty nudges every subscription without blocking.
func (s *Store) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		sub.markDirty()
	}
}

type subscription struct {
	name      string
	dirty     chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	release   func()
	closeOnce sync.Once
}

// Name returns the subscription identifier.
func (s *subscription) Name() string {
	return s.name
}

// Close stops the subscription and waits for its reader to exit or ctx to end.
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

func (s *subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
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

	var retry *time.Timer
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		var retryC <-chan time.Time
		if retry != nil {
			retryC = retry.C
		}
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		case <-retryC:
		}
		if retry != nil {
			retry.Stop()
			retry = nil
		}

		page, err := store.Query(ctx, query)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			store.logger.WarnContext(ctx, "subscription read failed",
				"subscription", s.name,
				"retry_in", store.cfg.retryDelay,
				"error", err,
			)
			if onError != nil {
				onError(ctx, err)
			}
			retry = time.NewTimer(store.cfg.retryDelay)
			continue
		}

		onSnapshot(ctx, page.Items)
	}
}
