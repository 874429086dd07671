// Package engine maintains one consistent, memory-bounded, ordered view of a
// remote record collection fed by a cursor-paginated pull channel and a
// push-tailing subscription.
//
// All mutable feed state is owned by a single sequencer goroutine. Commands,
// fetch completions and push deliveries are queued onto it and applied in
// order; results issued before a refresh are discarded by epoch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ex-feedsync/internal/cache"
	"ex-feedsync/internal/governor"
	"ex-feedsync/pkg/feed"
)

// errAlreadyLoaded short-circuits Load once the current epoch is ready.
var errAlreadyLoaded = errors.New("already loaded")

// Engine is the feed synchronization facade.
type Engine struct {
	cfg      config
	store    feed.DocumentStore
	logger   *slog.Logger
	governor *governor.Governor
	state    *feedState
	seq      *sequencer

	pinnedPushQuery  feed.Query
	regularPushQuery feed.Query

	profiles *cache.BoundedCache[string, feed.Profile]
	comments *cache.BoundedCache[string, feed.CommentPage]
	media    *cache.BoundedCache[string, []byte]

	lifecycleMu   sync.Mutex
	started       bool
	closed        bool
	subscriptions []feed.Subscription
}

// New creates an engine over store. Call Start before issuing commands.
func New(store feed.DocumentStore, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("new engine: nil document store")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	base := feed.Query{
		Collection: cfg.collection,
		Filters:    append([]feed.Filter(nil), cfg.baseFilters...),
		OrderBy:    feed.RecencyOrder(),
	}
	pinnedQuery := base.WithFilters(feed.Eq(feed.FieldPinned, true))
	regularQuery := base.WithFilters(feed.Eq(feed.FieldPinned, false))
	if err := pinnedQuery.WithLimit(cfg.pinnedCapacity).Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	// Deletions must reach the regular window, so it ignores visibility filters.
	regularPush := withoutField(base, feed.FieldVisible).
		WithFilters(feed.Eq(feed.FieldPinned, false)).
		WithLimit(cfg.pushWindow)

	pinned := NewPinnedSetManager(store, pinnedQuery, cfg.pinnedCapacity)
	pagination := NewPaginationController(store, regularQuery, cfg.pageSize)
	reconciler := NewRealtimeReconciler(cfg.pushWindow, pinned, pagination)
	state := newFeedState(pinned, pagination, reconciler)

	logger := cfg.logger.With("component", "feed_engine", "collection", cfg.collection)
	engine := &Engine{
		cfg:    cfg,
		store:  store,
		logger: logger,
		governor: governor.New(
			governor.WithMinInterval(cfg.minInterval),
			governor.WithFailureThreshold(cfg.failureThreshold),
			governor.WithCooldown(cfg.cooldown),
			governor.WithClock(cfg.clock),
			governor.WithLogger(logger),
		),
		state:            state,
		seq:              newSequencer(state, cfg.queueSize, logger, cfg.clock, cfg.observers),
		pinnedPushQuery:  pinnedQuery.WithLimit(cfg.pinnedCapacity),
		regularPushQuery: regularPush,
		profiles:         newAuxCache[feed.Profile]("profiles", cfg.profileCache, cfg),
		comments:         newAuxCache[feed.CommentPage]("comments", cfg.commentCache, cfg),
		media:            newAuxCache[[]byte]("media", cfg.mediaCache, cfg),
	}

	return engine, nil
}

func newAuxCache[V any](name string, sizing CacheConfig, cfg config) *cache.BoundedCache[string, V] {
	return cache.New[string, V](
		cache.WithName(name),
		cache.WithCapacity(sizing.Capacity),
		cache.WithSweepInterval(sizing.SweepInterval),
		cache.WithMaxIdle(sizing.MaxIdle),
		cache.WithClock(cfg.clock),
		cache.WithLogger(cfg.logger),
	)
}

// Start launches the sequencer, cache sweepers and push subscriptions.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.closed {
		return fmt.Errorf("start engine: %w", feed.ErrEngineClosed)
	}
	if e.started {
		return nil
	}

	e.seq.start(ctx)
	e.profiles.Start(ctx)
	e.comments.Start(ctx)
	e.media.Start(ctx)

	channels := []struct {
		channel pushChannel
		query   feed.Query
	}{
		{channel: pushChannelPinned, query: e.pinnedPushQuery},
		{channel: pushChannelRegular, query: e.regularPushQuery},
	}
	for _, entry := range channels {
		subscription, err := e.store.Subscribe(
			ctx,
			entry.query,
			e.pushHandler(entry.channel),
			e.pushErrorHandler(entry.channel),
		)
		if err != nil {
			cleanupErr := e.shutdownLocked(ctx)
			return errors.Join(fmt.Errorf("start engine subscribe %s: %w", entry.channel, err), cleanupErr)
		}
		e.subscriptions = append(e.subscriptions, subscription)
	}
	e.started = true

	e.logger.InfoContext(ctx,
		"feed engine started",
		"page_size", e.cfg.pageSize,
		"pinned_capacity", e.cfg.pinnedCapacity,
		"push_window", e.cfg.pushWindow,
	)

	return nil
}

// Close stops push subscriptions, the sequencer and cache sweepers.
func (e *Engine) Close(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.closed {
		return nil
	}
	if err := e.shutdownLocked(ctx); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}

	return nil
}

func (e *Engine) shutdownLocked(ctx context.Context) error {
	e.closed = true

	var closeErrs []error
	for _, subscription := range e.subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}
	e.subscriptions = nil
	if err := e.seq.stop(ctx); err != nil {
		closeErrs = append(closeErrs, err)
	}
	e.profiles.Close()
	e.comments.Close()
	e.media.Close()

	return errors.Join(closeErrs...)
}

func (e *Engine) ensureRunning() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.closed {
		return feed.ErrEngineClosed
	}
	if !e.started {
		return feed.ErrEngineNotStarted
	}

	return nil
}

// Load performs the initial pinned and first-page load of the current epoch.
//
// Load on a ready feed is a no-op; Load while loading returns
// feed.ErrLoadInProgress.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.ensureRunning(); err != nil {
		return fmt.Errorf("load feed: %w", err)
	}

	var epoch uint64
	begin := newOperation("load_begin", func(state *feedState) (bool, error) {
		switch state.phase {
		case feed.StateLoading, feed.StateRefreshing:
			return false, feed.ErrLoadInProgress
		case feed.StateReady:
			return false, errAlreadyLoaded
		}
		if err := e.governor.Acquire(); err != nil {
			return false, err
		}
		state.phase = feed.StateLoading
		epoch = state.epoch

		return true, nil
	})
	if err := e.seq.submit(ctx, begin); err != nil {
		if errors.Is(err, errAlreadyLoaded) {
			return nil
		}
		return fmt.Errorf("load feed: %w", err)
	}

	return e.load(ctx, epoch)
}

// Refresh starts a new epoch, clears feed state and caches, and reloads.
//
// Results of requests issued before the refresh are discarded when they
// complete.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.ensureRunning(); err != nil {
		return fmt.Errorf("refresh feed: %w", err)
	}

	var epoch uint64
	begin := newOperation("refresh_begin", func(state *feedState) (bool, error) {
		if err := e.governor.Acquire(); err != nil {
			return false, err
		}
		epoch = state.advanceEpoch()
		state.phase = feed.StateLoading
		e.profiles.Purge()
		e.comments.Purge()
		e.media.Purge()

		return true, nil
	})
	if err := e.seq.submit(ctx, begin); err != nil {
		return fmt.Errorf("refresh feed: %w", err)
	}
	e.logger.InfoContext(ctx, "feed refresh started", "epoch", epoch)

	return e.load(ctx, epoch)
}

// recordOutcome feeds a request result to the governor. Failures caused by
// the caller's own cancellation are not counted.
func (e *Engine) recordOutcome(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil {
		return
	}
	e.governor.Record(err)
}

// load fetches the pinned set then the first page, and applies both in one
// operation so the pinned set is in place before any regular record shows.
func (e *Engine) load(ctx context.Context, epoch uint64) error {
	pinned, err := e.state.pinned.LoadInitial(ctx)
	var page feed.Page
	if err == nil {
		page, err = e.state.pagination.Fetch(ctx, feed.PageCursor{})
	}
	e.recordOutcome(ctx, err)

	completionCtx := context.WithoutCancel(ctx)
	if err != nil {
		pageFetchesTotal.WithLabelValues(resultError).Inc()
		fail := newEpochOperation("load_fail", epoch, func(state *feedState) (bool, error) {
			state.phase = feed.StateIdle
			return true, nil
		})
		if submitErr := e.seq.submit(completionCtx, fail); submitErr != nil && !errors.Is(submitErr, feed.ErrStaleEpoch) {
			e.logger.WarnContext(ctx, "load failure not recorded", "error", submitErr)
		}
		e.logger.WarnContext(ctx, "feed load failed", "epoch", epoch, "error", err)

		return fmt.Errorf("load feed: %w", err)
	}
	pageFetchesTotal.WithLabelValues(resultOK).Inc()

	var result PageResult
	complete := newEpochOperation("load_complete", epoch, func(state *feedState) (bool, error) {
		state.pinned.SetInitial(pinned)
		result = state.pagination.Accept(page, state.reconciler.Overlay)
		state.phase = feed.StateReady
		reconciled := state.reconciler.CompleteInitialLoad()
		e.invalidateComments(reconciled.RepliesChanged)

		return true, nil
	})
	if err := e.seq.submit(completionCtx, complete); err != nil {
		return fmt.Errorf("load feed: %w", err)
	}

	e.logger.InfoContext(ctx,
		"feed loaded",
		"epoch", epoch,
		"pinned", len(pinned),
		"regular", result.Total,
		"shown", result.ShownCount,
		"exhausted", result.Exhausted,
	)

	return nil
}

// FetchNextPage pulls the next regular page.
//
// It reports OutcomeNothingToDo without issuing a request when the cursor is
// exhausted or a fetch is already in flight. Failures are returned and
// recorded in the governor; they are never retried.
func (e *Engine) FetchNextPage(ctx context.Context) (PageResult, error) {
	if err := e.ensureRunning(); err != nil {
		return PageResult{}, fmt.Errorf("fetch next page: %w", err)
	}

	var (
		epoch   uint64
		cursor  feed.PageCursor
		skipped *PageResult
	)
	begin := newOperation("fetch_begin", func(state *feedState) (bool, error) {
		if !state.ready() {
			return false, feed.ErrNotLoaded
		}
		pagination := state.pagination
		if pagination.Exhausted() || pagination.InFlight() {
			skipped = &PageResult{
				Outcome:    OutcomeNothingToDo,
				ShownCount: pagination.ShownCount(),
				Total:      len(pagination.Segment()),
				Exhausted:  pagination.Exhausted(),
			}
			return false, nil
		}
		if err := e.governor.Acquire(); err != nil {
			return false, err
		}
		cursor, _ = pagination.Begin()
		epoch = state.epoch

		return false, nil
	})
	if err := e.seq.submit(ctx, begin); err != nil {
		return PageResult{}, fmt.Errorf("fetch next page: %w", err)
	}
	if skipped != nil {
		return *skipped, nil
	}

	page, err := e.state.pagination.Fetch(ctx, cursor)
	e.recordOutcome(ctx, err)

	completionCtx := context.WithoutCancel(ctx)
	if err != nil {
		pageFetchesTotal.WithLabelValues(resultError).Inc()
		fail := newEpochOperation("fetch_fail", epoch, func(state *feedState) (bool, error) {
			state.pagination.Fail()
			return false, nil
		})
		if submitErr := e.seq.submit(completionCtx, fail); submitErr != nil && !errors.Is(submitErr, feed.ErrStaleEpoch) {
			e.logger.WarnContext(ctx, "page failure not recorded", "error", submitErr)
		}

		return PageResult{}, fmt.Errorf("fetch next page: %w", err)
	}
	pageFetchesTotal.WithLabelValues(resultOK).Inc()

	var result PageResult
	accept := newEpochOperation("fetch_accept", epoch, func(state *feedState) (bool, error) {
		result = state.pagination.Accept(page, state.reconciler.Overlay)
		return true, nil
	})
	if err := e.seq.submit(completionCtx, accept); err != nil {
		return PageResult{}, fmt.Errorf("fetch next page: %w", err)
	}

	return result, nil
}

// LoadMore reveals up to one page of already fetched records and returns how
// many were revealed.
func (e *Engine) LoadMore(ctx context.Context) (int, error) {
	if err := e.ensureRunning(); err != nil {
		return 0, fmt.Errorf("load more: %w", err)
	}

	revealed := 0
	op := newOperation("load_more", func(state *feedState) (bool, error) {
		if !state.ready() {
			return false, feed.ErrNotLoaded
		}
		revealed = state.pagination.Reveal()

		return revealed > 0, nil
	})
	if err := e.seq.submit(ctx, op); err != nil {
		return 0, fmt.Errorf("load more: %w", err)
	}

	return revealed, nil
}

// Vote adds delta to a record's like counter remotely, then locally.
func (e *Engine) Vote(ctx context.Context, id string, delta int64) error {
	err := e.write(ctx, "vote", id, func(writer feed.RecordWriter) error {
		return writer.Vote(ctx, e.cfg.collection, id, delta)
	}, func(state *feedState) bool {
		record := state.findRecord(id)
		if record == nil {
			return false
		}
		record.Counters.Likes += delta
		return true
	})
	if err != nil {
		return fmt.Errorf("vote %s: %w", id, err)
	}

	return nil
}

// Delete soft-deletes a record remotely, then hides it locally.
//
// A deleted regular record keeps its position so the cursor stays valid; a
// deleted pinned record leaves the pinned set.
func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.write(ctx, "delete", id, func(writer feed.RecordWriter) error {
		return writer.SetVisible(ctx, e.cfg.collection, id, false)
	}, func(state *feedState) bool {
		if state.pinned.Remove(id) {
			return true
		}
		record := state.pagination.Find(id)
		if record == nil || !record.Visible {
			return false
		}
		record.Visible = false
		return true
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	return nil
}

// write runs one remote mutation and applies its local effect in the same
// epoch. A refresh in between drops the local effect; the push channel
// carries the remote state instead.
func (e *Engine) write(
	ctx context.Context,
	name string,
	id string,
	remote func(writer feed.RecordWriter) error,
	local func(state *feedState) bool,
) error {
	if err := e.ensureRunning(); err != nil {
		return err
	}
	writer, ok := e.store.(feed.RecordWriter)
	if !ok {
		return feed.ErrUnsupported
	}

	var epoch uint64
	begin := newOperation(name+"_begin", func(state *feedState) (bool, error) {
		if !state.ready() {
			return false, feed.ErrNotLoaded
		}
		if state.findRecord(id) == nil {
			return false, feed.ErrRecordNotFound
		}
		if err := e.governor.Acquire(); err != nil {
			return false, err
		}
		epoch = state.epoch

		return false, nil
	})
	if err := e.seq.submit(ctx, begin); err != nil {
		return err
	}

	err := remote(writer)
	e.recordOutcome(ctx, err)
	if err != nil {
		return feed.ClassifyFetchError(name, err, feed.FetchErrorServer)
	}

	apply := newEpochOperation(name+"_apply", epoch, func(state *feedState) (bool, error) {
		return local(state), nil
	})
	if err := e.seq.submit(context.WithoutCancel(ctx), apply); err != nil {
		if errors.Is(err, feed.ErrStaleEpoch) {
			e.logger.DebugContext(ctx, "local write effect superseded by refresh", "operation", name, "id", id)
			return nil
		}
		return err
	}

	return nil
}

// View returns the last assembled view.
func (e *Engine) View() feed.View {
	return e.seq.current()
}

// GovernorState returns the request governor bookkeeping.
func (e *Engine) GovernorState() feed.GovernorState {
	return e.governor.State()
}

func (e *Engine) pushHandler(channel pushChannel) feed.SnapshotHandler {
	return func(ctx context.Context, records []feed.Record) {
		pushSnapshotsTotal.WithLabelValues(channel.String()).Inc()
		snapshot := feed.CloneRecords(records)
		if snapshot == nil {
			snapshot = make([]feed.Record, 0)
		}

		op := newOperation("push_"+channel.String(), func(state *feedState) (bool, error) {
			window, ok := state.composePush(channel, snapshot)
			if !ok {
				return false, nil
			}
			result := state.reconciler.OnSnapshot(window, state.ready())
			e.invalidateComments(result.RepliesChanged)

			return result.Changed, nil
		})
		if err := e.seq.enqueue(ctx, op); err != nil {
			e.logger.DebugContext(ctx, "push snapshot dropped", "channel", channel.String(), "error", err)
		}
	}
}

func (e *Engine) pushErrorHandler(channel pushChannel) feed.ErrorHandler {
	return func(ctx context.Context, err error) {
		pushErrorsTotal.WithLabelValues(channel.String()).Inc()
		e.logger.WarnContext(ctx, "push subscription error", "channel", channel.String(), "error", err)
	}
}

func (e *Engine) invalidateComments(ids []string) {
	for _, id := range ids {
		e.comments.Delete(id)
	}
}

// withoutField returns a copy of query without filters on field.
func withoutField(query feed.Query, field string) feed.Query {
	filtered := make([]feed.Filter, 0, len(query.Filters))
	for _, filter := range query.Filters {
		if filter.Field == field {
			continue
		}
		filtered = append(filtered, filter)
	}
	query.Filters = filtered

	return query
}
