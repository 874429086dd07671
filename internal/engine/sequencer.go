package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ex-feedsync/pkg/feed"
)

// operation is one unit of work applied to feed state on the sequencer.
type operation struct {
	name string
	// epoch is checked against the current epoch when epochBound is set.
	epoch      uint64
	epochBound bool
	apply      func(state *feedState) (changed bool, err error)
	done       chan error
}

func newOperation(name string, apply func(state *feedState) (bool, error)) *operation {
	return &operation{name: name, apply: apply, done: make(chan error, 1)}
}

func newEpochOperation(name string, epoch uint64, apply func(state *feedState) (bool, error)) *operation {
	op := newOperation(name, apply)
	op.epoch = epoch
	op.epochBound = true

	return op
}

// sequencer is the single owner of feed state. Commands, fetch completions
// and push deliveries are queued and applied in order on one goroutine.
type sequencer struct {
	state     *feedState
	queue     chan *operation
	logger    *slog.Logger
	clock     func() time.Time
	observers []feed.ViewObserver

	view atomic.Pointer[feed.View]

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newSequencer(
	state *feedState,
	queueSize int,
	logger *slog.Logger,
	clock func() time.Time,
	observers []feed.ViewObserver,
) *sequencer {
	seq := &sequencer{
		state:     state,
		queue:     make(chan *operation, queueSize),
		logger:    logger,
		clock:     clock,
		observers: append([]feed.ViewObserver(nil), observers...),
		cancel:    func() {},
		done:      make(chan struct{}),
	}
	seq.view.Store(&feed.View{
		Epoch:     state.epoch,
		State:     state.phase,
		UpdatedAt: clock(),
	})

	return seq
}

// start launches the owner goroutine.
func (s *sequencer) start(ctx context.Context) {
	s.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go s.run(loopCtx)
	})
}

// stop cancels the owner goroutine and waits for it or ctx.
func (s *sequencer) stop(ctx context.Context) error {
	// A sequencer that never started is marked done so waiters return.
	s.startOnce.Do(func() {
		close(s.done)
	})
	s.stopOnce.Do(func() {
		s.cancel()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop sequencer: %w", ctx.Err())
	}
}

// submit queues op and waits for its result.
func (s *sequencer) submit(ctx context.Context, op *operation) error {
	if err := s.enqueue(ctx, op); err != nil {
		return err
	}

	select {
	case err := <-op.done:
		return err
	case <-s.done:
		select {
		case err := <-op.done:
			return err
		default:
			return fmt.Errorf("%s: %w", op.name, feed.ErrEngineClosed)
		}
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op.name, ctx.Err())
	}
}

// enqueue queues op without waiting for it to apply.
func (s *sequencer) enqueue(ctx context.Context, op *operation) error {
	select {
	case <-s.done:
		return fmt.Errorf("%s: %w", op.name, feed.ErrEngineClosed)
	default:
	}

	select {
	case s.queue <- op:
		sequencerQueueDepth.Set(float64(len(s.queue)))
		return nil
	case <-s.done:
		return fmt.Errorf("%s: %w", op.name, feed.ErrEngineClosed)
	case <-ctx.Done():
		return fmt.Errorf("%s enqueue: %w", op.name, ctx.Err())
	}
}

// current returns the last published view.
func (s *sequencer) current() feed.View {
	return *s.view.Load()
}

func (s *sequencer) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.queue:
			sequencerQueueDepth.Set(float64(len(s.queue)))
			s.execute(ctx, op)
		}
	}
}

// execute applies one operation, discarding it when its epoch is stale.
func (s *sequencer) execute(ctx context.Context, op *operation) {
	if op.epochBound && op.epoch != s.state.epoch {
		engineOperationsTotal.WithLabelValues(op.name, resultStale).Inc()
		s.logger.DebugContext(ctx,
			"discarded stale operation",
			"operation", op.name,
			"operation_epoch", op.epoch,
			"epoch", s.state.epoch,
		)
		op.done <- fmt.Errorf("%s: %w", op.name, feed.ErrStaleEpoch)
		return
	}

	changed := false
	err := runSafely("sequencer "+op.name, func() error {
		var applyErr error
		changed, applyErr = op.apply(s.state)
		return applyErr
	})
	switch {
	case err == nil:
		engineOperationsTotal.WithLabelValues(op.name, resultOK).Inc()
	case errors.Is(err, feed.ErrStaleEpoch):
		engineOperationsTotal.WithLabelValues(op.name, resultStale).Inc()
	default:
		engineOperationsTotal.WithLabelValues(op.name, resultError).Inc()
	}
	if changed {
		s.publish(ctx)
	}
	op.done <- err
}

// publish assembles and stores a new view, then notifies observers.
//
// Outside the ready state the previous records are kept so a reload or a
// failed refresh never shows a blank feed.
func (s *sequencer) publish(ctx context.Context) {
	previous := s.view.Load()
	next := *previous
	next.Epoch = s.state.epoch
	next.State = s.state.phase
	next.UpdatedAt = s.clock()

	if s.state.ready() {
		regular := s.state.pagination.Segment()
		pinned := s.state.pinned.Records()
		records, hasMore := Assemble(
			pinned,
			regular,
			s.state.pagination.ShownCount(),
			s.state.pagination.Exhausted(),
		)
		next.Records = records
		next.Pinned = len(pinned)
		next.ShownCount = s.state.pagination.ShownCount()
		next.Total = len(regular)
		next.HasMore = hasMore
		next.Exhausted = s.state.pagination.Exhausted()
	}

	s.view.Store(&next)
	viewUpdatesTotal.Inc()

	for index, observer := range s.observers {
		scope := fmt.Sprintf("view observer %d", index)
		if err := runSafely(scope, func() error {
			observer(ctx, next)
			return nil
		}); err != nil {
			s.logger.ErrorContext(ctx, "view observer failed", "error", err)
		}
	}
}
