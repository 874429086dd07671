package engine

import "ex-feedsync/pkg/feed"

// pushChannel identifies which subscription delivered a snapshot.
type pushChannel int

const (
	pushChannelPinned pushChannel = iota + 1
	pushChannelRegular
)

func (c pushChannel) String() string {
	switch c {
	case pushChannelPinned:
		return "pinned"
	case pushChannelRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// feedState is every piece of mutable feed state. It is owned by the
// sequencer goroutine.
type feedState struct {
	epoch      uint64
	phase      feed.EngineState
	pinned     *PinnedSetManager
	pagination *PaginationController
	reconciler *RealtimeReconciler

	latestPinned  []feed.Record
	latestRegular []feed.Record
	seenPinned    bool
	seenRegular   bool
}

func newFeedState(pinned *PinnedSetManager, pagination *PaginationController, reconciler *RealtimeReconciler) *feedState {
	return &feedState{
		epoch:      1,
		phase:      feed.StateIdle,
		pinned:     pinned,
		pagination: pagination,
		reconciler: reconciler,
	}
}

// ready reports whether the initial load of the current epoch completed.
func (s *feedState) ready() bool {
	return s.phase == feed.StateReady
}

// advanceEpoch starts a new generation and clears pinned and regular state.
func (s *feedState) advanceEpoch() uint64 {
	s.epoch++
	s.phase = feed.StateRefreshing
	s.pinned.Reset()
	s.pagination.Reset()
	s.reconciler.Reset()

	return s.epoch
}

// composePush records the latest delivery of one channel and returns the
// combined push window once both channels have delivered at least once.
// records must not be shared with the store.
func (s *feedState) composePush(channel pushChannel, records []feed.Record) ([]feed.Record, bool) {
	switch channel {
	case pushChannelPinned:
		s.latestPinned = records
		s.seenPinned = true
	case pushChannelRegular:
		s.latestRegular = records
		s.seenRegular = true
	}
	if !s.seenPinned || !s.seenRegular {
		return nil, false
	}

	window := make([]feed.Record, 0, len(s.latestPinned)+len(s.latestRegular))
	for _, record := range s.latestPinned {
		record = record.Clone()
		record.Pinned = true
		window = append(window, record)
	}
	for _, record := range s.latestRegular {
		if record.Pinned {
			continue
		}
		window = append(window, record.Clone())
	}

	return window, true
}

// findRecord looks up id in the pinned set, then the regular segment.
func (s *feedState) findRecord(id string) *feed.Record {
	if record := s.pinned.Find(id); record != nil {
		return record
	}

	return s.pagination.Find(id)
}
