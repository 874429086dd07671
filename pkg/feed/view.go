package feed

import (
	"context"
	"time"
)

// EngineState is the sequencer lifecycle state.
type EngineState string

const (
	// StateIdle means nothing has been loaded in the current epoch.
	StateIdle EngineState = "idle"
	// StateLoading means the initial pinned and first-page load is running.
	StateLoading EngineState = "loading"
	// StateReady means the initial load completed and push snapshots apply directly.
	StateReady EngineState = "ready"
	// StateRefreshing is the transient state between an epoch bump and the next load.
	StateRefreshing EngineState = "refreshing"
)

// View is an immutable snapshot of the assembled feed.
type View struct {
	// Epoch is the generation that produced this view.
	Epoch uint64
	// State is the lifecycle state at assembly time.
	State EngineState
	// Records is pinned records followed by the revealed visible regular records.
	Records []Record
	// Pinned is the number of leading pinned records in Records.
	Pinned int
	// ShownCount is the regular-segment watermark.
	ShownCount int
	// Total is the number of fetched regular records, revealed or not.
	Total int
	// HasMore reports whether LoadMore or FetchNextPage can still grow the view.
	HasMore bool
	// Exhausted reports whether the pagination cursor is exhausted.
	Exhausted bool
	// UpdatedAt is when the view was assembled.
	UpdatedAt time.Time
}

// IDs returns the ids of the records in view order.
func (v View) IDs() []string {
	ids := make([]string, 0, len(v.Records))
	for _, record := range v.Records {
		ids = append(ids, record.ID)
	}

	return ids
}

// ViewObserver is notified after every accepted mutation that changed the view.
type ViewObserver func(ctx context.Context, view View)
