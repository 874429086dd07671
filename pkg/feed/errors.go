package feed

import "errors"

var (
	// ErrInvalidRecord indicates that a record does not satisfy protocol invariants.
	ErrInvalidRecord = errors.New("feed: invalid record")
	// ErrInvalidQuery indicates that a query is malformed or uses unsupported filters.
	ErrInvalidQuery = errors.New("feed: invalid query")
	// ErrInvalidCursor indicates that a cursor token cannot be decoded by the store.
	ErrInvalidCursor = errors.New("feed: invalid cursor")
	// ErrThrottled indicates that the request governor refused a request inside its minimum interval.
	ErrThrottled = errors.New("feed: throttled, try again later")
	// ErrCircuitOpen indicates that the request governor circuit is open after repeated failures.
	ErrCircuitOpen = errors.New("feed: circuit open, try again later")
	// ErrNotLoaded indicates a command that requires a completed initial load.
	ErrNotLoaded = errors.New("feed: initial load not complete")
	// ErrLoadInProgress indicates that a load or refresh is already running.
	ErrLoadInProgress = errors.New("feed: load in progress")
	// ErrStaleEpoch indicates that a result was discarded because a refresh superseded it.
	ErrStaleEpoch = errors.New("feed: result superseded by refresh")
	// ErrEngineClosed indicates that the engine no longer accepts commands.
	ErrEngineClosed = errors.New("feed: engine closed")
	// ErrEngineNotStarted indicates a command submitted before Start.
	ErrEngineNotStarted = errors.New("feed: engine not started")
	// ErrRecordNotFound indicates a lookup or command against an unknown record id.
	ErrRecordNotFound = errors.New("feed: record not found")
	// ErrUnsupported indicates that a collaborator does not implement an optional capability.
	ErrUnsupported = errors.New("feed: unsupported operation")
	// ErrMediaNotFound indicates that a media object does not exist.
	ErrMediaNotFound = errors.New("feed: media not found")
	// ErrSubscriptionClosed indicates that a push subscription is no longer active.
	ErrSubscriptionClosed = errors.New("feed: subscription closed")
)
