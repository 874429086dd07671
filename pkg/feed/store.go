package feed

import "context"

// SnapshotHandler receives one full replacement of a subscription window.
type SnapshotHandler func(ctx context.Context, records []Record)

// ErrorHandler receives out-of-band subscription failures.
type ErrorHandler func(ctx context.Context, err error)

// Subscription controls an active push registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// DocumentStore is the remote record collection consumed by the engine.
//
// Implementations must be concurrency-safe: pulls and push deliveries run on
// independent goroutines.
type DocumentStore interface {
	// Query pulls one cursor-positioned page.
	Query(ctx context.Context, query Query) (Page, error)
	// Subscribe tails the most recent window described by query.
	//
	// Every delivery replaces the whole window. Resubscription after a failure
	// is the store's responsibility; failures are reported through onError.
	Subscribe(ctx context.Context, query Query, onSnapshot SnapshotHandler, onError ErrorHandler) (Subscription, error)
}

// RecordWriter is the optional mutation capability of a DocumentStore.
type RecordWriter interface {
	// Vote adds delta to the like counter of one record.
	Vote(ctx context.Context, collection string, id string, delta int64) error
	// SetVisible flips the soft-delete flag of one record.
	SetVisible(ctx context.Context, collection string, id string, visible bool) error
}

// MediaStore fetches media bytes by URL.
type MediaStore interface {
	// FetchBytes returns the object addressed by url.
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}
