package driver

import (
	"context"
	"fmt"
	"sort"

	"ex-feedsync/pkg/feed"
)

// CollectionRouter routes collection operations to per-backend stores.
//
// A collection with an explicit route goes to the named backend. Unrouted
// collections resolve only when exactly one backend is configured.
type CollectionRouter struct {
	byName       map[string]feed.DocumentStore
	byCollection map[string]string
	sortedNames  []string
}

// NewCollectionRouter creates a router from built runtimes and a
// collection-to-backend-name route table.
func NewCollectionRouter(runtimes []Runtime, routes map[string]string) (*CollectionRouter, error) {
	byName := make(map[string]feed.DocumentStore, len(runtimes))
	sortedNames := make([]string, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.Name == "" {
			return nil, fmt.Errorf("new collection router: missing backend name")
		}
		if runtime.Store == nil {
			return nil, fmt.Errorf("new collection router backend %s: nil store", runtime.Name)
		}
		if _, exists := byName[runtime.Name]; exists {
			return nil, fmt.Errorf("new collection router: duplicate backend %s", runtime.Name)
		}
		byName[runtime.Name] = runtime.Store
		sortedNames = append(sortedNames, runtime.Name)
	}
	sort.Strings(sortedNames)

	byCollection := make(map[string]string, len(routes))
	for collection, name := range routes {
		if collection == "" {
			return nil, fmt.Errorf("new collection router: empty collection route")
		}
		if _, exists := byName[name]; !exists {
			return nil, fmt.Errorf("new collection router collection %s: backend %s not found", collection, name)
		}
		byCollection[collection] = name
	}

	return &CollectionRouter{
		byName:       byName,
		byCollection: byCollection,
		sortedNames:  sortedNames,
	}, nil
}

// Backends returns all backend names in sorted order.
func (r *CollectionRouter) Backends() []string {
	names := make([]string, len(r.sortedNames))
	copy(names, r.sortedNames)

	return names
}

// Query routes query to the backend serving its collection.
func (r *CollectionRouter) Query(ctx context.Context, query feed.Query) (feed.Page, error) {
	store, err := r.resolve(query.Collection)
	if err != nil {
		return feed.Page{}, fmt.Errorf("route query: %w", err)
	}

	page, err := store.Query(ctx, query)
	if err != nil {
		return feed.Page{}, fmt.Errorf("route query %s: %w", query.Collection, err)
	}

	return page, nil
}

// Subscribe routes a subscription to the backend serving its collection.
func (r *CollectionRouter) Subscribe(
	ctx context.Context,
	query feed.Query,
	onSnapshot feed.SnapshotHandler,
	onError feed.ErrorHandler,
) (feed.Subscription, error) {
	store, err := r.resolve(query.Collection)
	if err != nil {
		return nil, fmt.Errorf("route subscribe: %w", err)
	}

	subscription, err := store.Subscribe(ctx, query, onSnapshot, onError)
	if err != nil {
		return nil, fmt.Errorf("route subscribe %s: %w", query.Collection, err)
	}

	return subscription, nil
}

// Vote routes a vote to the backend serving collection.
func (r *CollectionRouter) Vote(ctx context.Context, collection string, id string, delta int64) error {
	writer, err := r.resolveWriter(collection)
	if err != nil {
		return fmt.Errorf("route vote: %w", err)
	}

	if err := writer.Vote(ctx, collection, id, delta); err != nil {
		return fmt.Errorf("route vote %s: %w", collection, err)
	}

	return nil
}

// SetVisible routes a visibility change to the backend serving collection.
func (r *CollectionRouter) SetVisible(ctx context.Context, collection string, id string, visible bool) error {
	writer, err := r.resolveWriter(collection)
	if err != nil {
		return fmt.Errorf("route set visible: %w", err)
	}

	if err := writer.SetVisible(ctx, collection, id, visible); err != nil {
		return fmt.Errorf("route set visible %s: %w", collection, err)
	}

	return nil
}

func (r *CollectionRouter) resolveWriter(collection string) (feed.RecordWriter, error) {
	store, err := r.resolve(collection)
	if err != nil {
		return nil, err
	}
	writer, ok := store.(feed.RecordWriter)
	if !ok {
		return nil, fmt.Errorf("%w: collection %s backend is read-only", feed.ErrUnsupported, collection)
	}

	return writer, nil
}

func (r *CollectionRouter) resolve(collection string) (feed.DocumentStore, error) {
	if r == nil {
		return nil, fmt.Errorf("nil router")
	}
	if len(r.byName) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", feed.ErrUnsupported)
	}

	if name, routed := r.byCollection[collection]; routed {
		return r.byName[name], nil
	}
	if len(r.byName) == 1 {
		return r.byName[r.sortedNames[0]], nil
	}

	return nil, fmt.Errorf("%w: collection %s has no route among %d backends", feed.ErrInvalidQuery, collection, len(r.byName))
}
