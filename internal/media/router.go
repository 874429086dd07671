package media

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"ex-feedsync/pkg/feed"
)

// Router dispatches media URLs to stores by URL scheme.
type Router struct {
	byScheme map[string]feed.MediaStore
}

// NewRouter creates a router from a scheme-to-store table.
func NewRouter(routes map[string]feed.MediaStore) (*Router, error) {
	byScheme := make(map[string]feed.MediaStore, len(routes))
	for scheme, store := range routes {
		normalized := strings.ToLower(strings.TrimSpace(scheme))
		if normalized == "" {
			return nil, fmt.Errorf("new media router: empty scheme")
		}
		if store == nil {
			return nil, fmt.Errorf("new media router scheme %s: nil store", normalized)
		}
		if _, exists := byScheme[normalized]; exists {
			return nil, fmt.Errorf("new media router scheme %s: duplicate", normalized)
		}
		byScheme[normalized] = store
	}

	return &Router{byScheme: byScheme}, nil
}

// Schemes returns the routed schemes in sorted order.
func (r *Router) Schemes() []string {
	schemes := make([]string, 0, len(r.byScheme))
	for scheme := range r.byScheme {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)

	return schemes
}

// FetchBytes resolves the store for rawURL and fetches through it.
func (r *Router) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("route media: %w: %v", feed.ErrInvalidQuery, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	store, exists := r.byScheme[scheme]
	if !exists {
		return nil, fmt.Errorf("route media %s: %w: scheme %q", rawURL, feed.ErrUnsupported, scheme)
	}

	return store.FetchBytes(ctx, rawURL)
}
