package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ex-feedsync/pkg/feed"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultUserAgent   = "feedsync-media/1"
)

// HTTPStore fetches media over http and https.
type HTTPStore struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
}

// HTTPOption mutates HTTPStore configuration.
type HTTPOption func(*HTTPStore)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(store *HTTPStore) {
		if client != nil {
			store.client = client
		}
	}
}

// WithMaxBytes bounds one response body.
func WithMaxBytes(maxBytes int64) HTTPOption {
	return func(store *HTTPStore) {
		if maxBytes > 0 {
			store.maxBytes = maxBytes
		}
	}
}

// WithUserAgent sets the User-Agent request header.
func WithUserAgent(userAgent string) HTTPOption {
	return func(store *HTTPStore) {
		if userAgent != "" {
			store.userAgent = userAgent
		}
	}
}

// WithHTTPLogger sets the logger used for close failures.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(store *HTTPStore) {
		if logger != nil {
			store.logger = logger
		}
	}
}

// NewHTTPStore creates an HTTP media store.
func NewHTTPStore(options ...HTTPOption) *HTTPStore {
	store := &HTTPStore{
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		maxBytes:  DefaultMaxBytes,
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(store)
	}

	return store
}

// FetchBytes downloads rawURL.
func (s *HTTPStore) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch http media: %w: %v", feed.ErrInvalidQuery, err)
	}
	request.Header.Set("User-Agent", s.userAgent)

	response, err := s.client.Do(request)
	if err != nil {
		return nil, feed.ClassifyFetchError("fetch http media "+rawURL, err, feed.FetchErrorNetwork)
	}
	defer func() {
		if closeErr := response.Body.Close(); closeErr != nil {
			s.logger.WarnContext(ctx, "close media response failed", "url", rawURL, "error", closeErr)
		}
	}()

	switch {
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("fetch http media %s: %w", rawURL, feed.ErrMediaNotFound)
	case response.StatusCode < 200 || response.StatusCode > 299:
		return nil, feed.NewFetchError(
			feed.FetchErrorServer,
			"fetch http media "+rawURL,
			fmt.Errorf("unexpected status %s", response.Status),
		)
	}
	if response.ContentLength > s.maxBytes {
		return nil, fmt.Errorf("fetch http media %s: %w: content length %d", rawURL, ErrTooLarge, response.ContentLength)
	}

	data, err := readLimited(response.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("fetch http media %s: %w", rawURL, err)
		}
		return nil, feed.ClassifyFetchError("read http media "+rawURL, err, feed.FetchErrorNetwork)
	}

	return data, nil
}
