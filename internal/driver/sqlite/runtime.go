package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ex-feedsync/pkg/feed"
)

const defaultRuntimePath = ".cache/feedsync/feed.db"

type runtimeConfig struct {
	Path         string `json:"path"`
	PollInterval string `json:"poll_interval"`
	SeedFile     string `json:"seed_file"`
}

type parsedRuntimeConfig struct {
	path         string
	pollInterval time.Duration
	seedFile     string
}

// seedDocument is the on-disk layout of a seed file.
type seedDocument struct {
	Collections map[string][]seedRecord `json:"collections"`
}

type seedRecord struct {
	ID          string            `json:"id"`
	Pinned      bool              `json:"pinned"`
	OrderingKey int64             `json:"ordering_key"`
	Visible     *bool             `json:"visible"`
	Replies     int64             `json:"replies"`
	Likes       int64             `json:"likes"`
	AuthorID    string            `json:"author_id"`
	ParentID    string            `json:"parent_id"`
	Body        string            `json:"body"`
	MediaURLs   []string          `json:"media_urls"`
	Attributes  map[string]string `json:"attributes"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (r seedRecord) record() feed.Record {
	visible := true
	if r.Visible != nil {
		visible = *r.Visible
	}

	return feed.Record{
		ID:          r.ID,
		Pinned:      r.Pinned,
		OrderingKey: r.OrderingKey,
		Visible:     visible,
		Counters:    feed.Counters{Replies: r.Replies, Likes: r.Likes},
		AuthorID:    r.AuthorID,
		ParentID:    r.ParentID,
		Body:        r.Body,
		MediaURLs:   r.MediaURLs,
		Attributes:  r.Attributes,
		CreatedAt:   r.CreatedAt,
	}
}

// BuildStoreFromConfig opens one sqlite store from a JSON config payload and
// applies its seed file, if any.
func BuildStoreFromConfig(ctx context.Context, logger *slog.Logger, rawConfig []byte) (*Store, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("parse sqlite runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	store, err := Open(cfg.path, WithPollInterval(cfg.pollInterval), WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if cfg.seedFile != "" {
		if err := store.Seed(ctx, cfg.seedFile); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
	}

	return store, nil
}

// Seed upserts every record of a JSON seed file.
func (s *Store) Seed(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", path, err)
	}

	var document seedDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("unmarshal seed file %s: %w", path, err)
	}

	total := 0
	for collection, seeds := range document.Collections {
		records := make([]feed.Record, 0, len(seeds))
		for _, seed := range seeds {
			records = append(records, seed.record())
		}
		if err := s.Put(ctx, collection, records...); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		total += len(records)
	}
	s.logger.InfoContext(ctx, "sqlite store seeded",
		"seed_file", path,
		"collections", len(document.Collections),
		"records", total,
	)

	return nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	cfg := parsedRuntimeConfig{
		path:         defaultRuntimePath,
		pollInterval: defaultPollInterval,
	}
	if len(raw) == 0 {
		return cfg, nil
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	if path := strings.TrimSpace(parsed.Path); path != "" {
		cfg.path = path
	}
	cfg.seedFile = strings.TrimSpace(parsed.SeedFile)
	if interval := strings.TrimSpace(parsed.PollInterval); interval != "" {
		parsedInterval, err := time.ParseDuration(interval)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		if parsedInterval <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse poll_interval: must be > 0")
		}
		cfg.pollInterval = parsedInterval
	}

	return cfg, nil
}
