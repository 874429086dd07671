// Package sqlite implements a feed document store on an embedded SQLite
// database.
//
// Every collection lives in one records table keyed by (collection, id). The
// database runs in WAL mode so the poller behind push subscriptions never
// blocks writers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ex-feedsync/pkg/feed"

	_ "modernc.org/sqlite"
)

// DriverType is the backend type token used in configuration.
const DriverType = "sqlite"

const (
	defaultPollInterval = 2 * time.Second
	timeLayout          = time.RFC3339Nano
)

type config struct {
	pollInterval time.Duration
	logger       *slog.Logger
	retry        retryConfig
}

// Option mutates store configuration.
type Option func(*config)

// WithPollInterval sets how often push subscriptions re-read their window.
func WithPollInterval(interval time.Duration) Option {
	return func(cfg *config) {
		if interval > 0 {
			cfg.pollInterval = interval
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Store is a feed.DocumentStore and feed.RecordWriter backed by SQLite.
type Store struct {
	db     *sql.DB
	cfg    config
	logger *slog.Logger

	mu        sync.Mutex
	subs      map[int]*subscription
	nextSubID int
	closed    bool
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, options ...Option) (*Store, error) {
	cfg := config{
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		retry:        defaultRetryConfig,
	}
	for _, option := range options {
		option(&cfg)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &Store{
		db:     db,
		cfg:    cfg,
		logger: cfg.logger.With("component", "sqlite_store"),
		subs:   make(map[int]*subscription),
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite store %s: migrate: %w", path, err)
	}

	return store, nil
}

// Close stops every subscription and closes the database.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.Close(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("close sqlite db: %w", err))
	}

	return errors.Join(closeErrs...)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection   TEXT NOT NULL,
		id           TEXT NOT NULL,
		pinned       INTEGER NOT NULL DEFAULT 0,
		ordering_key INTEGER NOT NULL,
		visible      INTEGER NOT NULL DEFAULT 1,
		replies      INTEGER NOT NULL DEFAULT 0,
		likes        INTEGER NOT NULL DEFAULT 0,
		author_id    TEXT NOT NULL DEFAULT '',
		parent_id    TEXT NOT NULL DEFAULT '',
		body         TEXT NOT NULL DEFAULT '',
		media_urls   TEXT NOT NULL DEFAULT '[]',
		attributes   TEXT NOT NULL DEFAULT '{}',
		created_at   TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_order ON records(collection, ordering_key DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_records_parent ON records(collection, parent_id, ordering_key DESC);
	CREATE INDEX IF NOT EXISTS idx_records_pinned ON records(collection, pinned, ordering_key DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Put inserts or replaces records in collection and wakes matching subscriptions.
func (s *Store) Put(ctx context.Context, collection string, records ...feed.Record) error {
	if collection == "" {
		return fmt.Errorf("put: %w: missing collection", feed.ErrInvalidQuery)
	}
	for index, record := range records {
		if err := record.Validate(); err != nil {
			return fmt.Errorf("put %s records[%d]: %w", collection, index, err)
		}
	}

	err := retryOnContention(ctx, s.cfg.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, record := range records {
			mediaURLs, err := json.Marshal(nonNilStrings(record.MediaURLs))
			if err != nil {
				return fmt.Errorf("encode media urls %s: %w", record.ID, err)
			}
			attributes, err := json.Marshal(nonNilAttributes(record.Attributes))
			if err != nil {
				return fmt.Errorf("encode attributes %s: %w", record.ID, err)
			}
			createdAt := record.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO records (collection, id, pinned, ordering_key, visible, replies, likes,
				                      author_id, parent_id, body, media_urls, attributes, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(collection, id) DO UPDATE SET
				   pinned = excluded.pinned,
				   ordering_key = excluded.ordering_key,
				   visible = excluded.visible,
				   replies = excluded.replies,
				   likes = excluded.likes,
				   author_id = excluded.author_id,
				   parent_id = excluded.parent_id,
				   body = excluded.body,
				   media_urls = excluded.media_urls,
				   attributes = excluded.attributes`,
				collection, record.ID, boolToInt(record.Pinned), record.OrderingKey, boolToInt(record.Visible),
				record.Counters.Replies, record.Counters.Likes, record.AuthorID, record.ParentID, record.Body,
				string(mediaURLs), string(attributes), createdAt.UTC().Format(timeLayout),
			); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return classifyError("put "+collection, err)
	}
	s.wake(collection)

	return nil
}

// Vote adds delta to the like counter of one record.
func (s *Store) Vote(ctx context.Context, collection string, id string, delta int64) error {
	return s.update(ctx, "vote", collection, id,
		`UPDATE records SET likes = likes + ? WHERE collection = ? AND id = ?`,
		delta, collection, id,
	)
}

// SetVisible sets the visibility flag of one record.
func (s *Store) SetVisible(ctx context.Context, collection string, id string, visible bool) error {
	return s.update(ctx, "set visible", collection, id,
		`UPDATE records SET visible = ? WHERE collection = ? AND id = ?`,
		boolToInt(visible), collection, id,
	)
}

func (s *Store) update(ctx context.Context, op string, collection string, id string, statement string, args ...any) error {
	var affected int64
	err := retryOnContention(ctx, s.cfg.retry, func() error {
		result, err := s.db.ExecContext(ctx, statement, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return classifyError(op+" "+collection, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s/%s: %w", op, collection, id, feed.ErrRecordNotFound)
	}
	s.wake(collection)

	return nil
}

// Query returns one page of collection in feed order.
func (s *Store) Query(ctx context.Context, query feed.Query) (feed.Page, error) {
	op := "query " + query.Collection
	if err := query.Validate(); err != nil {
		return feed.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	statement, args, err := buildSelect(query)
	if err != nil {
		return feed.Page{}, fmt.Errorf("%s: %w", op, err)
	}

	var records []feed.Record
	err = retryOnContention(ctx, s.cfg.retry, func() error {
		rows, err := s.db.QueryContext(ctx, statement, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		records, err = scanRecords(rows)
		return err
	})
	if err != nil {
		return feed.Page{}, classifyError(op, err)
	}

	next := feed.PageCursor{Token: query.Cursor.Token}
	if len(records) > query.Limit {
		records = records[:query.Limit]
	} else {
		next.Exhausted = true
	}
	if len(records) > 0 {
		next.Token = encodeCursor(records[len(records)-1])
	}

	return feed.Page{Items: records, Next: next}, nil
}

func scanRecords(rows *sql.Rows) ([]feed.Record, error) {
	records := make([]feed.Record, 0)
	for rows.Next() {
		var (
			record     feed.Record
			pinned     int
			visible    int
			mediaURLs  string
			attributes string
			createdAt  string
		)
		if err := rows.Scan(
			&record.ID, &pinned, &record.OrderingKey, &visible,
			&record.Counters.Replies, &record.Counters.Likes,
			&record.AuthorID, &record.ParentID, &record.Body,
			&mediaURLs, &attributes, &createdAt,
		); err != nil {
			return nil, err
		}
		record.Pinned = pinned != 0
		record.Visible = visible != 0

		if err := json.Unmarshal([]byte(mediaURLs), &record.MediaURLs); err != nil {
			return nil, &decodeError{field: "media_urls", id: record.ID, cause: err}
		}
		if err := json.Unmarshal([]byte(attributes), &record.Attributes); err != nil {
			return nil, &decodeError{field: "attributes", id: record.ID, cause: err}
		}
		if len(record.MediaURLs) == 0 {
			record.MediaURLs = nil
		}
		if len(record.Attributes) == 0 {
			record.Attributes = nil
		}
		parsed, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, &decodeError{field: "created_at", id: record.ID, cause: err}
		}
		record.CreatedAt = parsed

		records = append(records, record)
	}

	return records, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilAttributes(values map[string]string) map[string]string {
	if values == nil {
		return map[string]string{}
	}
	return values
}
