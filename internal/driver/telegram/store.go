// Package telegram serves a Telegram channel as a feed document store.
//
// The channel history is the collection: pulls page through
// messages.getHistory by message id, and pushes re-read subscription windows
// whenever a gotd update touches the channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"ex-feedsync/pkg/feed"

	"github.com/gotd/td/tg"
)

// DriverType is the backend type token used in configuration.
const DriverType = "telegram"

const (
	defaultRPCTimeout = 10 * time.Second
	defaultRetryDelay = 5 * time.Second
	defaultReaction   = "👍"
	// slowFilterRounds is how many top-up requests one page may take before
	// it is logged.
	slowFilterRounds = 10
)

type storeConfig struct {
	rpcTimeout time.Duration
	retryDelay time.Duration
	reaction   tg.ReactionClass
	logger     *slog.Logger
}

// StoreOption mutates store configuration.
type StoreOption func(*storeConfig)

// WithRPCTimeout bounds every Telegram API call.
func WithRPCTimeout(timeout time.Duration) StoreOption {
	return func(cfg *storeConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithRetryDelay sets how long a failed subscription read waits before retrying.
func WithRetryDelay(delay time.Duration) StoreOption {
	return func(cfg *storeConfig) {
		if delay > 0 {
			cfg.retryDelay = delay
		}
	}
}

// WithReaction sets the reaction sent for a positive vote.
func WithReaction(reaction tg.ReactionClass) StoreOption {
	return func(cfg *storeConfig) {
		if reaction != nil {
			cfg.reaction = reaction
		}
	}
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(cfg *storeConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Store is a feed.DocumentStore and feed.RecordWriter over one channel.
//
// Every collection name maps to the same channel; a CollectionRouter decides
// which collections reach this store.
type Store struct {
	rpc       HistoryRPC
	channelID int64
	peer      *tg.InputPeerChannel
	channel   *tg.InputChannel
	cfg       storeConfig
	logger    *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	subs      map[int]*subscription
	nextSubID int
	closed    bool
}

// NewStore creates a store for the channel identified by channelID and accessHash.
//
// Calls block until MarkReady is invoked, which the runtime does once the
// client session is authorized.
func NewStore(rpc HistoryRPC, channelID int64, accessHash int64, options ...StoreOption) (*Store, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram store: nil rpc")
	}
	if channelID <= 0 {
		return nil, fmt.Errorf("new telegram store: channel id must be > 0")
	}

	cfg := storeConfig{
		rpcTimeout: defaultRPCTimeout,
		retryDelay: defaultRetryDelay,
		reaction:   &tg.ReactionEmoji{Emoticon: defaultReaction},
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Store{
		rpc:       rpc,
		channelID: channelID,
		peer:      &tg.InputPeerChannel{ChannelID: channelID, AccessHash: accessHash},
		channel:   &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
		cfg:       cfg,
		logger: cfg.logger.With(
			"component", "telegram_store",
			"channel_id", channelID,
		),
		ready: make(chan struct{}),
		subs:  make(map[int]*subscription),
	}, nil
}

// MarkReady releases calls waiting for the client session.
func (s *Store) MarkReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
		s.logger.Info("telegram store ready", "vote_reaction", reactionToEmoji(s.cfg.reaction))
	})
}

func (s *Store) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for telegram session: %w", ctx.Err())
	}
}

func (s *Store) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.cfg.rpcTimeout)
}

// Close stops every subscription.
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

	return errors.Join(closeErrs...)
}

// HandleEvent marks subscription windows dirty when event touches the channel.
func (s *Store) HandleEvent(ctx context.Context, event ChannelEvent) error {
	if !event.Touches(s.channelID) {
		return nil
	}

	s.logger.DebugContext(ctx, "telegram channel changed",
		"kind", event.Kind,
		"message_ids", event.MessageIDs,
	)
	s.markDirty()

	return nil
}

// Query returns one page of the channel history in feed order.
func (s *Store) Query(ctx context.Context, query feed.Query) (feed.Page, error) {
	op := "query " + query.Collection
	if err := query.Validate(); err != nil {
		return feed.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	plan, err := planQuery(query)
	if err != nil {
		return feed.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	offsetID, err := decodeCursor(query.Cursor.Token)
	if err != nil {
		return feed.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.waitReady(ctx); err != nil {
		return feed.Page{}, classifyError(op, err)
	}

	if plan.id != nil {
		page, err := s.queryByID(ctx, plan)
		if err != nil {
			return feed.Page{}, classifyError(op, err)
		}
		return page, nil
	}

	page, err := s.queryHistory(ctx, plan, offsetID, query.Limit)
	if err != nil {
		return feed.Page{}, classifyError(op, err)
	}

	return page, nil
}

func (s *Store) queryByID(ctx context.Context, plan queryPlan) (feed.Page, error) {
	exhausted := feed.PageCursor{Exhausted: true}
	messageID, err := parseMessageID(*plan.id)
	if err != nil {
		return feed.Page{Items: []feed.Record{}, Next: exhausted}, nil
	}

	rpcCtx, cancel := s.rpcContext(ctx)
	defer cancel()
	messages, err := s.rpc.Messages(rpcCtx, s.channel, []int{messageID})
	if err != nil {
		return feed.Page{}, err
	}

	records := make([]feed.Record, 0, len(messages))
	for _, message := range messages {
		record, ok := messageRecord(message)
		if !ok || !plan.matches(record) {
			continue
		}
		records = append(records, record)
	}

	return feed.Page{Items: records, Next: exhausted}, nil
}

// queryHistory pages through history, filtering client-side and topping up
// across requests until limit records match or the history ends.
func (s *Store) queryHistory(ctx context.Context, plan queryPlan, offsetID int, limit int) (feed.Page, error) {
	fetch := s.rpc.History
	if plan.pinned != nil && *plan.pinned {
		fetch = s.rpc.Pinned
	}
	batch := limit
	if plan.filtersClientSide() {
		batch = maxHistoryBatch
	}
	if batch > maxHistoryBatch {
		batch = maxHistoryBatch
	}

	records := make([]feed.Record, 0, limit)
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return feed.Page{}, err
		}
		rpcCtx, cancel := s.rpcContext(ctx)
		messages, err := fetch(rpcCtx, s.peer, offsetID, batch)
		cancel()
		if err != nil {
			return feed.Page{}, err
		}

		previousOffset := offsetID
		for index, message := range messages {
			offsetID = message.GetID()
			record, ok := messageRecord(message)
			if !ok || !plan.matches(record) {
				continue
			}
			records = append(records, record)
			if len(records) == limit {
				drained := index == len(messages)-1 && len(messages) < batch
				return historyPage(records, offsetID, drained), nil
			}
		}
		if len(messages) < batch {
			return historyPage(records, offsetID, true), nil
		}
		if previousOffset > 0 && offsetID >= previousOffset {
			return feed.Page{}, &decodeError{cause: fmt.Errorf("history did not move past message %d", previousOffset)}
		}
		if round == slowFilterRounds {
			s.logger.DebugContext(ctx, "telegram filtered page still topping up",
				"rounds", round,
				"matched", len(records),
				"offset_id", offsetID,
			)
		}
	}
}

func historyPage(records []feed.Record, offsetID int, exhausted bool) feed.Page {
	feed.SortRecords(records)

	return feed.Page{
		Items: records,
		Next: feed.PageCursor{
			Token:     encodeCursor(offsetID),
			Exhausted: exhausted,
		},
	}
}

// Vote sends the configured reaction for a positive delta and clears the
// caller's reactions for a negative one.
func (s *Store) Vote(ctx context.Context, collection string, id string, delta int64) error {
	op := "vote " + collection
	messageID, err := parseMessageID(id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, feed.ErrRecordNotFound)
	}
	if delta == 0 {
		return nil
	}
	if err := s.waitReady(ctx); err != nil {
		return classifyError(op, err)
	}

	var reactions []tg.ReactionClass
	if delta > 0 {
		reactions = []tg.ReactionClass{s.cfg.reaction}
	}

	rpcCtx, cancel := s.rpcContext(ctx)
	defer cancel()
	if err := s.rpc.SetReaction(rpcCtx, s.peer, messageID, reactions); err != nil {
		return classifyError(op, err)
	}
	s.markDirty()

	return nil
}

// SetVisible revokes a message when visible is false. Deleted messages
// cannot be restored.
func (s *Store) SetVisible(ctx context.Context, collection string, id string, visible bool) error {
	op := "set visible " + collection
	if visible {
		return fmt.Errorf("%s %s: %w: deleted messages cannot be restored", op, id, feed.ErrUnsupported)
	}
	messageID, err := parseMessageID(id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, feed.ErrRecordNotFound)
	}
	if err := s.waitReady(ctx); err != nil {
		return classifyError(op, err)
	}

	rpcCtx, cancel := s.rpcContext(ctx)
	defer cancel()
	if err := s.rpc.Revoke(rpcCtx, s.peer, messageID); err != nil {
		return classifyError(op, err)
	}
	s.markDirty()

	return nil
}

// queryPlan is the parsed filter set of one query.
type queryPlan struct {
	id       *string
	pinned   *bool
	visible  *bool
	authorID *string
	parentID *string
}

func planQuery(query feed.Query) (queryPlan, error) {
	if query.OrderBy.Field != "" && (query.OrderBy.Field != feed.FieldOrderingKey || !query.OrderBy.Descending) {
		return queryPlan{}, fmt.Errorf("%w: unsupported order %s", feed.ErrInvalidQuery, query.OrderBy.Field)
	}

	var plan queryPlan
	for _, filter := range query.Filters {
		switch filter.Field {
		case feed.FieldID:
			value, err := stringFilter(filter)
			if err != nil {
				return queryPlan{}, err
			}
			plan.id = &value
		case feed.FieldAuthorID:
			value, err := stringFilter(filter)
			if err != nil {
				return queryPlan{}, err
			}
			plan.authorID = &value
		case feed.FieldParentID:
			value, err := stringFilter(filter)
			if err != nil {
				return queryPlan{}, err
			}
			plan.parentID = &value
		case feed.FieldPinned:
			value, err := boolFilter(filter)
			if err != nil {
				return queryPlan{}, err
			}
			plan.pinned = &value
		case feed.FieldVisible:
			value, err := boolFilter(filter)
			if err != nil {
				return queryPlan{}, err
			}
			plan.visible = &value
		default:
			return queryPlan{}, fmt.Errorf("%w: unsupported filter field %s", feed.ErrInvalidQuery, filter.Field)
		}
	}

	return plan, nil
}

// filtersClientSide reports whether history results need local filtering.
func (p queryPlan) filtersClientSide() bool {
	return (p.pinned != nil && !*p.pinned) || p.visible != nil || p.authorID != nil || p.parentID != nil
}

func (p queryPlan) matches(record feed.Record) bool {
	switch {
	case p.id != nil && record.ID != *p.id:
		return false
	case p.pinned != nil && record.Pinned != *p.pinned:
		return false
	case p.visible != nil && record.Visible != *p.visible:
		return false
	case p.authorID != nil && record.AuthorID != *p.authorID:
		return false
	case p.parentID != nil && record.ParentID != *p.parentID:
		return false
	default:
		return true
	}
}

func stringFilter(filter feed.Filter) (string, error) {
	value, ok := filter.Value.(string)
	if !ok {
		return "", fmt.Errorf("%w: filter %s wants string, got %T", feed.ErrInvalidQuery, filter.Field, filter.Value)
	}

	return value, nil
}

func boolFilter(filter feed.Filter) (bool, error) {
	value, ok := filter.Value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: filter %s wants bool, got %T", feed.ErrInvalidQuery, filter.Field, filter.Value)
	}

	return value, nil
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse message id %q: %w", raw, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("parse message id %q: must be > 0", raw)
	}

	return value, nil
}

// encodeCursor renders the history offset id; zero means "from the latest".
func encodeCursor(offsetID int) string {
	if offsetID <= 0 {
		return ""
	}

	return strconv.Itoa(offsetID)
}

func decodeCursor(token string) (int, error) {
	if token == "" {
		return 0, nil
	}

	offsetID, err := strconv.Atoi(token)
	if err != nil || offsetID <= 0 {
		return 0, fmt.Errorf("%w: offset %q", feed.ErrInvalidCursor, token)
	}

	return offsetID, nil
}
