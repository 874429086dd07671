package engine

import (
	"log/slog"
	"time"

	"ex-feedsync/pkg/feed"
)

const (
	defaultCollection        = "posts"
	defaultProfileCollection = "profiles"
	defaultCommentCollection = "comments"
	defaultPageSize          = 10
	defaultPinnedCapacity    = 2
	defaultPushWindow        = 15
	defaultCommentPageSize   = 20
	defaultQueueSize         = 64

	defaultProfileCacheCapacity = 12
	defaultCommentCacheCapacity = 6
	defaultMediaCacheCapacity   = 24
	defaultCacheSweepInterval   = 30 * time.Minute

	defaultMinInterval      = 2 * time.Second
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

// CacheConfig sizes one auxiliary cache.
type CacheConfig struct {
	// Capacity bounds the number of entries.
	Capacity int
	// SweepInterval sets how often the background sweep runs.
	SweepInterval time.Duration
	// MaxIdle expires entries untouched for longer; zero disables idle expiry.
	MaxIdle time.Duration
}

// config stores resolved engine settings after option application.
type config struct {
	collection        string
	profileCollection string
	commentCollection string
	baseFilters       []feed.Filter
	pageSize          int
	pinnedCapacity    int
	pushWindow        int
	commentPageSize   int
	queueSize         int

	profileCache CacheConfig
	commentCache CacheConfig
	mediaCache   CacheConfig

	minInterval      time.Duration
	failureThreshold uint32
	cooldown         time.Duration

	logger     *slog.Logger
	clock      func() time.Time
	observers  []feed.ViewObserver
	mediaStore feed.MediaStore
}

// Option mutates engine construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		collection:        defaultCollection,
		profileCollection: defaultProfileCollection,
		commentCollection: defaultCommentCollection,
		pageSize:          defaultPageSize,
		pinnedCapacity:    defaultPinnedCapacity,
		pushWindow:        defaultPushWindow,
		commentPageSize:   defaultCommentPageSize,
		queueSize:         defaultQueueSize,
		profileCache: CacheConfig{
			Capacity:      defaultProfileCacheCapacity,
			SweepInterval: defaultCacheSweepInterval,
		},
		commentCache: CacheConfig{
			Capacity:      defaultCommentCacheCapacity,
			SweepInterval: defaultCacheSweepInterval,
		},
		mediaCache: CacheConfig{
			Capacity:      defaultMediaCacheCapacity,
			SweepInterval: defaultCacheSweepInterval,
		},
		minInterval:      defaultMinInterval,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
		logger:           slog.Default(),
		clock:            time.Now,
	}
}

// WithCollection sets the feed collection name.
func WithCollection(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.collection = name
		}
	}
}

// WithProfileCollection sets the collection profiles are looked up in.
func WithProfileCollection(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.profileCollection = name
		}
	}
}

// WithCommentCollection sets the collection comments are looked up in.
func WithCommentCollection(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.commentCollection = name
		}
	}
}

// WithBaseFilters adds filters applied to every feed query and subscription.
func WithBaseFilters(filters ...feed.Filter) Option {
	return func(cfg *config) {
		cfg.baseFilters = append(cfg.baseFilters, filters...)
	}
}

// WithPageSize sets the regular page size.
func WithPageSize(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.pageSize = size
		}
	}
}

// WithPinnedCapacity sets the pinned set bound.
func WithPinnedCapacity(capacity int) Option {
	return func(cfg *config) {
		if capacity > 0 {
			cfg.pinnedCapacity = capacity
		}
	}
}

// WithPushWindow sets the regular push subscription window size.
func WithPushWindow(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.pushWindow = size
		}
	}
}

// WithCommentPageSize sets how many comments one comment-page fetch returns.
func WithCommentPageSize(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.commentPageSize = size
		}
	}
}

// WithQueueSize sets the sequencer queue depth.
func WithQueueSize(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.queueSize = size
		}
	}
}

// WithProfileCache sizes the profile cache.
func WithProfileCache(cache CacheConfig) Option {
	return func(cfg *config) {
		cfg.profileCache = mergeCacheConfig(cfg.profileCache, cache)
	}
}

// WithCommentCache sizes the comment page cache.
func WithCommentCache(cache CacheConfig) Option {
	return func(cfg *config) {
		cfg.commentCache = mergeCacheConfig(cfg.commentCache, cache)
	}
}

// WithMediaCache sizes the media bytes cache.
func WithMediaCache(cache CacheConfig) Option {
	return func(cfg *config) {
		cfg.mediaCache = mergeCacheConfig(cfg.mediaCache, cache)
	}
}

// WithMinInterval sets the governor minimum inter-request interval.
func WithMinInterval(interval time.Duration) Option {
	return func(cfg *config) {
		if interval >= 0 {
			cfg.minInterval = interval
		}
	}
}

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(threshold uint32) Option {
	return func(cfg *config) {
		if threshold > 0 {
			cfg.failureThreshold = threshold
		}
	}
}

// WithCooldown sets how long the governor circuit stays open.
func WithCooldown(cooldown time.Duration) Option {
	return func(cfg *config) {
		if cooldown > 0 {
			cfg.cooldown = cooldown
		}
	}
}

// WithLogger configures the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock injects the time source shared by the governor, caches and views.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithViewObserver registers a callback run on the sequencer after every view
// change. Observers must not block or call back into the engine synchronously.
func WithViewObserver(observer feed.ViewObserver) Option {
	return func(cfg *config) {
		if observer != nil {
			cfg.observers = append(cfg.observers, observer)
		}
	}
}

// WithMediaStore configures the media backend used by Media.
func WithMediaStore(store feed.MediaStore) Option {
	return func(cfg *config) {
		if store != nil {
			cfg.mediaStore = store
		}
	}
}

func mergeCacheConfig(current CacheConfig, override CacheConfig) CacheConfig {
	if override.Capacity > 0 {
		current.Capacity = override.Capacity
	}
	if override.SweepInterval > 0 {
		current.SweepInterval = override.SweepInterval
	}
	if override.MaxIdle > 0 {
		current.MaxIdle = override.MaxIdle
	}

	return current
}
