package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"ex-feedsync/internal/driver"
	"ex-feedsync/internal/engine"
	"ex-feedsync/internal/media"
	"ex-feedsync/pkg/feed"
)

const (
	envConfigFile           = "FEEDSYNC_CONFIG_FILE"
	defaultConfigFilePath   = "config/feedd.json"
	alternateConfigFilePath = "bin/config/feedd.json"
	defaultShutdownTimeout  = 10 * time.Second
)

type appConfig struct {
	logLevel        slog.Level
	metricsAddr     string
	shutdownTimeout time.Duration

	backends []driver.Definition
	routes   map[string]string

	engine engineConfig
	media  mediaConfig
}

type engineConfig struct {
	collection        string
	profileCollection string
	commentCollection string
	baseFilters       []feed.Filter

	pageSize        int
	pinnedCapacity  int
	pushWindow      int
	commentPageSize int
	queueSize       int

	minInterval      *time.Duration
	failureThreshold uint32
	cooldown         time.Duration

	profileCache engine.CacheConfig
	commentCache engine.CacheConfig
	mediaCache   engine.CacheConfig
}

type mediaConfig struct {
	http     bool
	maxBytes int64
	gcs      *media.GCSConfig
}

type fileConfig struct {
	LogLevel        string             `json:"log_level"`
	MetricsAddr     string             `json:"metrics_addr"`
	ShutdownTimeout string             `json:"shutdown_timeout"`
	Backends        []fileBackendEntry `json:"backends"`
	Routes          map[string]string  `json:"routes"`
	Engine          fileEngineConfig   `json:"engine"`
	Media           fileMediaConfig    `json:"media"`
}

type fileBackendEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileEngineConfig struct {
	Collection        string            `json:"collection"`
	ProfileCollection string            `json:"profile_collection"`
	CommentCollection string            `json:"comment_collection"`
	Filters           map[string]string `json:"filters"`
	PageSize          *int              `json:"page_size"`
	PinnedCapacity    *int              `json:"pinned_capacity"`
	PushWindow        *int              `json:"push_window"`
	CommentPageSize   *int              `json:"comment_page_size"`
	QueueSize         *int              `json:"queue_size"`
	MinInterval       string            `json:"min_interval"`
	FailureThreshold  *int              `json:"failure_threshold"`
	Cooldown          string            `json:"cooldown"`
	ProfileCache      fileCacheConfig   `json:"profile_cache"`
	CommentCache      fileCacheConfig   `json:"comment_cache"`
	MediaCache        fileCacheConfig   `json:"media_cache"`
}

type fileCacheConfig struct {
	Capacity      *int   `json:"capacity"`
	SweepInterval string `json:"sweep_interval"`
	MaxIdle       string `json:"max_idle"`
}

type fileMediaConfig struct {
	HTTP     *bool            `json:"http"`
	MaxBytes int64            `json:"max_bytes"`
	GCS      *media.GCSConfig `json:"gcs"`
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:        slog.LevelInfo,
		shutdownTimeout: defaultShutdownTimeout,
		backends:        make([]driver.Definition, 0),
		routes:          make(map[string]string),
		media:           mediaConfig{http: true},
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	cfg.metricsAddr = strings.TrimSpace(parsed.MetricsAddr)
	if rawTimeout := strings.TrimSpace(parsed.ShutdownTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout, "shutdown_timeout")
		if err != nil {
			return err
		}
		cfg.shutdownTimeout = timeout
	}

	cfg.backends = make([]driver.Definition, 0, len(parsed.Backends))
	for index, entry := range parsed.Backends {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse backends[%d].config: required", index)
		}
		cfg.backends = append(cfg.backends, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	cfg.routes = make(map[string]string, len(parsed.Routes))
	for collection, backend := range parsed.Routes {
		cfg.routes[strings.TrimSpace(collection)] = strings.TrimSpace(backend)
	}

	engineCfg, err := parseEngineConfig(parsed.Engine)
	if err != nil {
		return err
	}
	cfg.engine = engineCfg

	if parsed.Media.HTTP != nil {
		cfg.media.http = *parsed.Media.HTTP
	}
	if parsed.Media.MaxBytes < 0 {
		return fmt.Errorf("parse media.max_bytes: must be >= 0")
	}
	cfg.media.maxBytes = parsed.Media.MaxBytes
	cfg.media.gcs = parsed.Media.GCS

	return nil
}

func parseEngineConfig(raw fileEngineConfig) (engineConfig, error) {
	cfg := engineConfig{
		collection:        strings.TrimSpace(raw.Collection),
		profileCollection: strings.TrimSpace(raw.ProfileCollection),
		commentCollection: strings.TrimSpace(raw.CommentCollection),
	}
	for _, field := range slices.Sorted(maps.Keys(raw.Filters)) {
		cfg.baseFilters = append(cfg.baseFilters, feed.Eq(field, raw.Filters[field]))
	}

	sizes := []struct {
		raw   *int
		dst   *int
		scope string
	}{
		{raw: raw.PageSize, dst: &cfg.pageSize, scope: "engine.page_size"},
		{raw: raw.PinnedCapacity, dst: &cfg.pinnedCapacity, scope: "engine.pinned_capacity"},
		{raw: raw.PushWindow, dst: &cfg.pushWindow, scope: "engine.push_window"},
		{raw: raw.CommentPageSize, dst: &cfg.commentPageSize, scope: "engine.comment_page_size"},
		{raw: raw.QueueSize, dst: &cfg.queueSize, scope: "engine.queue_size"},
	}
	for _, size := range sizes {
		if size.raw == nil {
			continue
		}
		if *size.raw <= 0 {
			return engineConfig{}, fmt.Errorf("parse %s: must be > 0", size.scope)
		}
		*size.dst = *size.raw
	}

	if rawInterval := strings.TrimSpace(raw.MinInterval); rawInterval != "" {
		interval, err := time.ParseDuration(rawInterval)
		if err != nil {
			return engineConfig{}, fmt.Errorf("parse engine.min_interval: %w", err)
		}
		if interval < 0 {
			return engineConfig{}, fmt.Errorf("parse engine.min_interval: must be >= 0")
		}
		cfg.minInterval = &interval
	}
	if raw.FailureThreshold != nil {
		if *raw.FailureThreshold <= 0 {
			return engineConfig{}, fmt.Errorf("parse engine.failure_threshold: must be > 0")
		}
		cfg.failureThreshold = uint32(*raw.FailureThreshold)
	}
	if rawCooldown := strings.TrimSpace(raw.Cooldown); rawCooldown != "" {
		cooldown, err := parsePositiveDuration(rawCooldown, "engine.cooldown")
		if err != nil {
			return engineConfig{}, err
		}
		cfg.cooldown = cooldown
	}

	caches := []struct {
		raw   fileCacheConfig
		dst   *engine.CacheConfig
		scope string
	}{
		{raw: raw.ProfileCache, dst: &cfg.profileCache, scope: "engine.profile_cache"},
		{raw: raw.CommentCache, dst: &cfg.commentCache, scope: "engine.comment_cache"},
		{raw: raw.MediaCache, dst: &cfg.mediaCache, scope: "engine.media_cache"},
	}
	for _, entry := range caches {
		parsed, err := parseCacheConfig(entry.raw, entry.scope)
		if err != nil {
			return engineConfig{}, err
		}
		*entry.dst = parsed
	}

	return cfg, nil
}

func parseCacheConfig(raw fileCacheConfig, scope string) (engine.CacheConfig, error) {
	var cfg engine.CacheConfig
	if raw.Capacity != nil {
		if *raw.Capacity <= 0 {
			return engine.CacheConfig{}, fmt.Errorf("parse %s.capacity: must be > 0", scope)
		}
		cfg.Capacity = *raw.Capacity
	}
	if rawSweep := strings.TrimSpace(raw.SweepInterval); rawSweep != "" {
		sweep, err := parsePositiveDuration(rawSweep, scope+".sweep_interval")
		if err != nil {
			return engine.CacheConfig{}, err
		}
		cfg.SweepInterval = sweep
	}
	if rawIdle := strings.TrimSpace(raw.MaxIdle); rawIdle != "" {
		idle, err := parsePositiveDuration(rawIdle, scope+".max_idle")
		if err != nil {
			return engine.CacheConfig{}, err
		}
		cfg.MaxIdle = idle
	}

	return cfg, nil
}

func parsePositiveDuration(raw string, scope string) (time.Duration, error) {
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", scope, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", scope)
	}

	return value, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil backend registry")
	}

	knownTypes := make(map[string]struct{})
	for _, backendType := range registry.Types() {
		knownTypes[backendType] = struct{}{}
	}

	seen := make(map[string]struct{}, len(cfg.backends))
	enabled := make(map[string]struct{}, len(cfg.backends))
	for _, definition := range cfg.backends {
		if definition.Name == "" {
			return fmt.Errorf("backends[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("backends[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("backends[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, known := knownTypes[definition.Type]; !known {
			return fmt.Errorf("backends[%s].type: unsupported type %s", definition.Name, definition.Type)
		}
		enabled[definition.Name] = struct{}{}
	}
	if len(enabled) == 0 {
		return fmt.Errorf("at least one enabled backend is required")
	}

	for collection, backend := range cfg.routes {
		if collection == "" {
			return fmt.Errorf("routes: empty collection")
		}
		if _, exists := enabled[backend]; !exists {
			return fmt.Errorf("routes.%s: unknown enabled backend %s", collection, backend)
		}
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func (c engineConfig) options() []engine.Option {
	options := []engine.Option{
		engine.WithCollection(c.collection),
		engine.WithProfileCollection(c.profileCollection),
		engine.WithCommentCollection(c.commentCollection),
		engine.WithPageSize(c.pageSize),
		engine.WithPinnedCapacity(c.pinnedCapacity),
		engine.WithPushWindow(c.pushWindow),
		engine.WithCommentPageSize(c.commentPageSize),
		engine.WithQueueSize(c.queueSize),
		engine.WithFailureThreshold(c.failureThreshold),
		engine.WithCooldown(c.cooldown),
		engine.WithProfileCache(c.profileCache),
		engine.WithCommentCache(c.commentCache),
		engine.WithMediaCache(c.mediaCache),
	}
	if len(c.baseFilters) > 0 {
		options = append(options, engine.WithBaseFilters(c.baseFilters...))
	}
	if c.minInterval != nil {
		options = append(options, engine.WithMinInterval(*c.minInterval))
	}

	return options
}
