package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ex-feedsync/internal/driver"
	"ex-feedsync/internal/engine"
	"ex-feedsync/internal/media"
	"ex-feedsync/pkg/feed"
)

const metricsReadHeaderTimeout = 5 * time.Second

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin backend registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtimes, err := registry.BuildEnabled(ctx, cfg.backends, logger)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	router, err := driver.NewCollectionRouter(runtimes, cfg.routes)
	if err != nil {
		return errors.Join(fmt.Errorf("build collection router: %w", err), driver.CloseAll(ctx, runtimes))
	}
	mediaStore, closeMedia, err := buildMediaStore(ctx, cfg.media, logger)
	if err != nil {
		return errors.Join(fmt.Errorf("build media store: %w", err), driver.CloseAll(ctx, runtimes))
	}

	options := append(cfg.engine.options(),
		engine.WithLogger(logger),
		engine.WithMediaStore(mediaStore),
		engine.WithViewObserver(logView(logger)),
	)
	feedEngine, err := engine.New(router, options...)
	if err != nil {
		return errors.Join(fmt.Errorf("new engine: %w", err), closeMedia(), driver.CloseAll(ctx, runtimes))
	}

	runErr := serve(ctx, logger, cfg, runtimes, feedEngine)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.shutdownTimeout)
	defer cancel()

	return errors.Join(
		runErr,
		feedEngine.Close(shutdownCtx),
		closeMedia(),
		driver.CloseAll(shutdownCtx, runtimes),
	)
}

func serve(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	runtimes []driver.Runtime,
	feedEngine *engine.Engine,
) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	for _, runtime := range runtimes {
		if runtime.Run == nil {
			continue
		}
		group.Go(func() error {
			logger.InfoContext(groupCtx, "backend session starting", "backend", runtime.Name, "type", runtime.Type)
			if err := runtime.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run backend %s: %w", runtime.Name, err)
			}
			return nil
		})
	}
	if cfg.metricsAddr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.metricsAddr, logger)
		})
	}

	if err := feedEngine.Start(groupCtx); err != nil {
		cancel()
		return errors.Join(fmt.Errorf("start engine: %w", err), waitGroup(group))
	}

	group.Go(func() error {
		if err := feedEngine.Load(groupCtx); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			logger.WarnContext(groupCtx, "initial load failed; use refresh to retry", "error", err)
		}
		return nil
	})

	lines := scanLines(os.Stdin)
	group.Go(func() error {
		return runCommands(groupCtx, feedEngine, lines, os.Stdout, logger)
	})

	return waitGroup(group)
}

func waitGroup(group *errgroup.Group) error {
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "metrics server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return nil
}

func buildMediaStore(ctx context.Context, cfg mediaConfig, logger *slog.Logger) (feed.MediaStore, func() error, error) {
	routes := make(map[string]feed.MediaStore, 3)
	closeFn := func() error { return nil }

	if cfg.http {
		httpStore := media.NewHTTPStore(media.WithMaxBytes(cfg.maxBytes), media.WithHTTPLogger(logger))
		routes["http"] = httpStore
		routes["https"] = httpStore
	}
	if cfg.gcs != nil {
		gcsCfg := *cfg.gcs
		if gcsCfg.MaxBytes == 0 {
			gcsCfg.MaxBytes = cfg.maxBytes
		}
		gcsStore, err := media.NewGCSStore(ctx, gcsCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		routes[media.SchemeGCS] = gcsStore
		closeFn = gcsStore.Close
	}
	if len(routes) == 0 {
		return nil, closeFn, nil
	}

	router, err := media.NewRouter(routes)
	if err != nil {
		return nil, nil, errors.Join(err, closeFn())
	}

	return router, closeFn, nil
}

func logView(logger *slog.Logger) feed.ViewObserver {
	return func(ctx context.Context, view feed.View) {
		logger.InfoContext(ctx, "feed view updated",
			"epoch", view.Epoch,
			"state", view.State,
			"records", len(view.Records),
			"pinned", view.Pinned,
			"shown", view.ShownCount,
			"total", view.Total,
			"has_more", view.HasMore,
		)
	}
}
