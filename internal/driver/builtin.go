package driver

import (
	"context"
	"fmt"
	"log/slog"

	"ex-feedsync/internal/driver/sqlite"
	"ex-feedsync/internal/driver/telegram"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in backends.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type: sqlite.DriverType,
			Builder: func(
				ctx context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				store, err := sqlite.BuildStoreFromConfig(ctx, builderLogger, definition.Config)
				if err != nil {
					return Runtime{}, fmt.Errorf("build sqlite store from config: %w", err)
				}

				return Runtime{
					Store: store,
					Close: store.Close,
				}, nil
			},
		},
		{
			Type: telegram.DriverType,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				store, source, err := telegram.BuildRuntimeFromConfig(builderLogger, definition.Config)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime from config: %w", err)
				}

				return Runtime{
					Store: store,
					Run: func(ctx context.Context) error {
						return source.Consume(ctx, store.HandleEvent)
					},
					Close: store.Close,
				}, nil
			},
		},
	})
}
