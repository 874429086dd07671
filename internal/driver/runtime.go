package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"ex-feedsync/pkg/feed"
)

// Definition describes one configured backend entry.
type Definition struct {
	// Name is the stable configured backend instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores backend-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built backend instance.
type Runtime struct {
	// Name is the configured backend instance name.
	Name string
	// Type is the backend type token the runtime was built from.
	Type string
	// Store serves queries and push subscriptions.
	Store feed.DocumentStore
	// Run drives background work, such as a client session, until ctx ends.
	// It is nil when the store needs none.
	Run func(ctx context.Context) error
	// Close releases resources held by Store. It may be nil.
	Close func(ctx context.Context) error
}

// BuilderFunc builds one runtime from one configured backend definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one backend type token to a runtime builder.
type Descriptor struct {
	// Type is the backend type token from configuration (for example "sqlite").
	Type string
	// Builder constructs one runtime instance for this backend type.
	Builder BuilderFunc
}

// Registry maps backend types to runtime builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable backend registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{
		builders: builders,
		types:    types,
	}, nil
}

// Types returns all registered backend types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// BuildEnabled builds all enabled backend definitions in definition order.
//
// Runtimes built before a failure are closed before the error is returned.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build backends: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	fail := func(err error) ([]Runtime, error) {
		return nil, errors.Join(err, CloseAll(ctx, runtimes))
	}

	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return fail(fmt.Errorf("build backend: empty name"))
		}
		if _, exists := seenNames[definition.Name]; exists {
			return fail(fmt.Errorf("build backend %s: duplicate name", definition.Name))
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return fail(fmt.Errorf("build backend %s: empty type", definition.Name))
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return fail(fmt.Errorf("build backend %s type %s: unsupported type", definition.Name, definition.Type))
		}

		runtime, err := builder(ctx, definition, logger)
		if err != nil {
			return fail(fmt.Errorf("build backend %s type %s: %w", definition.Name, definition.Type, err))
		}
		if runtime.Store == nil {
			if runtime.Close != nil {
				_ = runtime.Close(ctx)
			}
			return fail(fmt.Errorf("build backend %s type %s: nil store", definition.Name, definition.Type))
		}
		runtime.Name = definition.Name
		runtime.Type = definition.Type

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

// CloseAll closes every runtime in reverse build order and joins failures.
func CloseAll(ctx context.Context, runtimes []Runtime) error {
	var closeErrs []error
	for index := len(runtimes) - 1; index >= 0; index-- {
		runtime := runtimes[index]
		if runtime.Close == nil {
			continue
		}
		if err := runtime.Close(ctx); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close backend %s: %w", runtime.Name, err))
		}
	}

	return errors.Join(closeErrs...)
}
