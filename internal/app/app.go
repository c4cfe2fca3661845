// Package app assembles keyhub's components from configuration. The HTTP
// server, the admin CLI and the integration tests all build through here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keyhub/internal/dispense"
	"keyhub/internal/gate"
	"keyhub/internal/models"
	"keyhub/internal/observability"
	"keyhub/internal/pool"
	"keyhub/internal/storage"
	"keyhub/internal/usage"
	"keyhub/internal/verify"
)

// App holds the wired components.
type App struct {
	Config     *models.Config
	Store      storage.Storage
	Docs       *storage.Documents
	Clock      usage.Clock
	Accountant *usage.Accountant
	Gate       *gate.Gate
	Allocator  *pool.Allocator
	Verifier   *verify.Verifier
	Service    dispense.ServiceInterface
}

type options struct {
	instrument bool
	store      storage.Storage
	checker    verify.Checker
	picker     pool.Picker
}

type Option func(*options)

// WithInstrumentation wraps storage and the service with OpenTelemetry
// spans and metrics from the global providers.
func WithInstrumentation(enabled bool) Option {
	return func(o *options) { o.instrument = enabled }
}

// WithStore uses store instead of creating one from the configuration.
// The App takes ownership and closes it.
func WithStore(store storage.Storage) Option {
	return func(o *options) { o.store = store }
}

// WithChecker replaces the checker selected by the verify configuration.
func WithChecker(checker verify.Checker) Option {
	return func(o *options) { o.checker = checker }
}

// WithPicker replaces the random index source used by the allocator.
func WithPicker(picker pool.Picker) Option {
	return func(o *options) { o.picker = picker }
}

// New builds every component. The caller must Close the App.
func New(cfg *models.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Usage.LoadLocation()
	if err != nil {
		return nil, fmt.Errorf("invalid usage location: %w", err)
	}
	clock := usage.SystemClock{Location: loc}

	store := o.store
	if store == nil {
		store, err = storage.NewFactory().Create(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	active := store
	if o.instrument {
		instrumented, err := observability.NewInstrumentedStorage(store)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create instrumented storage: %w", err)
		}
		active = instrumented
	}

	docs := storage.NewDocuments(active, clock.Now)
	accountant := usage.NewAccountant(docs, clock)
	allocator := pool.NewAllocator(docs, accountant, o.picker)

	checker := o.checker
	if checker == nil {
		checker, err = verify.NewChecker(cfg.Verify, allocator)
		if err != nil {
			active.Close()
			return nil, fmt.Errorf("failed to create key checker: %w", err)
		}
	}
	verifier := verify.NewVerifier(accountant, checker, cfg.Verify.KeyPrefix, cfg.Verify.MinLength)
	g := gate.New(docs, clock)

	var service dispense.ServiceInterface = dispense.NewService(g, allocator, verifier, accountant, active)
	if o.instrument {
		instrumented, err := observability.NewInstrumentedService(service)
		if err != nil {
			active.Close()
			return nil, fmt.Errorf("failed to create instrumented service: %w", err)
		}
		service = instrumented
	}

	return &App{
		Config:     cfg,
		Store:      active,
		Docs:       docs,
		Clock:      clock,
		Accountant: accountant,
		Gate:       g,
		Allocator:  allocator,
		Verifier:   verifier,
		Service:    service,
	}, nil
}

// SeedKeys gathers the configured seed file and inline seed keys.
func (a *App) SeedKeys() ([]string, error) {
	var fromFile []string
	if path := a.Config.Pool.SeedFile; path != "" {
		keys, err := pool.LoadSeedFile(path)
		if err != nil {
			return nil, err
		}
		fromFile = keys
	}
	return pool.MergeSeeds(fromFile, a.Config.Pool.SeedKeys), nil
}

// Seed creates the key pool from the configured seeds when no pool exists.
// It does nothing in function mode.
func (a *App) Seed(ctx context.Context) (bool, error) {
	if a.Config.Server.Mode != models.ModeServer {
		slog.Debug("Skipping pool seeding", "mode", a.Config.Server.Mode)
		return false, nil
	}
	keys, err := a.SeedKeys()
	if err != nil {
		return false, err
	}
	return pool.Seed(ctx, a.Docs, keys)
}

// Location is the zone the usage date is computed in.
func (a *App) Location() *time.Location {
	if c, ok := a.Clock.(usage.SystemClock); ok && c.Location != nil {
		return c.Location
	}
	return time.Local
}

func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
