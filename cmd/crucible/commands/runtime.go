package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/crucible-io/crucible/pkg/backend/memory"
	"github.com/crucible-io/crucible/pkg/config"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/projection"
	"github.com/crucible-io/crucible/pkg/telemetry"
)

// runtime bundles everything a command needs: configuration, logging,
// metrics, tracing and the persistent identity store.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	sqlite  *identity.SQLiteStore
	store   *identity.MemStore
}

// newRuntime loads configuration, builds the telemetry stack and opens
// the identity store.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Tracing.Enabled = cfg.Tracing
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("building metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("building tracer: %w", err)
	}

	if cfg.MetricsAddr != "" {
		if handler := metrics.Handler(); handler != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", handler)
			go func() {
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					logger.Warn().Err(err).Msg("metrics endpoint stopped")
				}
			}()
		}
	}

	sqlite, err := identity.OpenSQLiteStore(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}
	store, err := sqlite.Load(ctx)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("loading identity store: %w", err)
	}
	store = store.WithLogger(logger)

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		sqlite:  sqlite,
		store:   store,
	}, nil
}

// Close persists identity mappings learned during the run and shuts the
// telemetry stack down.
func (r *runtime) Close(ctx context.Context) error {
	var firstErr error
	if err := r.sqlite.Save(ctx, r.store); err != nil {
		firstErr = fmt.Errorf("saving identity store: %w", err)
	}
	if err := r.sqlite.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.tracer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// loadInventory reads and loads the configured inventory file.
func (r *runtime) loadInventory() (model.Inventory, error) {
	inv, err := model.LoadInventoryFile(r.cfg.Inventory)
	if err != nil {
		return model.Inventory{}, err
	}
	return inv, nil
}

// loadRules reads the configured rule set. No configured path means no
// projection.
func (r *runtime) loadRules() (*projection.RuleSet, error) {
	if r.cfg.Rules == "" {
		return nil, nil
	}
	return projection.LoadRulesFile(r.cfg.Rules)
}

// openBackend builds the configured backend adapter.
func (r *runtime) openBackend(schema model.Schema) (*memory.Backend, error) {
	if r.cfg.Backend.Name != "memory" {
		return nil, fmt.Errorf("unknown backend %q", r.cfg.Backend.Name)
	}
	opts := []memory.Option{memory.WithIdentities(r.store)}
	if r.cfg.Backend.StringIDs {
		opts = append(opts, memory.WithStringIDs())
	}
	b := memory.New(schema, opts...)
	if path := r.cfg.Backend.Snapshot; path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := b.LoadFile(path); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// saveBackend persists the memory adapter snapshot, when configured.
func (r *runtime) saveBackend(b *memory.Backend) error {
	if path := r.cfg.Backend.Snapshot; path != "" {
		return b.SaveFile(path)
	}
	return nil
}
