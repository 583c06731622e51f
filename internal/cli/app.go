package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lkoehl/pairsync/internal/config"
	"github.com/lkoehl/pairsync/internal/conflict"
	"github.com/lkoehl/pairsync/internal/engine"
	"github.com/lkoehl/pairsync/internal/model"
	"github.com/lkoehl/pairsync/internal/provider"
	"github.com/lkoehl/pairsync/internal/relstore"
	"github.com/lkoehl/pairsync/internal/telemetry"
	"github.com/lkoehl/pairsync/internal/typegraph"
)

// telemetryFlushTimeout bounds the final OTLP flush during shutdown.
const telemetryFlushTimeout = 5 * time.Second

// app bundles everything a sync pass needs: loaded config, logger, the
// relationship store, the conflict resolver, the engine, and the
// instantiated conduits. Built once per command invocation by newApp and
// torn down by Close.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *relstore.Store
	resolver *conflict.Resolver
	engine   *engine.Engine
	conduits []*engine.Conduit

	shutdownTel telemetry.ShutdownFunc
}

// newApp wires the full application from the config file: logger, optional
// telemetry, relationship store, provider registry, type graph, resolver,
// engine, and one conduit per config entry.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", opts.Config, err)
	}

	logger := newLogger(cfg.Log, opts.Verbose)
	slog.SetDefault(logger)
	logger.Info("config loaded", "conduits", len(cfg.Conduits), "poll_interval", cfg.PollInterval)

	a := &app{cfg: cfg, log: logger}

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.shutdownTel = shutdownTel
		}
	}

	storePath := cfg.StorePath
	if storePath == "" {
		storePath, err = relstore.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving relationship store path: %w", err)
		}
	}
	a.store, err = relstore.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("opening relationship store at %q: %w", storePath, err)
	}
	logger.Info("relationship store opened", "path", storePath)

	registry := provider.NewRegistry()
	registry.Register("folder", provider.NewFolderFactory())

	graph := typegraph.New()
	registerConversions(graph)

	a.resolver = conflict.NewResolver(cfg.ResolverWorkers, recordResolution(a.store), logger)
	a.engine = engine.NewEngine(graph, a.resolver, a.store, logger)

	for i := range cfg.Conduits {
		c, err := buildConduit(&cfg.Conduits[i], registry, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.conduits = append(a.conduits, c)
	}

	return a, nil
}

// Close tears the app down in reverse wiring order. Safe to call after a
// partial newApp failure.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.resolver != nil {
		a.resolver.Wait()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("closing relationship store", "error", err)
		}
	}
	if a.shutdownTel != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := a.shutdownTel(flushCtx); err != nil {
			a.log.Error("telemetry shutdown error", "error", err)
		}
	}
}

// newLogger builds the slog logger, teeing to a rotating file when the log
// block is configured.
func newLogger(lc *config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if lc != nil {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   lc.Path,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
		})
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// registerConversions installs the built-in conversion edges. File items
// carry their payload as-is, so both hops to and from the text hub are plain
// retypings.
func registerConversions(g *typegraph.Graph) {
	retype := func(to string) typegraph.ConvertFunc {
		return func(item *model.Item) (*model.Item, error) {
			out := *item
			out.Type = to
			return &out, nil
		}
	}
	g.Register(provider.FileType, typegraph.TextType, retype(typegraph.TextType))
	g.Register(typegraph.TextType, provider.FileType, retype(provider.FileType))
}

// recordResolution returns the resolver callback that keeps the relationship
// store in step with applied decisions. An empty id on either side means
// that side's copy was deleted, so the record is dropped instead of saved.
func recordResolution(store *relstore.Store) conflict.ResolvedFunc {
	return func(ctx context.Context, pairKey, sourceID, sinkID string) error {
		switch {
		case sourceID == "" && sinkID == "":
			return nil
		case sourceID == "":
			return store.DeleteRelationship(ctx, pairKey, sinkID)
		case sinkID == "":
			return store.DeleteRelationship(ctx, pairKey, sourceID)
		default:
			return store.SaveRelationship(ctx, pairKey, sourceID, sinkID)
		}
	}
}

// buildConduit instantiates the conduit's providers through the registry and
// parses its mode and policies.
func buildConduit(cc *config.ConduitConfig, registry *provider.Registry, logger *slog.Logger) (*engine.Conduit, error) {
	source, err := registry.New(cc.Source.Type, cc.Source.Name, cc.Source.Options, logger)
	if err != nil {
		return nil, fmt.Errorf("conduit %q source: %w", cc.Name, err)
	}

	sinks := make([]provider.Provider, 0, len(cc.Sinks))
	for i := range cc.Sinks {
		sink, err := registry.New(cc.Sinks[i].Type, cc.Sinks[i].Name, cc.Sinks[i].Options, logger)
		if err != nil {
			return nil, fmt.Errorf("conduit %q sinks[%d]: %w", cc.Name, i, err)
		}
		sinks = append(sinks, sink)
	}

	mode, err := engine.ParseMode(cc.Mode)
	if err != nil {
		return nil, fmt.Errorf("conduit %q: %w", cc.Name, err)
	}
	conflictPolicy, err := engine.ParsePolicy(cc.ConflictPolicy)
	if err != nil {
		return nil, fmt.Errorf("conduit %q: %w", cc.Name, err)
	}
	missingPolicy, err := engine.ParsePolicy(cc.MissingPolicy)
	if err != nil {
		return nil, fmt.Errorf("conduit %q: %w", cc.Name, err)
	}

	return &engine.Conduit{
		Name:           cc.Name,
		Source:         source,
		Sinks:          sinks,
		Mode:           mode,
		ConflictPolicy: conflictPolicy,
		MissingPolicy:  missingPolicy,
	}, nil
}

// runAllConduits starts every conduit and waits for all summaries. Order of
// the returned slice matches a.conduits.
func (a *app) runAllConduits(ctx context.Context) []engine.RunSummary {
	channels := make([]<-chan engine.RunSummary, len(a.conduits))
	for i, c := range a.conduits {
		channels[i] = a.engine.Sync(ctx, c)
	}
	summaries := make([]engine.RunSummary, len(channels))
	for i, ch := range channels {
		summaries[i] = <-ch
	}
	return summaries
}
