// Command flowmesh runs a standalone flowmesh runtime: it loads a
// bootstrap RuntimeConfig, compiles one or more YAML component
// declarations into running Engines, wires them into a registry and a
// broker-backed broadcaster for cross-component traffic, and serves the
// dashboard's REST + WebSocket façade. Grounded on the teacher's
// examples/statemachine/order_processing.go demo entrypoint shape
// (build, register, run, graceful shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fluxorio/flowmesh/internal/broker"
	"github.com/fluxorio/flowmesh/internal/broker/localbroker"
	"github.com/fluxorio/flowmesh/internal/broker/natsbroker"
	"github.com/fluxorio/flowmesh/internal/config"
	"github.com/fluxorio/flowmesh/internal/corelog"
	"github.com/fluxorio/flowmesh/internal/dashboard"
	"github.com/fluxorio/flowmesh/internal/engine"
	"github.com/fluxorio/flowmesh/internal/loader"
	"github.com/fluxorio/flowmesh/internal/metrics"
	"github.com/fluxorio/flowmesh/internal/persistence"
	"github.com/fluxorio/flowmesh/internal/persistence/memstore"
	"github.com/fluxorio/flowmesh/internal/persistence/sqlstore"
	"github.com/fluxorio/flowmesh/internal/registry"
	"github.com/fluxorio/flowmesh/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON RuntimeConfig file")
	componentsDirFlag := flag.String("components", "", "directory of YAML component declarations (overrides config)")
	flag.Parse()

	logger := corelog.NewDefault()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadWithEnv(*configPath, "FLOWMESH")
		if err != nil {
			log.Fatalf("flowmesh: failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *componentsDirFlag != "" {
		cfg.ComponentsDir = *componentsDirFlag
	}

	shutdownTracing := setupTracing()
	defer shutdownTracing()

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(promRegistry)

	eventStore, snapStore, closeStores := openStores(cfg, logger)
	defer closeStores()

	reg := registry.New(logger)

	components, err := loadComponents(cfg.ComponentsDir)
	if err != nil {
		log.Fatalf("flowmesh: failed to load components: %v", err)
	}
	for _, comp := range components {
		e, err := engine.New(comp,
			engine.WithLogger(logger),
			engine.WithEventStore(eventStore),
			engine.WithSnapshotStore(snapStore),
			engine.WithMetrics(recorder),
		)
		if err != nil {
			log.Fatalf("flowmesh: failed to compile component %s: %v", comp.Name, err)
		}
		if err := reg.Register(e); err != nil {
			log.Fatalf("flowmesh: failed to register component %s: %v", comp.Name, err)
		}
		logger.Infof("registered component %s (%d machines)", e.Name(), len(comp.StateMachines))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stopBroker := startBroadcaster(ctx, cfg, reg, logger)
	defer stopBroker()

	dash := dashboard.New(dashboard.Config{
		BindAddr:   cfg.Dashboard.BindAddr,
		StreamAddr: cfg.Dashboard.StreamAddr,
		JWTSecret:  cfg.Dashboard.JWTSecret,
		Mode:       string(cfg.Broker),
	}, reg, logger)

	go func() {
		logger.Infof("dashboard listening on %s", cfg.Dashboard.BindAddr)
		if err := dash.Start(); err != nil {
			logger.Errorf("dashboard server stopped: %v", err)
		}
	}()

	metricsSrv := startMetricsServer(promRegistry, logger)

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = dash.Stop(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func loadComponents(dir string) ([]types.Component, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []types.Component
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".yaml" && filepath.Ext(name) != ".yml" {
			continue
		}
		comp, err := loader.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, nil
}

func openStores(cfg config.RuntimeConfig, logger corelog.Logger) (persistence.EventStore, persistence.SnapshotStore, func()) {
	if cfg.Persistence != config.PersistenceSQL {
		return memstore.NewEventStore(), memstore.NewSnapshotStore(), func() {}
	}

	store, err := sqlstore.OpenStore(sqlstore.DefaultPoolConfig(cfg.SQL.DSN, cfg.SQL.Driver))
	if err != nil {
		logger.Errorf("flowmesh: failed to open SQL persistence, falling back to memory: %v", err)
		return memstore.NewEventStore(), memstore.NewSnapshotStore(), func() {}
	}
	return store.EventStore(), store.SnapshotStore(), func() { _ = store.Close() }
}

func startBroadcaster(ctx context.Context, cfg config.RuntimeConfig, reg *registry.Registry, logger corelog.Logger) (*broker.Broadcaster, func()) {
	var b broker.Broker
	if cfg.Broker == config.BrokerNATS {
		b = natsbroker.New(natsbroker.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix, Name: "flowmesh"})
	} else {
		b = localbroker.New()
	}

	bc := broker.New(b, reg, func(err error) {
		logger.Warnf("broker disconnected: %v", err)
	})
	if err := bc.Start(ctx); err != nil {
		logger.Errorf("flowmesh: broker failed to connect: %v", err)
	}

	reg.OnRegister(func(name string, e *engine.Engine) {
		if err := bc.Attach(ctx, e); err != nil {
			logger.Errorf("flowmesh: failed to attach component %s to broker: %v", name, err)
		}
	})

	return bc, func() { _ = bc.Stop() }
}

func startMetricsServer(registerer *prometheus.Registry, logger corelog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":9464", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()
	return srv
}

// setupTracing wires the stdouttrace exporter as the global OpenTelemetry
// tracer provider, matching SPEC_FULL.md §4.8's local/dev-mode export
// target for the internal/metrics span around each committed transition.
func setupTracing() func() {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Printf("flowmesh: failed to create trace exporter, tracing disabled: %v", err)
		return func() {}
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}
}

func waitForShutdown(logger corelog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Infof("flowmesh: shutting down")
}
