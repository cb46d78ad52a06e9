// tracker holds one realtime session open, keeps the configured vessel and
// area rooms joined, and records positions, alerts and balance updates to
// TimescaleDB when a database is configured.
//
// Usage: go run ./cmd/tracker --config configs/tracker.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/vesselwatch/internal/auth"
	"github.com/rickgao/vesselwatch/internal/config"
	"github.com/rickgao/vesselwatch/internal/connection"
	"github.com/rickgao/vesselwatch/internal/database"
	"github.com/rickgao/vesselwatch/internal/logging"
	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
	"github.com/rickgao/vesselwatch/internal/version"
	"github.com/rickgao/vesselwatch/internal/writer"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/tracker.local.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting tracker",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tracker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("tracker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	creds, err := auth.LoadCredentials(cfg.API)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	logger.Info("credentials loaded", "token", creds.Redacted())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clientCfg, mgrCfg := connection.ConfigsFrom(cfg.API.WSURL, creds.HandshakeHeader(), cfg.Connection)
	rtr := router.NewRouter(logger.With("component", "router"), m)
	mgr := connection.NewManager(mgrCfg, connection.NewDialer(clientCfg), logger.With("component", "connection"),
		connection.WithMetrics(m),
		connection.WithRouter(rtr),
	)

	var (
		pool    *pgxpool.Pool
		writers []recorder
		undo    teardown
	)
	if cfg.Database.Enabled() {
		pool, writers, err = startRecorder(ctx, cfg, rtr, m, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		for _, w := range writers {
			undo.add(w.Stop)
		}
	} else {
		logger.Info("no database configured, events are logged only")
	}

	logEvents(rtr, logger)

	if err := mgr.Start(ctx); err != nil {
		return undo.abort(fmt.Errorf("start connection manager: %w", err))
	}
	undo.add(mgr.Stop)

	for _, id := range cfg.Rooms.Vessels {
		if err := mgr.JoinVesselRoom(id); err != nil {
			return undo.abort(fmt.Errorf("join vessel room %s: %w", id, err))
		}
	}
	for _, id := range cfg.Rooms.Areas {
		if err := mgr.JoinAreaRoom(id); err != nil {
			return undo.abort(fmt.Errorf("join area room %s: %w", id, err))
		}
	}

	if err := mgr.Connect(creds.Token); err != nil {
		return undo.abort(fmt.Errorf("connect: %w", err))
	}

	var db pinger
	if pool != nil {
		db = pool
	}

	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(mgr, rtr, db, writers))
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		// Manager first, then writers, so the last events still get recorded.
		if err := undo.run(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	logger.Info("tracker running",
		"ws_url", cfg.API.WSURL,
		"vessel_rooms", len(cfg.Rooms.Vessels),
		"area_rooms", len(cfg.Rooms.Areas),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	return g.Wait()
}

// recorder is the lifecycle shared by the writer types.
type recorder interface {
	Stop(ctx context.Context) error
	Stats() writer.WriterMetrics
	Pending() int
}

func startRecorder(
	ctx context.Context,
	cfg *config.Config,
	rtr *router.Router,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*pgxpool.Pool, []recorder, error) {
	ts := cfg.Database.Timescale
	logger.Info("connecting to database", "host", ts.Host, "port", ts.Port, "database", ts.Name)

	pool, err := database.Connect(ctx, ts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connected")

	wcfg := writer.ConfigFrom(cfg.Writers)
	wlog := logger.With("component", "writer")

	positions := writer.NewPositionWriter(wcfg, pool, m, wlog)
	alerts := writer.NewAlertWriter(wcfg, pool, m, wlog)
	balances := writer.NewBalanceWriter(wcfg, pool, m, wlog)

	positions.Subscribe(rtr)
	alerts.Subscribe(rtr)
	balances.Subscribe(rtr)

	writers, err := startAll(ctx, []startable{positions, alerts, balances})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, writers, nil
}

// logEvents logs the lifecycle and account events an operator cares about.
func logEvents(rtr *router.Router, logger *slog.Logger) {
	for _, name := range []string{
		protocol.EventConnect,
		protocol.EventDisconnect,
		protocol.EventConnectError,
		protocol.EventReconnectAttempt,
		protocol.EventReconnect,
		protocol.EventReconnectFailed,
	} {
		rtr.On(name, func(ev router.Event) {
			if len(ev.Data) == 0 {
				logger.Info("connection event", "event", ev.Name)
				return
			}
			logger.Info("connection event", "event", ev.Name, "data", string(ev.Data))
		})
	}

	router.Handle(rtr, protocol.EventCreditLowBalance, func(c protocol.CreditLowBalance) {
		logger.Warn("credit balance low", "balance", c.Balance, "threshold", c.Threshold)
	})
	router.Handle(rtr, protocol.EventServerMessage, func(s protocol.ServerMessage) {
		logger.Info("server message", "type", s.Type, "message", s.Message)
	})
	router.Handle(rtr, protocol.EventRoomJoinError, func(e protocol.RoomJoinErrorPayload) {
		logger.Warn("room join rejected", "room", e.Room, "type", e.Type, "message", e.Message)
	})
}
