// Command worldqld runs the WorldQL core: registry, subscription index,
// record store, the router/subscription-lane/database-lane pipeline, and
// a WebSocket transport, wired together and shut down on SIGINT/SIGTERM.
// CLI flags layer over internal/config's env-var defaults, grounded on
// go-server-3's pflag-over-env config layering and ws/main.go's
// automaxprocs + signal-driven shutdown shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/worldql/worldql-go/internal/auth"
	"github.com/worldql/worldql-go/internal/config"
	"github.com/worldql/worldql-go/internal/logging"
	"github.com/worldql/worldql-go/internal/metrics"
	"github.com/worldql/worldql-go/internal/pipeline"
	"github.com/worldql/worldql-go/internal/pipeline/ratelimit"
	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
	"github.com/worldql/worldql-go/internal/store"
	"github.com/worldql/worldql-go/internal/store/memstore"
	"github.com/worldql/worldql-go/internal/store/sqlstore"
	"github.com/worldql/worldql-go/internal/subscription"
	transport "github.com/worldql/worldql-go/internal/transport/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	bootLogger := logging.New("info", true)
	cfg, err := config.Load(&bootLogger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bindFlags(cfg)

	logger := logging.New(cfg.LogLevel, false)
	cfg.WarnSizing(logger)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	met := metrics.New()
	reg := registry.New(logger, cfg.RemovedPeerBuffer, met)
	index := subscription.New()
	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	verifier := auth.NewVerifier(cfg.ServerAuthSecret)

	subCh := make(chan pipeline.Job, cfg.LaneBuffer)
	dbCh := make(chan pipeline.Job, cfg.LaneBuffer)
	input := make(chan protocol.MessageEnvelope, cfg.LaneBuffer)

	router := pipeline.NewRouter(reg, limiter, subCh, dbCh, logger, met)
	subLane := pipeline.NewSubscriptionLane(reg, index, cfg.CubeSize, logger)
	dbLane := pipeline.NewDatabaseLane(reg, st, cfg.CubeSize, logger, met)

	ts := transport.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), reg, verifier, input, logger)

	var wg sync.WaitGroup
	var laneErrOnce sync.Once
	var laneErr error
	runLane := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error().Err(err).Str("lane", name).Msg("lane exited with error")
				laneErrOnce.Do(func() { laneErr = fmt.Errorf("%s lane: %w", name, err) })
				cancel()
			}
		}()
	}

	runLane("router", func() error { return router.Run(ctx, input) })
	runLane("subscription", func() error { return subLane.Run(ctx, subCh) })
	runLane("database", func() error { return dbLane.Run(ctx, dbCh) })
	runLane("transport", func() error { return ts.ListenAndServe(ctx) })

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok, peers=%d\n", reg.Count())
	})
	adminServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1), Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = adminServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server exited")
		}
	}()

	livenessInterval, err := time.ParseDuration(cfg.LivenessInterval)
	if err != nil {
		return fmt.Errorf("parse liveness interval: %w", err)
	}
	livenessMaxAge, err := time.ParseDuration(cfg.LivenessMaxAge)
	if err != nil {
		return fmt.Errorf("parse liveness max age: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		runLivenessTicker(ctx, reg, met, livenessInterval, livenessMaxAge, logger)
	}()

	logger.Info().Str("addr", ts.Addr()).Msg("worldqld listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	wg.Wait()
	return laneErr
}

// runLivenessTicker scans for stale peers and samples host metrics on the
// same tick, so the process carries one periodic background task instead
// of two (SPEC_FULL.md §5).
func runLivenessTicker(ctx context.Context, reg *registry.Registry, met *metrics.Metrics, interval, maxAge time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range reg.StalePeers(maxAge) {
				logger.Debug().Stringer("peer", id).Msg("removing stale peer")
				reg.Remove(id, true)
				met.IncStalePeers()
			}
			met.SetConnectionsActive(reg.Count())
			met.SampleHost()
		}
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseDSN == "" || cfg.DatabaseDSN == ":memory:" {
		return memstore.New(), func() {}, nil
	}

	st, err := sqlstore.Open(context.Background(), cfg.DatabaseDSN, cfg.RegionSize, cfg.TableSize)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}

// bindFlags overrides cfg's env-loaded fields with any explicitly-set CLI
// flags, per SPEC_FULL.md §6's CLI surface.
func bindFlags(cfg *config.Config) {
	host := pflag.String("host", cfg.Host, "bind host")
	port := pflag.Int("port", cfg.Port, "bind port")
	dbDSN := pflag.String("db-dsn", cfg.DatabaseDSN, "record store DSN (sqlite path, or empty/:memory: for an in-memory store)")
	cubeSize := pflag.Int64("cube-size", cfg.CubeSize, "subscription cube size")
	regionSize := pflag.Int64("region-size", cfg.RegionSize, "storage region size")
	tableSize := pflag.Int64("table-size", cfg.TableSize, "storage table size")
	serverAuthSecret := pflag.String("server-auth-secret", cfg.ServerAuthSecret, "HMAC secret for server-auth JWTs; empty disables the check")
	logLevel := pflag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	pflag.Parse()

	cfg.Host = *host
	cfg.Port = *port
	cfg.DatabaseDSN = *dbDSN
	cfg.CubeSize = *cubeSize
	cfg.RegionSize = *regionSize
	cfg.TableSize = *tableSize
	cfg.ServerAuthSecret = *serverAuthSecret
	cfg.LogLevel = *logLevel
}
