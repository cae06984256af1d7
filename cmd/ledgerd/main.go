// Command ledgerd wires the trust kernel's core packages into a running
// process: it loads config, opens the signed hash-chain ledger and the
// bbolt-backed projection cache, loads the governance policy and the
// disclosure policy catalog, opens the gorm-backed disclosure/anchor/
// reveal stores, and serves the ops surface (/healthz, /metrics). The
// business HTTP API lives in a separate service, so there is nothing
// here beyond the ops listener and a periodic chain-verification sweep.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kuibu/transparent-company/internal/anchor"
	"github.com/kuibu/transparent-company/internal/config"
	"github.com/kuibu/transparent-company/internal/disclosure"
	"github.com/kuibu/transparent-company/internal/governance"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/observability/logging"
	"github.com/kuibu/transparent-company/internal/observability/metrics"
	telemetry "github.com/kuibu/transparent-company/internal/observability/otel"
	"github.com/kuibu/transparent-company/internal/opsserver"
	"github.com/kuibu/transparent-company/internal/policy"
	"github.com/kuibu/transparent-company/internal/projection"
	"github.com/kuibu/transparent-company/internal/reveal"
	"github.com/kuibu/transparent-company/pkg/signer"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./ledgerd.toml", "path to the ledgerd TOML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(cfg.Environment)
	logger := logging.Setup(logging.Config{Service: cfg.ServiceName, Env: env, Path: cfg.LogPath})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: env,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		Metrics:     cfg.OTelEndpoint != "",
		Traces:      cfg.OTelEndpoint != "",
	})
	if err != nil {
		logger.Error("init telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	seeds, err := cfg.RoleSeeds()
	if err != nil {
		logger.Error("decode role signing seeds", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := buildSignerRegistry(seeds)
	if err != nil {
		logger.Error("build signer registry", slog.Any("error", err))
		os.Exit(1)
	}

	govPolicy := governance.DefaultPolicy()
	govEngine, err := governance.NewEngine(govPolicy)
	if err != nil {
		logger.Error("build governance engine", slog.Any("error", err))
		os.Exit(1)
	}

	ledgerStore, err := ledger.Open(cfg.DatabaseURL, registry, govEngine)
	if err != nil {
		logger.Error("open ledger store", slog.Any("error", err))
		os.Exit(1)
	}
	defer ledgerStore.Close()

	projStorePath := cfg.DatabaseURL + ".projection.bbolt"
	projStore, err := projection.OpenStore(projStorePath)
	if err != nil {
		logger.Error("open projection store", slog.Any("error", err))
		os.Exit(1)
	}
	defer projStore.Close()

	rows, err := ledgerStore.List(context.Background(), ledger.ListFilter{})
	if err != nil {
		logger.Error("list ledger events for initial projection", slog.Any("error", err))
		os.Exit(1)
	}
	projEngine, err := projection.Rebuild(rows)
	if err != nil {
		logger.Error("rebuild projections", slog.Any("error", err))
		os.Exit(1)
	}
	if err := projStore.Persist(projEngine); err != nil {
		logger.Error("persist initial projection snapshot", slog.Any("error", err))
		os.Exit(1)
	}

	catalog, err := policy.DefaultCatalog()
	if err != nil {
		logger.Error("load disclosure policy catalog", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("loaded disclosure policy catalog", slog.Int("policy_count", len(catalog.List())))

	gormDB, err := openGormStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("open gorm-backed store", slog.Any("error", err))
		os.Exit(1)
	}
	if err := disclosure.AutoMigrate(gormDB); err != nil {
		logger.Error("migrate disclosure schema", slog.Any("error", err))
		os.Exit(1)
	}
	if err := anchor.AutoMigrate(gormDB); err != nil {
		logger.Error("migrate anchor schema", slog.Any("error", err))
		os.Exit(1)
	}
	if err := reveal.AutoMigrate(gormDB); err != nil {
		logger.Error("migrate reveal schema", slog.Any("error", err))
		os.Exit(1)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Error("unwrap gorm sql.DB", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// ledgerd owns the schema lifecycle (migrations above) and process
	// health; the actual compute -> commit -> sign -> anchor -> publish
	// and token-issue -> redeem flows run out of cmd/ledgerctl against
	// this same sqlite file and gorm DSN, keeping disclosure/reveal
	// writes single-writer.

	metricsReg := metrics.Default()
	metricsReg.ChainVerified.Set(1)

	checks := map[string]opsserver.HealthChecker{
		"ledger_chain":  chainHealthChecker{store: ledgerStore, metrics: metricsReg},
		"disclosure_db": dbHealthChecker{db: sqlDB},
	}
	ops := opsserver.New(checks)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.OpsListenAddress, Handler: otelhttp.NewHandler(ops.Handler(), "ledgerd-ops")}
	go func() {
		logger.Info("ops server listening", slog.String("address", cfg.OpsListenAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server exited", slog.Any("error", err))
			stop()
		}
	}()

	go runChainVerificationLoop(ctx, ledgerStore, metricsReg, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", slog.Any("error", err))
	}
}

// openGormStore opens the gorm-backed disclosure/anchor/reveal schema.
// A "postgres://" or "postgresql://" DatabaseURL selects the postgres
// driver; anything else is a sqlite file path, opened next to the
// ledger's own raw-sql database with a ".gorm" suffix.
func openGormStore(databaseURL string) (*gorm.DB, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(databaseURL+".gorm"), &gorm.Config{})
}

func buildSignerRegistry(seeds map[string][]byte) (*signer.Registry, error) {
	converted := make(map[signer.Role][]byte, len(seeds))
	for role, seed := range seeds {
		converted[signer.Role(role)] = seed
	}
	if len(converted) == 0 {
		// Dev-mode default: deterministic, clearly-labeled throwaway
		// seeds so ledgerd can start without AuthEnabled. config.Load
		// already refuses to start with AuthEnabled=true and missing
		// seeds (see internal/config), so this path is only reachable
		// in the unauthenticated local-dev configuration.
		converted = map[signer.Role][]byte{
			signer.RoleAgent:   bytesRepeat("A", 32),
			signer.RoleHuman:   bytesRepeat("H", 32),
			signer.RoleAuditor: bytesRepeat("U", 32),
		}
	}
	return signer.NewRegistry(converted)
}

func bytesRepeat(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = s[0]
	}
	return b
}

type chainHealthChecker struct {
	store   *ledger.Store
	metrics *metrics.Registry
}

func (c chainHealthChecker) Healthy(ctx context.Context) (bool, string) {
	ok, err := c.store.VerifyChain(ctx)
	if err != nil {
		return false, err.Error()
	}
	if ok {
		c.metrics.ChainVerified.Set(1)
		return true, "chain verified"
	}
	c.metrics.ChainVerified.Set(0)
	return false, "chain verification failed: broken hash linkage or signature"
}

type dbHealthChecker struct {
	db *sql.DB
}

func (c dbHealthChecker) Healthy(ctx context.Context) (bool, string) {
	if err := c.db.PingContext(ctx); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

// runChainVerificationLoop periodically re-verifies the hash chain so
// /healthz and the chain_verified gauge reflect live state rather than
// only the value observed at startup.
func runChainVerificationLoop(ctx context.Context, store *ledger.Store, reg *metrics.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := store.VerifyChain(ctx)
			if err != nil {
				logger.Error("chain verification error", slog.Any("error", err))
				continue
			}
			if ok {
				reg.ChainVerified.Set(1)
			} else {
				reg.ChainVerified.Set(0)
				logger.Error("chain verification failed")
			}
		}
	}
}
