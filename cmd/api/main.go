package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kestrelnet/cascade/internal/api"
	"github.com/kestrelnet/cascade/internal/cache"
	"github.com/kestrelnet/cascade/internal/cascade"
	"github.com/kestrelnet/cascade/internal/db"
	"github.com/kestrelnet/cascade/internal/enrichment"
	"github.com/kestrelnet/cascade/internal/ratelimit"
	"github.com/kestrelnet/cascade/internal/secrets"
	"github.com/kestrelnet/cascade/internal/telemetry"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

const (
	// ServerPort is the port the API server listens on
	ServerPort = "3000"
	// ServerVersion is the current API version
	ServerVersion = "0.1.0"
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("initializing cascade API server",
		zap.String("version", ServerVersion),
		zap.String("port", ServerPort))

	resolver := secrets.New(logger)

	surrealURL := getEnv("SURREALDB_URL", "ws://localhost:8000/rpc")
	surrealUser := getEnv("SURREALDB_USER", "root")
	surrealNS := getEnv("SURREALDB_NAMESPACE", "cascade")
	surrealDB := getEnv("SURREALDB_DATABASE", "inventory")

	// The store password is always a secrets reference; a bare env value
	// still works through the env: backend.
	surrealPass, err := resolver.Resolve(context.Background(),
		getEnv("SURREALDB_PASS_REF", "env:SURREALDB_PASS"))
	if err != nil {
		logger.Fatal("failed to resolve inventory store credentials", zap.Error(err))
	}

	sdb, err := surrealdb.New(surrealURL)
	if err != nil {
		logger.Fatal("failed to connect to SurrealDB",
			zap.Error(err),
			zap.String("url", surrealURL))
	}
	defer sdb.Close(context.Background())

	if _, err := sdb.SignIn(context.Background(), surrealdb.Auth{
		Username: surrealUser,
		Password: surrealPass,
	}); err != nil {
		logger.Fatal("failed to authenticate with SurrealDB", zap.Error(err))
	}
	if err := sdb.Use(context.Background(), surrealNS, surrealDB); err != nil {
		logger.Fatal("failed to use namespace/database",
			zap.Error(err),
			zap.String("namespace", surrealNS),
			zap.String("database", surrealDB))
	}
	logger.Info("connected to SurrealDB",
		zap.String("namespace", surrealNS),
		zap.String("database", surrealDB))

	store := db.NewStore(sdb, logger)
	l2 := db.NewL2Cache(sdb, logger)
	l3 := cache.NewDiskStore(getEnv("CASCADE_CACHE_ROOT", "/var/lib/cascade/cache"))
	cacheMgr := cache.NewManager(l2, l3, true, logger)

	orch := buildOrchestrator(logger, resolver, store, l2, cacheMgr)

	workflowURL := getEnv("RESTATE_URL", "http://localhost:8080")
	router := api.SetupRoutes(logger, sdb, orch, workflowURL)

	srv := &http.Server{
		Addr:         ":" + ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("version", ServerVersion))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		logger.Fatal("server failed to start", zap.Error(err))

	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
			srv.Close()
		}
		logger.Info("server stopped")
	}
}

// buildOrchestrator wires the three sources, limiters, and cache behind
// one cascade instance that lives for the life of the process.
func buildOrchestrator(logger *zap.Logger, resolver *secrets.Resolver, store *db.Store, l2 *db.L2Cache, cacheMgr *cache.Manager) *cascade.Orchestrator {
	var geo cascade.GeoSource
	licenseKey := ""
	if ref := getEnv("CASCADE_MAXMIND_LICENSE_KEY_REF", ""); ref != "" {
		key, err := resolver.Resolve(context.Background(), ref)
		if err != nil {
			logger.Warn("maxmind license key resolution failed, auto-update disabled", zap.Error(err))
		} else {
			licenseKey = key
		}
	}
	mm, err := enrichment.NewMaxMindSource(enrichment.Config{
		CityDBPath: getEnv("MAXMIND_CITY_DB", "/var/lib/GeoIP/GeoLite2-City.mmdb"),
		ASNDBPath:  getEnv("MAXMIND_ASN_DB", "/var/lib/GeoIP/GeoLite2-ASN.mmdb"),
		LicenseKey: licenseKey,
	}, logger)
	if err != nil {
		// Degraded, not fatal: the cascade records the source as a miss and
		// falls through to the bulk ASN lookup.
		logger.Error("offline geo/ASN source unavailable", zap.Error(err))
	} else {
		geo = mm
		mm.StartAutoUpdate(context.Background(),
			getEnv("MAXMIND_CITY_URL", ""),
			getEnv("MAXMIND_ASN_URL", ""))
	}

	dns := enrichment.NewCymruDNSSource(10, getEnv("CASCADE_DNS_RESOLVER", ""), logger)

	dailyBudget := 10000
	if v := getEnv("CASCADE_DAILY_BUDGET", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			dailyBudget = n
		}
	}
	budget := ratelimit.NewDailyBudget("greynoise", dailyBudget, l2, logger)
	limiter := ratelimit.NewTokenBucket(10, 10)

	var scanner cascade.ScannerSource
	if ref := getEnv("CASCADE_GREYNOISE_API_KEY_REF", ""); ref != "" {
		scanner = enrichment.NewScannerSource(cacheMgr, budget, limiter, resolver, ref, logger)
	} else {
		logger.Warn("no scanner-intel API key reference configured, source permanently skipped")
	}

	hooks := telemetry.NewOTel("cascade")
	orch := cascade.New(store, geo, dns, scanner, cacheMgr, hooks, logger)
	if getEnv("CASCADE_ENABLE_ASN_INVENTORY", "true") == "false" {
		orch.DisableASNInventory()
		logger.Info("asn inventory maintenance disabled for this sensor")
	}
	return orch
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
