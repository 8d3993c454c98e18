package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	restate "github.com/restatedev/sdk-go"
	"github.com/restatedev/sdk-go/server"
	"github.com/kestrelnet/cascade/internal/backfill"
	"github.com/kestrelnet/cascade/internal/cache"
	"github.com/kestrelnet/cascade/internal/cascade"
	"github.com/kestrelnet/cascade/internal/db"
	"github.com/kestrelnet/cascade/internal/enrichment"
	"github.com/kestrelnet/cascade/internal/ratelimit"
	"github.com/kestrelnet/cascade/internal/secrets"
	"github.com/kestrelnet/cascade/internal/status"
	"github.com/kestrelnet/cascade/internal/telemetry"
	"github.com/kestrelnet/cascade/internal/workflows"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	resolver := secrets.New(logger)

	surrealURL := getEnv("SURREALDB_URL", "ws://localhost:8000/rpc")
	surrealUser := getEnv("SURREALDB_USER", "root")
	surrealNS := getEnv("SURREALDB_NAMESPACE", "cascade")
	surrealDB := getEnv("SURREALDB_DATABASE", "inventory")
	port := getEnv("PORT", "9080")

	logger.Info("initializing cascade workflow service",
		zap.String("port", port),
		zap.String("surrealdb_url", surrealURL))

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

	licenseKey := ""
	if ref := getEnv("CASCADE_MAXMIND_LICENSE_KEY_REF", ""); ref != "" {
		key, err := resolver.Resolve(context.Background(), ref)
		if err != nil {
			logger.Warn("maxmind license key resolution failed, auto-update disabled", zap.Error(err))
		} else {
			licenseKey = key
		}
	}

	var geo cascade.GeoSource
	var refreshGeo backfill.GeoSource
	mm, err := enrichment.NewMaxMindSource(enrichment.Config{
		CityDBPath: getEnv("MAXMIND_CITY_DB", "/var/lib/GeoIP/GeoLite2-City.mmdb"),
		ASNDBPath:  getEnv("MAXMIND_ASN_DB", "/var/lib/GeoIP/GeoLite2-ASN.mmdb"),
		LicenseKey: licenseKey,
	}, logger)
	if err != nil {
		logger.Error("offline geo/ASN source unavailable", zap.Error(err))
	} else {
		defer mm.Close()
		geo = mm
		refreshGeo = mm
		mm.StartAutoUpdate(context.Background(),
			getEnv("MAXMIND_CITY_URL", ""),
			getEnv("MAXMIND_ASN_URL", ""))
	}

	dns := enrichment.NewCymruDNSSource(10, getEnv("CASCADE_DNS_RESOLVER", ""), logger)
	bulk := enrichment.NewCymruBulkSource(logger)

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
	}

	hooks := telemetry.NewOTel("cascade")
	orch := cascade.New(store, geo, dns, scanner, cacheMgr, hooks, logger)
	if getEnv("CASCADE_ENABLE_ASN_INVENTORY", "true") == "false" {
		orch.DisableASNInventory()
		logger.Info("asn inventory maintenance disabled for this sensor")
	}

	commitInterval := 100
	if v := getEnv("CASCADE_COMMIT_INTERVAL", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			commitInterval = n
		}
	}
	refreshDriver := backfill.NewRefresh(store, refreshGeo, bulk, orch,
		status.LoggerSink{Logger: logger}, commitInterval, logger)

	enrichIPWorkflow := workflows.NewEnrichIPWorkflow(orch)
	refreshWorkflow := workflows.NewRefreshWorkflow(refreshDriver, store)

	logger.Info("workflows initialized",
		zap.Bool("offline_source_available", geo != nil),
		zap.Bool("scanner_intel_configured", scanner != nil))

	restateServer := server.NewRestate().
		Bind(restate.Reflect(enrichIPWorkflow)).
		Bind(restate.Reflect(refreshWorkflow))

	handler, err := restateServer.Handler()
	if err != nil {
		logger.Fatal("failed to create Restate handler", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("workflow service starting", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down workflow service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("workflow service stopped")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
