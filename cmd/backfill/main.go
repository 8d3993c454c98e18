// The backfill binary runs one ASN-inventory backfill pass and exits,
// meant to be driven by cron or a one-off operator invocation. Progress
// streams to stdout as JSON lines; two concurrent runs are prevented by a
// store-side lock.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrelnet/cascade/internal/backfill"
	"github.com/kestrelnet/cascade/internal/cache"
	"github.com/kestrelnet/cascade/internal/cascade"
	"github.com/kestrelnet/cascade/internal/db"
	"github.com/kestrelnet/cascade/internal/enrichment"
	"github.com/kestrelnet/cascade/internal/secrets"
	"github.com/kestrelnet/cascade/internal/status"
	"github.com/kestrelnet/cascade/internal/telemetry"
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

	surrealPass, err := resolver.Resolve(context.Background(),
		getEnv("SURREALDB_PASS_REF", "env:SURREALDB_PASS"))
	if err != nil {
		logger.Fatal("failed to resolve inventory store credentials", zap.Error(err))
	}

	sdb, err := surrealdb.New(surrealURL)
	if err != nil {
		logger.Fatal("failed to connect to SurrealDB", zap.Error(err), zap.String("url", surrealURL))
	}
	defer sdb.Close(context.Background())

	if _, err := sdb.SignIn(context.Background(), surrealdb.Auth{
		Username: surrealUser,
		Password: surrealPass,
	}); err != nil {
		logger.Fatal("failed to authenticate with SurrealDB", zap.Error(err))
	}
	if err := sdb.Use(context.Background(), surrealNS, surrealDB); err != nil {
		logger.Fatal("failed to use namespace/database", zap.Error(err))
	}

	store := db.NewStore(sdb, logger)
	l2 := db.NewL2Cache(sdb, logger)
	l3 := cache.NewDiskStore(getEnv("CASCADE_CACHE_ROOT", "/var/lib/cascade/cache"))
	cacheMgr := cache.NewManager(l2, l3, false, logger)

	var geo cascade.GeoSource
	mm, err := enrichment.NewMaxMindSource(enrichment.Config{
		CityDBPath: getEnv("MAXMIND_CITY_DB", "/var/lib/GeoIP/GeoLite2-City.mmdb"),
		ASNDBPath:  getEnv("MAXMIND_ASN_DB", "/var/lib/GeoIP/GeoLite2-ASN.mmdb"),
	}, logger)
	if err != nil {
		logger.Error("offline geo/ASN source unavailable", zap.Error(err))
	} else {
		defer mm.Close()
		geo = mm
	}

	dns := enrichment.NewCymruDNSSource(10, getEnv("CASCADE_DNS_RESOLVER", ""), logger)
	bulk := enrichment.NewCymruBulkSource(logger)

	// Backfill mode never touches the scanner-intel source, so no scanner
	// or budget wiring here.
	hooks := telemetry.NewOTel("cascade")
	orch := cascade.New(store, geo, dns, nil, cacheMgr, hooks, logger)

	driver := backfill.NewASNBackfill(store, orch, bulk, dns,
		status.NewWriterSink(os.Stdout), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-stop
		logger.Info("signal received, finishing current batch", zap.String("signal", sig.String()))
		cancel()
	}()

	summary, err := driver.Run(ctx)
	if err != nil {
		logger.Fatal("backfill run failed", zap.Error(err))
	}

	logger.Info("backfill complete",
		zap.String("job_id", summary.JobID),
		zap.Int("ips_processed", summary.IPsProcessed),
		zap.Int("ips_failed", summary.IPsFailed),
		zap.Int("batches", summary.Batches))
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
