package db

import (
	"context"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// Store bundles a SurrealDB connection and logger behind the method set the
// cascade orchestrator and batch drivers depend on, so those packages can
// be exercised against in-memory fakes.
type Store struct {
	db     *surrealdb.DB
	logger *zap.Logger
}

func NewStore(sdb *surrealdb.DB, logger *zap.Logger) *Store {
	return &Store{db: sdb, logger: logger}
}

// DB exposes the underlying connection for call sites that still use the
// package-level query helpers directly (job tracking, cache tier).
func (s *Store) DB() *surrealdb.DB { return s.db }

func (s *Store) GetIP(ctx context.Context, ip string) (*models.IPRecord, error) {
	return GetIP(ctx, s.db, s.logger, ip)
}

func (s *Store) UpsertIP(ctx context.Context, ip string, enrichment *models.Enrichment) (*models.IPRecord, error) {
	return UpsertIP(ctx, s.db, s.logger, ip, enrichment)
}

func (s *Store) EnsureASN(ctx context.Context, asn int, org, country string, rir *models.RIRRegistry) (*models.ASNRecord, error) {
	return EnsureASN(ctx, s.db, s.logger, asn, org, country, rir)
}

func (s *Store) BumpASNCounters(ctx context.Context, asn, ipDelta, sessionDelta int) error {
	return BumpASNCounters(ctx, s.db, s.logger, asn, ipDelta, sessionDelta)
}

func (s *Store) LatestSession(ctx context.Context, ip string) (*models.SessionSummary, error) {
	return LatestSession(ctx, s.db, s.logger, ip)
}

func (s *Store) SelectIPsNeedingEnrichment(ctx context.Context, staleAfter, recentWindow time.Duration, limit, offset int) ([]string, error) {
	return SelectIPsNeedingEnrichment(ctx, s.db, s.logger, staleAfter, recentWindow, limit, offset)
}

func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return AcquireNamedLock(ctx, s.db, s.logger, name, holder, ttl)
}

func (s *Store) ReleaseLock(ctx context.Context, name, holder string) error {
	return ReleaseNamedLock(ctx, s.db, s.logger, name, holder)
}

func (s *Store) CreateJob(ctx context.Context, kind models.JobKind, ipsTotal int) (*models.EnrichmentJob, error) {
	return CreateJob(ctx, s.db, s.logger, kind, ipsTotal)
}

func (s *Store) UpdateJobState(ctx context.Context, jobID string, state models.JobState, errorMsg *string) error {
	return UpdateJobState(ctx, s.db, s.logger, jobID, state, errorMsg)
}

func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, processedDelta, failedDelta int, currentPass string) error {
	return UpdateJobProgress(ctx, s.db, s.logger, jobID, processedDelta, failedDelta, currentPass)
}
