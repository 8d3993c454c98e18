package backfill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/kestrelnet/cascade/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubStore struct {
	mu sync.Mutex

	batches   [][]string
	selectIdx int

	lockHeld     bool
	lockRefused  bool
	releaseCalls int

	jobs         []*models.EnrichmentJob
	jobStates    []models.JobState
	progressRows int
}

func (s *stubStore) SelectIPsNeedingEnrichment(_ context.Context, _, _ time.Duration, _, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectIdx >= len(s.batches) {
		return nil, nil
	}
	batch := s.batches[s.selectIdx]
	s.selectIdx++
	return batch, nil
}

func (s *stubStore) AcquireLock(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	if s.lockRefused {
		return false, nil
	}
	s.lockHeld = true
	return true, nil
}

func (s *stubStore) ReleaseLock(_ context.Context, _, _ string) error {
	s.releaseCalls++
	s.lockHeld = false
	return nil
}

func (s *stubStore) CreateJob(_ context.Context, kind models.JobKind, ipsTotal int) (*models.EnrichmentJob, error) {
	job := &models.EnrichmentJob{ID: "job-1", Kind: kind, State: models.JobStatePending, IPsTotal: ipsTotal}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *stubStore) UpdateJobState(_ context.Context, _ string, state models.JobState, _ *string) error {
	s.jobStates = append(s.jobStates, state)
	return nil
}

func (s *stubStore) UpdateJobProgress(_ context.Context, _ string, processedDelta, _ int, _ string) error {
	s.progressRows += processedDelta
	return nil
}

type stubDNS struct {
	calls      int
	batchSizes []int
}

func (s *stubDNS) LookupBatch(_ context.Context, ips []string) map[string]*models.CymruRecord {
	s.calls++
	s.batchSizes = append(s.batchSizes, len(ips))
	return map[string]*models.CymruRecord{}
}

func newBackfillForTest(t *testing.T, store *stubStore, bulk *stubBulk, dns *stubDNS, enricher *stubEnricher) *ASNBackfill {
	b := NewASNBackfill(store, enricher, bulk, dns, status.Nop{}, zaptest.NewLogger(t))
	b.pause = time.Millisecond
	return b
}

func TestBackfillRefusedWhenLockHeld(t *testing.T) {
	store := &stubStore{lockRefused: true}
	b := newBackfillForTest(t, store, &stubBulk{}, &stubDNS{}, &stubEnricher{})

	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock")
	assert.Empty(t, store.jobs, "no job is created when the lock is refused")
}

func TestBackfillProcessesBatchesAndReleasesLock(t *testing.T) {
	store := &stubStore{batches: [][]string{makeIPs(150), makeIPs(40)}}
	bulk := &stubBulk{records: map[string]*models.CymruRecord{}}
	dns := &stubDNS{}
	enricher := &stubEnricher{}

	b := newBackfillForTest(t, store, bulk, dns, enricher)
	b.batchSize = 150
	summary, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 190, summary.IPsProcessed)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 190, len(enricher.calls))
	assert.Equal(t, 190, store.progressRows)

	// Transport choice by batch size: 150 goes bulk TCP, 40 goes DNS.
	assert.Equal(t, []int{150}, bulk.batchSizes)
	assert.Equal(t, []int{40}, dns.batchSizes)

	assert.Equal(t, 1, store.releaseCalls)
	assert.Equal(t,
		[]models.JobState{models.JobStateProcessing, models.JobStateCompleted},
		store.jobStates)
}

func TestBackfillBulkFailureDoesNotAbortRun(t *testing.T) {
	store := &stubStore{batches: [][]string{makeIPs(120)}}
	bulk := &stubBulk{records: map[string]*models.CymruRecord{}, failBatch: 1}
	enricher := &stubEnricher{}

	b := newBackfillForTest(t, store, bulk, &stubDNS{}, enricher)
	summary, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, summary.IPsProcessed, "transport failure degrades to per-IP misses, not an aborted run")
}

func TestBackfillStopsWhenNoCandidatesRemain(t *testing.T) {
	store := &stubStore{batches: nil}
	b := newBackfillForTest(t, store, &stubBulk{}, &stubDNS{}, &stubEnricher{})

	summary, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.IPsProcessed)
	assert.Equal(t, 0, summary.Batches)
	assert.Equal(t,
		[]models.JobState{models.JobStateProcessing, models.JobStateCompleted},
		store.jobStates)
}
