package replica

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SourceFetcher pulls one domain's working set from the source of truth.
type SourceFetcher interface {
	FetchDomain(ctx context.Context, domain Domain, limit int) ([]map[string]any, error)
}

// Per-domain row caps for a sync pull. Appointments and documents are the
// high-volume collections.
var syncCaps = map[Domain]int{
	DomainPatients:     10000,
	DomainMedications:  10000,
	DomainAllergies:    10000,
	DomainProblems:     10000,
	DomainAppointments: 50000,
	DomainDocuments:    50000,
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Synced    map[Domain]int `json:"synced"`
	Failed    []Domain       `json:"failed,omitempty"`
}

// Scheduler refreshes the replica store from the source, periodically or on
// demand. Domain pulls run concurrently and fail independently: one broken
// domain never rolls back its siblings.
type Scheduler struct {
	store    *Store
	source   SourceFetcher
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped sync.Once
}

func NewScheduler(store *Store, source SourceFetcher, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		source:   source,
		interval: interval,
		log:      logger,
		stop:     make(chan struct{}),
	}
}

// Start runs a sync immediately and then on every interval tick until Stop
// is called or ctx is cancelled. It blocks; run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info().Msg("replica sync disabled (interval 0)")
		return
	}
	if _, err := s.SyncOnce(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial replica sync failed")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				s.log.Warn().Err(err).Msg("replica sync failed")
			}
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
}

// SyncOnce pulls every domain's working set and upserts it into the replica
// store, then records the sync timestamp and per-domain row counts in the
// meta collection. Per-domain failures are logged and reported, not fatal;
// the returned error is non-nil only when the store itself is unusable.
func (s *Scheduler) SyncOnce(ctx context.Context) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := SyncReport{StartedAt: time.Now(), Synced: map[Domain]int{}}
	if s.store == nil || s.store.db == nil {
		return report, ErrUnavailable
	}

	var reportMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, domain := range Domains {
		domain := domain
		g.Go(func() error {
			records, err := s.source.FetchDomain(gctx, domain, syncCaps[domain])
			if err != nil {
				s.log.Warn().Err(err).Str("domain", string(domain)).Msg("domain fetch failed")
				reportMu.Lock()
				report.Failed = append(report.Failed, domain)
				reportMu.Unlock()
				return nil
			}
			n, err := s.store.BulkUpsert(gctx, domain, records)
			if err != nil {
				s.log.Warn().Err(err).Str("domain", string(domain)).Msg("domain upsert failed")
				reportMu.Lock()
				report.Failed = append(report.Failed, domain)
				reportMu.Unlock()
				return nil
			}
			reportMu.Lock()
			report.Synced[domain] = n
			reportMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)

	if err := s.store.SetMeta(ctx, "last_sync", report.StartedAt.UTC().Format(time.RFC3339)); err != nil {
		return report, err
	}
	for domain, n := range report.Synced {
		key := fmt.Sprintf("count:%s", domain)
		if err := s.store.SetMeta(ctx, key, fmt.Sprintf("%d", n)); err != nil {
			s.log.Warn().Err(err).Str("domain", string(domain)).Msg("count meta write failed")
		}
	}

	s.log.Info().
		Int("domains", len(report.Synced)).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("replica sync complete")
	return report, nil
}
