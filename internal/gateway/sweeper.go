package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/metrics"
	"github.com/knowledgenet/datagate/internal/models"
	"github.com/knowledgenet/datagate/internal/token"
)

// Sweeper periodically evicts expired grants from the token store. It is a
// space-reclamation mechanism only: every read path re-validates expiry
// itself, so correctness never depends on a sweep having run.
type Sweeper struct {
	store    token.Store
	interval time.Duration
	metrics  *metrics.Metrics
	cron     *cron.Cron
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool

	now func() time.Time
}

// NewSweeper creates a sweeper over the given store. A non-positive interval
// falls back to hourly.
func NewSweeper(store token.Store, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		metrics:  m,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "expiry_sweeper").Logger(),
		now:      time.Now,
	}
}

// Start begins the periodic sweep. The sweeper is started explicitly by the
// process's startup routine, never as an import side effect.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("expiry sweeper already running")
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.runSweep)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	return nil
}

// Stop stops the schedule and returns a context that is done once any
// in-flight sweep has finished.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping expiry sweeper")
	return s.cron.Stop()
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	evicted, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("expiry sweep completed")
	}
}

// SweepOnce scans the store and deletes every grant past its expiry. A
// failure on one grant is logged and skipped; the sweep carries on. The
// store is scanned against a snapshot, so concurrent requests only ever
// contend on a single per-grant delete.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()

	var expired []string
	err := s.store.Scan(ctx, func(grant *models.AccessGrant) bool {
		if grant.IsExpired(now) {
			expired = append(expired, grant.KeyHash)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("scan token store: %w", err)
	}

	evicted := 0
	for _, keyHash := range expired {
		if err := s.store.Delete(ctx, keyHash); err != nil {
			s.logger.Warn().Err(err).Msg("failed to evict expired grant, continuing")
			continue
		}
		evicted++
		s.metrics.SweeperEvictions.Inc()
		s.metrics.ActiveGrants.Dec()
	}
	return evicted, nil
}
