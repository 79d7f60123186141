// Package scheduler implements C10: the periodic drains that keep every
// queue-backed component moving without a human triggering a scan. Each job
// runs on its own ticker, grounded on the teacher's WatchRenewScheduler
// (adapter/in/worker/worker_watch_renew.go) — a context-cancelable goroutine
// loop with jittered backoff sprinkled in to avoid every replica's tickers
// firing in lockstep.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailgrouper/core/port/out"
	"mailgrouper/core/service/aiprocess"
	"mailgrouper/core/service/correction"
	"mailgrouper/core/service/ingest"
	"mailgrouper/core/service/reflector"
	"mailgrouper/core/service/watch"
	"mailgrouper/internal/lock"
)

// Config holds each job's cadence; Load from config.Config at bootstrap time.
type Config struct {
	WorkerID string

	PollInterval      time.Duration
	RenewInterval     time.Duration
	IngestInterval    time.Duration
	ExtractInterval   time.Duration
	ReflectInterval   time.Duration
	LearningInterval  time.Duration
	IngestBatchSize   int
	ExtractBatchSize  int
	ReflectBatchSize  int
	LearningBatchSize int
}

func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:          workerID,
		PollInterval:      300 * time.Second,
		RenewInterval:     time.Hour,
		IngestInterval:    2 * time.Second,
		ExtractInterval:   2 * time.Second,
		ReflectInterval:   3 * time.Second,
		LearningInterval:  10 * time.Minute,
		IngestBatchSize:   10,
		ExtractBatchSize:  10,
		ReflectBatchSize:  10,
		LearningBatchSize: 50,
	}
}

// Scheduler owns one ticker goroutine per job and stops them together.
type Scheduler struct {
	cfg Config
	log zerolog.Logger

	coordinator *watch.Coordinator
	ingestW     *ingest.Worker
	extractW    *aiprocess.Worker
	reflector   *reflector.Reflector
	corrections *correction.Store
	users       out.UserRepository
	jobLock     *lock.RedisLock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	cfg Config,
	coordinator *watch.Coordinator,
	ingestW *ingest.Worker,
	extractW *aiprocess.Worker,
	refl *reflector.Reflector,
	corrections *correction.Store,
	users out.UserRepository,
	redisClient *redis.Client,
	log zerolog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:         cfg,
		log:         log.With().Str("component", "scheduler").Logger(),
		coordinator: coordinator,
		ingestW:     ingestW,
		extractW:    extractW,
		reflector:   refl,
		corrections: corrections,
		users:       users,
		jobLock:     lock.NewRedisLock(redisClient, "joblock"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches every job's ticker loop. Jobs with a nil dependency (e.g.
// no coordinator configured) are skipped rather than panicking, so a partial
// bootstrap (API-only mode) can still reuse the same Scheduler type.
func (s *Scheduler) Start() {
	s.log.Info().Msg("scheduler starting")
	if s.coordinator != nil {
		s.runJob("watch-poll", s.cfg.PollInterval, func(ctx context.Context) error {
			return s.coordinator.PollOnce(ctx)
		})
		s.runJob("watch-renew", s.cfg.RenewInterval, func(ctx context.Context) error {
			return s.coordinator.RenewExpiring(ctx)
		})
	}
	if s.ingestW != nil {
		s.runJob("ingest-drain", s.cfg.IngestInterval, func(ctx context.Context) error {
			_, err := s.ingestW.RunOnce(ctx, s.cfg.WorkerID, s.cfg.IngestBatchSize)
			return err
		})
	}
	if s.extractW != nil {
		s.runJob("extract-drain", s.cfg.ExtractInterval, func(ctx context.Context) error {
			_, err := s.extractW.RunOnce(ctx, s.cfg.WorkerID, s.cfg.ExtractBatchSize)
			return err
		})
	}
	if s.reflector != nil {
		s.runJob("reflect-drain", s.cfg.ReflectInterval, func(ctx context.Context) error {
			_, err := s.reflector.RunOnce(ctx, s.cfg.WorkerID, s.cfg.ReflectBatchSize)
			return err
		})
	}
	if s.corrections != nil && s.users != nil {
		s.runJob("learning-pass", s.cfg.LearningInterval, s.processLearningPass)
	}
}

// Stop cancels every job's context and waits for its goroutine to return.
func (s *Scheduler) Stop() {
	s.log.Info().Msg("scheduler stopping")
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// processLearningPass runs one ProcessCorrections pass per active user —
// corrections accrue per user, so the mining sweep (§4.9) walks all of them
// rather than a single global queue.
func (s *Scheduler) processLearningPass(ctx context.Context) error {
	users, err := s.users.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if _, err := s.corrections.ProcessCorrections(ctx, u.ID, s.cfg.LearningBatchSize); err != nil {
			s.log.Warn().Err(err).Str("user_id", u.ID).Msg("learning pass failed for user")
		}
	}
	return nil
}

// runJob starts a ticker loop for one job, running it once immediately and
// then on every tick until Stop is called.
func (s *Scheduler) runJob(name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
		select {
		case <-time.After(jitter):
		case <-s.ctx.Done():
			return
		}

		s.runOnce(name, interval, fn)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				s.log.Debug().Str("job", name).Msg("job stopped")
				return
			case <-ticker.C:
				s.runOnce(name, interval, fn)
			}
		}
	}()
}

// runOnce takes the job's singleflight lock before running it so two
// scheduler replicas never overlap on the same job (§4.10); a replica that
// loses the race simply skips this tick. The lock's TTL tracks the job's own
// interval so a crashed holder never wedges it past the next natural tick.
func (s *Scheduler) runOnce(name string, interval time.Duration, fn func(context.Context) error) {
	release, ok := s.jobLock.TryAcquire(s.ctx, name, interval)
	if !ok {
		s.log.Debug().Str("job", name).Msg("job skipped, another replica holds the lock")
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("scheduled job failed")
	}
}
