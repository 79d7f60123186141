// Package bootstrap wires the ports-and-adapters graph into runnable
// processes. Grounded on the teacher's internal/bootstrap/worker_deps.go: a
// Dependencies struct built once at startup, a slice of cleanup funcs run in
// reverse on shutdown, and every concrete adapter selected from config
// rather than hardcoded.
package bootstrap

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailgrouper/adapter/out/extractor"
	"mailgrouper/adapter/out/persistence"
	"mailgrouper/adapter/out/provider"
	"mailgrouper/config"
	"mailgrouper/core/port/out"
	"mailgrouper/core/service/aiprocess"
	"mailgrouper/core/service/correction"
	"mailgrouper/core/service/ingest"
	"mailgrouper/core/service/project"
	"mailgrouper/core/service/queueops"
	"mailgrouper/core/service/reflector"
	"mailgrouper/core/service/resolver"
	"mailgrouper/core/service/scan"
	"mailgrouper/core/service/scheduler"
	"mailgrouper/core/service/watch"
	"mailgrouper/core/service/webhook"
	internalqueue "mailgrouper/internal/queue"
	"mailgrouper/pkg/crypto"
	"mailgrouper/pkg/ratelimit"
	"mailgrouper/pkg/snowflake"
)

// Dependencies holds every constructed component a process (API or worker)
// needs. Both cmd/mailgrouper modes build one of these and select which
// pieces of it to actually run.
type Dependencies struct {
	Config *config.Config

	DB    *sqlx.DB
	Redis *redis.Client
	Log   zerolog.Logger

	Users         out.UserRepository
	Projects      out.ProjectRepository
	Mappings      out.MappingRepository
	Attachments   out.AttachmentRepository
	Corrections   out.CorrectionRepository
	Patterns      out.PatternRepository
	Messages      out.MessageRepository
	Subscriptions out.SubscriptionRepository

	NotificationQueue out.Queue
	ProcessingQueue   out.Queue
	ReflectionQueue   out.Queue

	Provider  out.MailProvider
	Extractor out.EntityExtractor

	Resolver    *resolver.Resolver
	Coordinator *watch.Coordinator
	IngestW     *ingest.Worker
	ExtractW    *aiprocess.Worker
	Reflector   *reflector.Reflector
	Corrector   *correction.Store

	ProjectService  *project.Service
	ScanService     *scan.Service
	QueueOpsService *queueops.Service
	WebhookService  *webhook.Service

	Scheduler *scheduler.Scheduler
}

// NewDependencies builds the full dependency graph. The returned cleanup
// func releases every resource that was successfully opened, in reverse
// acquisition order, even if construction later fails — callers must invoke
// it whenever the *Dependencies return value is non-nil.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	baseLog := log.With().Str("service", "mailgrouper").Logger()
	if cfg.IsDevelopment() {
		baseLog = baseLog.Level(zerolog.DebugLevel)
	} else {
		baseLog = baseLog.Level(zerolog.InfoLevel)
	}

	if err := crypto.Init(); err != nil {
		return nil, cleanup, fmt.Errorf("init encryption: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, cleanup, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	cleanups = append(cleanups, func() { _ = db.Close() })

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, cleanup, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	cleanups = append(cleanups, func() { _ = redisClient.Close() })

	deps := &Dependencies{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		Log:    baseLog,
	}

	deps.Users = persistence.NewUserAdapter(db)
	deps.Projects = persistence.NewProjectAdapter(db)
	deps.Mappings = persistence.NewMappingAdapter(db)
	deps.Attachments = persistence.NewAttachmentAdapter(db)
	deps.Corrections = persistence.NewCorrectionAdapter(db)
	deps.Patterns = persistence.NewPatternAdapter(db)
	deps.Messages = persistence.NewMessageAdapter(db)
	deps.Subscriptions = persistence.NewSubscriptionAdapter(db)

	deps.NotificationQueue = internalqueue.New(redisClient, "notifications", baseLog)
	deps.ProcessingQueue = internalqueue.New(redisClient, "processing", baseLog)
	deps.ReflectionQueue = internalqueue.New(redisClient, "reflection", baseLog)

	limiter := ratelimit.NewRateLimiter(redisClient, &ratelimit.Config{
		ReadPerSecond:  cfg.RateReadPerSec,
		ReadBurst:      cfg.RateReadPerSec,
		WritePerSecond: cfg.RateWritePerSec,
		WriteBurst:     cfg.RateWritePerSec,
		DailyCeiling:   100000,
	})
	deps.Provider = provider.NewGmailAdapter(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, deps.Users, limiter, baseLog)

	deps.Extractor = newExtractor(cfg)

	deps.Resolver = resolver.New(deps.Projects, deps.Mappings, deps.Messages, deps.Patterns, deps.Extractor, resolver.Thresholds{
		Auto:   cfg.ConfidenceAuto,
		Review: cfg.ConfidenceReview,
		New:    cfg.ConfidenceNew,
	})

	deps.Coordinator = watch.New(
		deps.Subscriptions, deps.Provider, deps.NotificationQueue, deps.Users,
		durationMinutes(cfg.WatchRenewalMarginMin), cfg.PollInterval.Duration(), baseLog,
	)
	deps.IngestW = ingest.New(deps.NotificationQueue, deps.ProcessingQueue, deps.Provider, cfg.QueueMaxAttempts, baseLog)
	deps.ExtractW = aiprocess.New(
		deps.ProcessingQueue, deps.ReflectionQueue, deps.Extractor, deps.Resolver,
		deps.Projects, deps.Mappings, deps.Attachments, deps.Messages, redisClient,
		cfg.QueueMaxAttempts, baseLog,
	)
	deps.Reflector = reflector.New(deps.ReflectionQueue, deps.Provider, deps.Projects, deps.Mappings, cfg.QueueMaxAttempts, cfg.BatchMax, baseLog)

	ids, err := snowflake.NewGenerator(workerOrdinal(cfg.WorkerID))
	if err != nil {
		return deps, cleanup, fmt.Errorf("init id generator: %w", err)
	}
	deps.Corrector = correction.New(deps.Corrections, deps.Patterns, deps.Mappings, deps.Projects, ids, cfg.LearningPatternMinSupport, baseLog)

	deps.ProjectService = project.New(deps.Projects, deps.Mappings, deps.Corrector, baseLog)
	deps.ScanService = scan.New(deps.Provider, deps.NotificationQueue, deps.ProcessingQueue, baseLog)
	deps.QueueOpsService = queueops.New(map[string]out.Queue{
		"notifications": deps.NotificationQueue,
		"processing":    deps.ProcessingQueue,
		"reflection":    deps.ReflectionQueue,
	}, baseLog)
	debouncer := ratelimit.NewDebouncer(redisClient, durationMinutes(5))
	deps.WebhookService = webhook.New(deps.Coordinator, debouncer, deps.Users, baseLog)

	schedCfg := scheduler.DefaultConfig(cfg.WorkerID)
	schedCfg.PollInterval = cfg.PollInterval.Duration()
	schedCfg.IngestBatchSize = cfg.ConsumerBatchSize
	schedCfg.ExtractBatchSize = cfg.ConsumerBatchSize
	schedCfg.ReflectBatchSize = cfg.BatchMax
	deps.Scheduler = scheduler.New(schedCfg, deps.Coordinator, deps.IngestW, deps.ExtractW, deps.Reflector, deps.Corrector, deps.Users, redisClient, baseLog)

	return deps, cleanup, nil
}

func newExtractor(cfg *config.Config) out.EntityExtractor {
	switch cfg.AIProvider {
	case "openai":
		return extractor.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.AIModel)
	case "ollama":
		return extractor.NewOllamaExtractor(cfg.OllamaBaseURL, cfg.AIModel)
	default:
		return extractor.NewStubExtractor()
	}
}

func durationMinutes(m int) time.Duration {
	return time.Duration(m) * time.Minute
}

func workerOrdinal(workerID string) int64 {
	var h int64
	for _, c := range workerID {
		h = h*31 + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return h % 1024
}
