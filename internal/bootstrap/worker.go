package bootstrap

import (
	"mailgrouper/config"
	"mailgrouper/pkg/logger"
)

// Worker wraps the scheduler-driven background process: the watch poller,
// the ingest/extract/reflect queue drains, and the periodic learning pass.
// It carries the *Dependencies that produced it so callers can also expose
// e.g. a debug endpoint without rebuilding the graph.
type Worker struct {
	Deps *Dependencies
}

// NewWorker builds the dependency graph and returns it wrapped for the
// worker process mode (`-mode=worker`), grounded on the teacher's split
// between NewAPI and its worker-side counterpart in worker_bootstrap.go.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: logLevel, Service: "mailgrouper-worker"})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return nil, cleanup, err
	}
	return &Worker{Deps: deps}, cleanup, nil
}

// Start launches the scheduler's ticker loops. Non-blocking; callers stop
// with Stop on shutdown.
func (w *Worker) Start() {
	w.Deps.Scheduler.Start()
}

func (w *Worker) Stop() {
	w.Deps.Scheduler.Stop()
}
