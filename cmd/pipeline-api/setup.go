package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/ocrbench/pipeline/internal/config"
	"github.com/ocrbench/pipeline/internal/detector"
	"github.com/ocrbench/pipeline/internal/discovery"
	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/stages"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/pkg/log"
	"github.com/ocrbench/pipeline/pkg/migrations"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// setup loads the configuration and installs the global zap logger.
// The returned func flushes and restores the previous logger.
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading configuration: %w", err)
	}

	logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger := log.InitLog(logLvl, cfg.Service.LogFormat)
	undo := zap.ReplaceGlobals(logger)

	return cfg, func() {
		_ = logger.Sync()
		undo()
	}, nil
}

// openStore connects to the database and applies every pending migration.
func openStore(cfg *config.Config) (store.Store, error) {
	zap.S().Infow("initializing data store", "type", cfg.Database.Type, "name", cfg.Database.Name)
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}

	if err := migrations.MigrateStore(db, cfg); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store.NewStore(db), nil
}

type pipeline struct {
	eventLog  *events.Log
	producer  *events.EventProducer
	detector  *detector.Client
	scheduler *runtime.Scheduler
	scanner   *discovery.Scanner
}

// newPipeline wires the event log, the stage registry, the scheduler and the scanner.
func newPipeline(cfg *config.Config, s store.Store) (*pipeline, error) {
	p := &pipeline{}

	var logOpts []events.LogOptions
	if cfg.Pipeline.EventsMirror {
		p.producer = events.NewEventProducer(events.NewStreamWriter(os.Stdout))
		logOpts = append(logOpts, events.WithMirror(p.producer))
	}
	p.eventLog = events.NewLog(s, logOpts...)

	p.detector = detector.NewClient(cfg.Detector.URL, cfg.Detector.Model, cfg.Detector.ImageSize, cfg.Detector.Timeout)
	defaults := detector.Thresholds{
		Confidence: cfg.Detector.ConfidenceThreshold,
		IoU:        cfg.Detector.IoUThreshold,
	}

	registry := runtime.NewRegistry()
	layoutHandler := stages.NewLayoutDetectionHandler(s, p.detector, cfg.Discovery.SourceDir, defaults)
	if err := stages.RegisterLayoutDetection(registry, layoutHandler, cfg.Pipeline.JobTimeout); err != nil {
		return nil, err
	}

	p.scheduler = runtime.NewScheduler(s, registry, p.eventLog,
		runtime.WithEnabled(cfg.Pipeline.BackgroundJobs),
		runtime.WithWorkers(cfg.Pipeline.Workers),
		runtime.WithPollInterval(cfg.Pipeline.PollInterval),
		runtime.WithJobTimeout(cfg.Pipeline.JobTimeout),
		runtime.WithTracker(lifecycle.NewPageTracker(s)),
	)

	p.scanner = discovery.NewScanner(s, p.eventLog, p.scheduler, stages.LayoutDetection,
		cfg.Discovery.SourceDir, cfg.Discovery.AllowedExtensions)

	return p, nil
}

func (p *pipeline) checkDetector(ctx context.Context) {
	if err := p.detector.HealthCheck(ctx); err != nil {
		zap.S().Named("detector").Warnw("layout detector is not reachable, detection jobs will fail until it is", "error", err)
	}
}

func (p *pipeline) Close() {
	if p.producer != nil {
		_ = p.producer.Close()
	}
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
