package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/browser"
	"github.com/aliskhannn/screenshot-worker/internal/capture"
	"github.com/aliskhannn/screenshot-worker/internal/config"
	"github.com/aliskhannn/screenshot-worker/internal/delivery"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/pipeline"
	"github.com/aliskhannn/screenshot-worker/internal/processor"
	"github.com/aliskhannn/screenshot-worker/internal/queue"
	amqpqueue "github.com/aliskhannn/screenshot-worker/internal/queue/amqp"
	kafkaqueue "github.com/aliskhannn/screenshot-worker/internal/queue/kafka"
	localqueue "github.com/aliskhannn/screenshot-worker/internal/queue/local"
	sqsqueue "github.com/aliskhannn/screenshot-worker/internal/queue/sqs"
	resultrepo "github.com/aliskhannn/screenshot-worker/internal/repository/result"
	screenshotsvc "github.com/aliskhannn/screenshot-worker/internal/service/screenshot"
	"github.com/aliskhannn/screenshot-worker/internal/storage/file"
	"github.com/aliskhannn/screenshot-worker/internal/storage/local"
	"github.com/aliskhannn/screenshot-worker/internal/supervisor"
)

func main() {
	os.Exit(run())
}

// run handles a single job and returns the process exit code.
func run() int {
	// Context & signals: an interrupted job is abandoned and its lease expires.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to parse flags")
		return screenshotsvc.ExitConfig
	}

	cfg, err := config.Load("./config/config.yml", flags)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to load config")
		return screenshotsvc.ExitConfig
	}

	// Retry strategy for queue, storage and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Job source and results channel.
	src, err := newSource(ctx, cfg, strategy)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to connect to queue")
		return screenshotsvc.ExitError
	}
	defer func() {
		if err := src.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close queue")
		}
	}()

	// Artifact storage: MinIO for queued jobs, a directory for local ones.
	localStorage, err := local.NewStorage(cfg.Storage.LocalDir)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to prepare local storage")
		return screenshotsvc.ExitError
	}

	var remote delivery.Storage
	if !cfg.Worker.Local {
		s, err := file.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
			cfg.Storage.BucketName, cfg.Storage.PublicURL, cfg.Storage.UseSSL)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to connect to storage")
			return screenshotsvc.ExitError
		}
		remote = s
	}

	// Delivery ledger in PostgreSQL, when enabled.
	var ledger delivery.Ledger
	if cfg.Database.Enabled && !cfg.Worker.Local {
		db, err := connectDB(cfg.Database)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to connect to database")
			return screenshotsvc.ExitError
		}
		defer closeDB(db)
		ledger = resultrepo.NewRepository(db)
	}

	// Image processor, pipeline and capture stage.
	proc, err := processor.New(processor.Options{
		ThumbnailWidth: cfg.Pipeline.ThumbnailWidth,
		CompressLimit:  cfg.Pipeline.CompressLimit,
		ErrorHeight:    cfg.Pipeline.ErrorImageHeight,
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to initialize processor")
		return screenshotsvc.ExitError
	}

	p := pipeline.New(pipeline.Options{
		ViewportHeight:     cfg.Pipeline.ViewportHeight,
		MaxPageHeight:      cfg.Pipeline.MaxPageHeight,
		NavigationTimeout:  cfg.Pipeline.NavigationTimeout,
		NavigationFallback: cfg.Pipeline.NavigationFallback,
		AuthTimeout:        cfg.Pipeline.AuthTimeout,
		ScrollDelay:        cfg.Pipeline.ScrollDelay,
		SettleDelay:        cfg.Pipeline.SettleDelay,
		MaxScrollCycles:    cfg.Pipeline.MaxScrollCycles,
		MaxScrollDuration:  cfg.Pipeline.MaxScrollDuration,
		StabilizeMinRatio:  cfg.Pipeline.StabilizeMinRatio,
		StabilizeMaxDepth:  cfg.Pipeline.StabilizeMaxDepth,
	})

	// The browser starts with the first page, after a job was leased.
	var b *browser.Browser
	defer func() {
		if b == nil {
			return
		}
		if err := b.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close browser")
		}
	}()

	open := func(pageCtx context.Context) (supervisor.Page, error) {
		if b == nil {
			var err error
			b, err = browser.New(ctx, browser.Options{
				ExecPath:        cfg.Browser.ExecPath,
				Proxy:           cfg.Browser.Proxy,
				Headless:        cfg.Browser.Headless,
				NoSandbox:       cfg.Browser.NoSandbox,
				ConsoleLogLimit: cfg.Pipeline.ConsoleLogLimit,
			})
			if err != nil {
				return nil, err
			}
		}

		page, err := b.NewPage(pageCtx)
		if err != nil {
			return nil, err
		}
		return page, nil
	}

	// Delivery protocol, supervisor and service layer.
	protocol := delivery.New(cfg.Worker.MaxAttempts, proc, remote, localStorage, src, src, ledger, strategy)
	sup := supervisor.New(open, p, capture.New(proc), protocol, cfg.Worker.Timeout)
	service := screenshotsvc.NewService(src, sup, protocol, cfg.Worker.Local, cfg.Worker.OutputFilepath)

	res, err := service.Process(ctx)
	code := screenshotsvc.ExitCode(err)

	switch {
	case errors.Is(err, model.ErrNoMessage):
		zlog.Logger.Info().Msg("no job to process")
	case errors.Is(err, model.ErrRequeued):
		zlog.Logger.Warn().Err(err).Int("exit_code", code).Msg("job requeued")
	case err != nil:
		zlog.Logger.Error().Err(err).Int("exit_code", code).Msg("job failed")
	default:
		zlog.Logger.Info().Str("job_id", res.Job.ID).Bool("status", res.Status).Msg("job done")
	}

	return code
}

// newSource selects the job source: a local file or inline content when
// given, the configured queue driver otherwise.
func newSource(ctx context.Context, cfg *config.Config, s retry.Strategy) (queue.Source, error) {
	switch {
	case cfg.Worker.File != "":
		return localqueue.FromFile(cfg.Worker.File)
	case cfg.Worker.FileContent != "":
		return localqueue.FromContent([]byte(cfg.Worker.FileContent)), nil
	}

	switch cfg.Queue.Driver {
	case config.DriverKafka:
		return kafkaqueue.New(&cfg.Queue.Kafka, s), nil
	case config.DriverSQS:
		return sqsqueue.New(ctx, &cfg.Queue.SQS)
	case config.DriverAMQP:
		return amqpqueue.New(&cfg.Queue.AMQP)
	default:
		return nil, fmt.Errorf("%w: unknown queue driver %q", config.ErrInvalidConfig, cfg.Queue.Driver)
	}
}

// connectDB connects to PostgreSQL (master and slaves).
func connectDB(cfg config.Database) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	return dbpg.New(cfg.Master.DSN(), slaveDSNs, opts)
}

// closeDB closes master and slave databases.
func closeDB(db *dbpg.DB) {
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
		}
	}
}
