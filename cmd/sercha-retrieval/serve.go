package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/auth"
	nsqqueue "github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/queue/nsq"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/services"
	"github.com/custodia-labs/sercha-retrieval/internal/worker"
)

// buildApp is swapped in tests
var buildApp = newApp

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. Reindex requests are queued on NSQ when nsqd is
reachable and run inline otherwise. With --with-worker the task consumers
and the incremental scheduler run in the same process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also consume sync tasks and run the scheduler")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to serve the API")
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pingers := a.Pingers()
	var publisher driven.TaskPublisher
	p, err := nsqqueue.NewPublisher(cfg.NSQDHost, logger)
	if err != nil {
		return fmt.Errorf("create nsq publisher: %w", err)
	}
	defer p.Close()
	if perr := p.Ping(ctx); perr != nil {
		logger.Warn("nsqd unreachable, reindex requests will run inline", "addr", cfg.NSQDHost, "error", perr)
	} else {
		publisher = p
		pingers["nsq"] = p
	}

	if serveWithWorker {
		w, werr := startWorker(ctx, a)
		if werr != nil {
			return werr
		}
		defer w.Stop()
	}

	srvCfg := http.DefaultConfig()
	srvCfg.Port = cfg.Port
	srvCfg.Version = version
	srvCfg.Logger = logger

	server := http.NewServer(srvCfg, http.Services{
		Auth:      services.NewAuthService(auth.NewAdapter(cfg.JWTSecret)),
		Retrieval: a.Retrieval,
		Sync:      a.Sync,
		Publisher: publisher,
		Pingers:   pingers,
	})
	return server.Start(ctx)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume sync tasks and run the incremental scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := startWorker(ctx, a)
		if err != nil {
			return err
		}
		logger.Info("worker started", "topics", []string{driven.TopicChunks, driven.TopicReindex})

		<-ctx.Done()
		logger.Info("stopping worker")
		w.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func startWorker(ctx context.Context, a *app) (*worker.Worker, error) {
	w := worker.NewWorker(worker.WorkerConfig{
		Sync:        a.Sync,
		Scheduler:   a.Scheduler,
		Logger:      logger,
		NSQLookupd:  cfg.NSQLookupd,
		NSQD:        cfg.NSQDHost,
		Channel:     cfg.NSQChannel,
		MaxInFlight: cfg.NSQMaxInFlight,
	})
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return w, nil
}
