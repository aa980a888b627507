package cmd

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/baldanca/log-puller/archive"
	"github.com/baldanca/log-puller/catalog"
	"github.com/baldanca/log-puller/config"
	"github.com/baldanca/log-puller/connector"
	"github.com/baldanca/log-puller/secrets"
	"github.com/baldanca/log-puller/source"
	"github.com/baldanca/log-puller/worker"
)

var (
	queueURL          string
	waitSeconds       int32
	maxMessages       int32
	visibilityTimeout int32
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the request queue and archive pulled log data",
	RunE:  runWorker,
}

func init() {
	runCmd.Flags().StringVar(&queueURL, "queue-url", "", "SQS queue URL delivering pull requests")
	runCmd.Flags().Int32Var(&waitSeconds, "wait-seconds", 20, "SQS long-poll wait time")
	runCmd.Flags().Int32Var(&maxMessages, "max-messages", 10, "max messages per batch (1-10)")
	runCmd.Flags().Int32Var(&visibilityTimeout, "visibility-timeout", 120, "visibility timeout for received messages")
	_ = runCmd.MarkFlagRequired("queue-url")

	rootCmd.AddCommand(runCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("configuration incomplete", zap.Error(err))
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("aws config", zap.Error(err))
		return err
	}

	cat, err := catalog.Load(cfg.CatalogDir, cfg.SourceTypes, cfg.SecretRefs, logger)
	if err != nil {
		logger.Error("catalog load failed", zap.Error(err))
		return err
	}
	logger.Info("catalog loaded", zap.Int("sources", cat.Len()))

	comp, err := archive.NewZstd()
	if err != nil {
		return err
	}
	writer := archive.NewWriter(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.KeyPrefix, comp, logger)
	writer.SetRetryPolicy(archive.SimpleRetry{Attempts: 3, Jitter: true})

	cache := secrets.NewCache(secretsmanager.NewFromConfig(awsCfg))

	reg := connector.NewRegistry()
	reg.Register(connector.TypeHTTP, connector.NewHTTP(&http.Client{}, cache, logger))

	w := worker.New(cat, reg, writer, logger)
	src := source.NewSQS(sqs.NewFromConfig(awsCfg), queueURL, source.SQSConfig{
		WaitTimeSeconds: waitSeconds,
		MaxMessages:     maxMessages,
		VisibilityTO:    visibilityTimeout,
	})

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	g.Add(func() error {
		return pollLoop(ctx, src, w, logger)
	}, func(error) {
		cancel()
	})

	logger.Info("worker started", zap.String("queue", queueURL))
	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("shutting down", zap.String("signal", sig.Signal.String()))
			return nil
		}
		return err
	}
	return nil
}

func pollLoop(ctx context.Context, src *source.SQS, w *worker.Worker, logger *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := src.ReceiveBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		if len(batch.Messages) == 0 {
			continue
		}

		report := w.ProcessBatch(ctx, batch.Messages)

		// Unacked messages return after the visibility timeout; at-least-once
		// redelivery tolerates the resulting duplicates.
		if err := src.AckExcept(ctx, batch, report.FailedIDs); err != nil {
			logger.Error("ack failed", zap.Error(err))
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
