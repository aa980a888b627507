// log-puller-lambda is the Lambda deployment of the log puller. It receives
// SQS batches of pull requests and answers with the partial-batch-failure
// response so that only failed items are redelivered.
package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"github.com/baldanca/log-puller/archive"
	"github.com/baldanca/log-puller/catalog"
	"github.com/baldanca/log-puller/config"
	"github.com/baldanca/log-puller/connector"
	"github.com/baldanca/log-puller/secrets"
	"github.com/baldanca/log-puller/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	w, err := buildWorker(context.Background(), logger)
	if err != nil {
		// Startup precondition: without a catalog and clients the worker
		// must not accept any batches.
		logger.Fatal("startup failed", zap.Error(err))
	}

	lambda.Start(func(ctx context.Context, event events.SQSEvent) (*events.SQSEventResponse, error) {
		msgs := make([]worker.Message, 0, len(event.Records))
		for _, r := range event.Records {
			msgs = append(msgs, worker.Message{ID: r.MessageId, Body: r.Body})
		}

		report := w.ProcessBatch(ctx, msgs)
		if report.Empty() {
			return nil, nil
		}

		resp := &events.SQSEventResponse{
			BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(report.FailedIDs)),
		}
		for _, id := range report.FailedIDs {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: id,
			})
		}
		return resp, nil
	})
}

func buildWorker(ctx context.Context, logger *zap.Logger) (*worker.Worker, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.CatalogDir, cfg.SourceTypes, cfg.SecretRefs, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", zap.Int("sources", cat.Len()))

	comp, err := archive.NewZstd()
	if err != nil {
		return nil, err
	}
	writer := archive.NewWriter(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.KeyPrefix, comp, logger)
	writer.SetRetryPolicy(archive.SimpleRetry{Attempts: 3, Jitter: true})

	cache := secrets.NewCache(secretsmanager.NewFromConfig(awsCfg))

	reg := connector.NewRegistry()
	reg.Register(connector.TypeHTTP, connector.NewHTTP(&http.Client{}, cache, logger))

	return worker.New(cat, reg, writer, logger), nil
}
