// The worker consumes concept events from the FIFO queue and keeps the
// vector index synchronized with the catalog.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/earthdata/cmr-embeddings/pkg/cmr"
	"github.com/earthdata/cmr-embeddings/pkg/config"
	"github.com/earthdata/cmr-embeddings/pkg/embedding"
	"github.com/earthdata/cmr-embeddings/pkg/handlers"
	"github.com/earthdata/cmr-embeddings/pkg/kms"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
	"github.com/earthdata/cmr-embeddings/pkg/queue"
	"github.com/earthdata/cmr-embeddings/pkg/storage"
)

// receiveErrorDelay keeps a broken queue from spinning the poll loop hot.
const receiveErrorDelay = 5 * time.Second

// messageQueue is the queue surface the poll loop depends on.
type messageQueue interface {
	ReceiveMessages(ctx context.Context, maxMessages int32, wait time.Duration) ([]queue.Message, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// batchHandler processes one received batch.
type batchHandler interface {
	HandleBatch(ctx context.Context, messages []queue.Message) handlers.BatchResult
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := observability.NewStandardLogger("worker")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresDatastore(ctx, cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.MaxIdleConns, logger.WithPrefix("storage"))
	if err != nil {
		logger.Fatal("Failed to connect to datastore", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = store.Close() }()

	kmsClient, err := kms.NewClient(kms.ClientConfig{
		BaseURL:   cfg.KMS.BaseURL,
		Timeout:   cfg.KMS.Timeout,
		CacheSize: cfg.KMS.CacheSize,
	}, logger.WithPrefix("kms"))
	if err != nil {
		logger.Fatal("Failed to create KMS client", map[string]interface{}{"error": err.Error()})
	}

	base, err := embedding.NewBedrockGenerator(ctx, embedding.BedrockConfig{
		Region:  cfg.Embedding.Region,
		ModelID: cfg.Embedding.ModelID,
		Timeout: cfg.Embedding.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to create embedding generator", map[string]interface{}{"error": err.Error()})
	}

	generator, err := embedding.NewDefaultRouter(base, kmsClient, logger.WithPrefix("embedding"))
	if err != nil {
		logger.Fatal("Failed to build embedding router", map[string]interface{}{"error": err.Error()})
	}

	cmrClient := cmr.NewClient(cmr.ClientConfig{
		BaseURL:        cfg.CMR.BaseURL,
		ConceptTimeout: cfg.CMR.ConceptTimeout,
		SearchTimeout:  cfg.CMR.SearchTimeout,
		SearchRPS:      cfg.CMR.SearchRPS,
	}, logger.WithPrefix("cmr"))

	queueClient, err := queue.NewClient(ctx, cfg.Queue.Region, cfg.Queue.URL, logger.WithPrefix("queue"))
	if err != nil {
		logger.Fatal("Failed to create queue client", map[string]interface{}{"error": err.Error()})
	}

	handler := handlers.NewEmbeddingHandler(
		store,
		cmrClient,
		cmr.NewExtractor(logger.WithPrefix("extractor")),
		generator,
		kmsClient,
		logger.WithPrefix("embedding-handler"),
	)

	logger.Info("Worker started", map[string]interface{}{
		"queue": cfg.Queue.URL,
		"model": generator.ModelID(),
	})

	if err := run(ctx, cfg, queueClient, handler, logger, receiveErrorDelay); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Worker stopped with error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Worker shut down", nil)
}

// run polls the queue until the context is cancelled. Messages absent from
// the failure report are acknowledged; the rest stay for redelivery. Receive
// errors pause the loop for errDelay before the next poll.
func run(ctx context.Context, cfg *config.Config, queueClient messageQueue, handler batchHandler, logger observability.Logger, errDelay time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		messages, err := queueClient.ReceiveMessages(ctx, cfg.Queue.MaxMessages, cfg.Queue.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Failed to receive messages", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(errDelay):
			}
			continue
		}
		if len(messages) == 0 {
			continue
		}

		result := handler.HandleBatch(ctx, messages)
		for _, msg := range messages {
			if result.Failed(msg.ID) {
				continue
			}
			if err := queueClient.DeleteMessage(ctx, msg.ReceiptHandle); err != nil {
				logger.Error("Failed to acknowledge message", map[string]interface{}{
					"message_id": msg.ID,
					"error":      err.Error(),
				})
			}
		}
	}
}
