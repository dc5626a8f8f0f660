// Package queue provides the FIFO queue client used between the ingest and
// embedding stages of the pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// SQS FIFO limits batches to 10 entries.
const maxBatchSize = 10

// SQSAPI is the subset of the SQS client used by the pipeline, declared as
// an interface so tests can inject fakes.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, input *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Message is a received queue message awaiting processing. ID doubles as the
// item identifier in partial-batch failure reports.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// RetryConfig controls the exponential backoff used when a batch send
// partially fails.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the standard batch-send retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		Multiplier:      2.0,
	}
}

// Client wraps an SQS FIFO queue with the message conventions of the
// pipeline: group id "{type}:{id}" and deduplication id "{id}:{rev}".
type Client struct {
	api      SQSAPI
	queueURL string
	retry    RetryConfig
	logger   observability.Logger
}

// NewClient creates a queue client from the default AWS configuration.
func NewClient(ctx context.Context, region, queueURL string, logger observability.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewClientWithAPI(sqs.NewFromConfig(cfg), queueURL, logger), nil
}

// NewClientWithAPI creates a queue client with an injected SQS API,
// primarily for tests.
func NewClientWithAPI(api SQSAPI, queueURL string, logger observability.Logger) *Client {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Client{
		api:      api,
		queueURL: queueURL,
		retry:    DefaultRetryConfig(),
		logger:   logger,
	}
}

// SendConceptMessage enqueues a single concept event with FIFO attributes.
// Returns the SQS message id.
func (c *Client) SendConceptMessage(ctx context.Context, msg models.ConceptMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal concept message: %w", err)
	}

	out, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(c.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(msg.GroupID()),
		MessageDeduplicationId: aws.String(msg.DeduplicationID()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message for %s: %w", msg.ConceptID, err)
	}

	c.logger.Info("Queued concept event", map[string]interface{}{
		"action":       msg.Action,
		"concept_id":   msg.ConceptID,
		"revision_id":  msg.RevisionID,
		"sqs_message":  aws.ToString(out.MessageId),
		"concept_type": msg.ConceptType,
	})
	return aws.ToString(out.MessageId), nil
}

// BatchSendError reports the entries of a batch that could not be sent after
// retries were exhausted.
type BatchSendError struct {
	FailedIDs []string
}

func (e *BatchSendError) Error() string {
	return fmt.Sprintf("failed to send %d messages after retries: %v", len(e.FailedIDs), e.FailedIDs)
}

// SendBatch enqueues concept events in FIFO batches of up to 10. Entries
// rejected by SQS are retried with exponential backoff; only the failing
// entries are resent. Returns the number of messages successfully sent.
func (c *Client) SendBatch(ctx context.Context, msgs []models.ConceptMessage) (int, error) {
	sent := 0
	for start := 0; start < len(msgs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}

		n, err := c.sendBatchWithRetry(ctx, msgs[start:end])
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (c *Client) sendBatchWithRetry(ctx context.Context, batch []models.ConceptMessage) (int, error) {
	entries, err := buildBatchEntries(batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	pending := entries

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.Multiplier = c.retry.Multiplier
	// #nosec G115 -- MaxRetries is a small positive constant
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.MaxRetries)), ctx)

	operation := func() error {
		out, err := c.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(c.queueURL),
			Entries:  pending,
		})
		if err != nil {
			return err
		}

		sent += len(out.Successful)
		if len(out.Failed) == 0 {
			pending = nil
			return nil
		}

		c.logger.Warn("Batch send partially failed, retrying failed entries", map[string]interface{}{
			"failed": len(out.Failed),
			"sent":   len(out.Successful),
		})
		pending = retainFailed(pending, out.Failed)
		return fmt.Errorf("%d batch entries failed", len(out.Failed))
	}

	if err := backoff.Retry(operation, policy); err != nil {
		failed := make([]string, 0, len(pending))
		for _, entry := range pending {
			failed = append(failed, aws.ToString(entry.MessageDeduplicationId))
		}
		return sent, &BatchSendError{FailedIDs: failed}
	}
	return sent, nil
}

func buildBatchEntries(batch []models.ConceptMessage) ([]types.SendMessageBatchRequestEntry, error) {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(batch))
	for i, msg := range batch {
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal concept message %s: %w", msg.ConceptID, err)
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:                     aws.String(strconv.Itoa(i)),
			MessageBody:            aws.String(string(body)),
			MessageGroupId:         aws.String(msg.GroupID()),
			MessageDeduplicationId: aws.String(msg.DeduplicationID()),
		})
	}
	return entries, nil
}

func retainFailed(entries []types.SendMessageBatchRequestEntry, failed []types.BatchResultErrorEntry) []types.SendMessageBatchRequestEntry {
	failedIDs := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedIDs[aws.ToString(f.Id)] = true
	}

	var remaining []types.SendMessageBatchRequestEntry
	for _, entry := range entries {
		if failedIDs[aws.ToString(entry.Id)] {
			remaining = append(remaining, entry)
		}
	}
	return remaining
}

// ReceiveMessages long-polls the queue for up to maxMessages messages.
func (c *Client) ReceiveMessages(ctx context.Context, maxMessages int32, wait time.Duration) ([]Message, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     int32(wait.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return messages, nil
}

// DeleteMessage acknowledges a processed message.
func (c *Client) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
