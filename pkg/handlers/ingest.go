package handlers

import (
	"context"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// ConceptEnqueuer is the queue surface the ingest handler depends on.
type ConceptEnqueuer interface {
	SendConceptMessage(ctx context.Context, msg models.ConceptMessage) (string, error)
}

// NotificationRecord is one catalog notification: an opaque message body
// plus the upstream message id used in error reports.
type NotificationRecord struct {
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
}

// IngestRecordResult reports one successfully queued record.
type IngestRecordResult struct {
	ConceptID    string `json:"concept_id"`
	Status       string `json:"status"`
	SQSMessageID string `json:"sqs_message_id"`
}

// IngestRecordError reports one failed record.
type IngestRecordError struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// IngestResult summarizes an ingest batch.
type IngestResult struct {
	Processed int                  `json:"processed"`
	Failed    int                  `json:"failed"`
	Results   []IngestRecordResult `json:"results"`
	Errors    []IngestRecordError  `json:"errors,omitempty"`
}

// IngestHandler validates catalog notifications and forwards them to the
// FIFO queue. Malformed records are reported individually and never abort
// the batch.
type IngestHandler struct {
	queue  ConceptEnqueuer
	logger observability.Logger
}

// NewIngestHandler creates the ingest handler.
func NewIngestHandler(queue ConceptEnqueuer, logger observability.Logger) *IngestHandler {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &IngestHandler{queue: queue, logger: logger}
}

// HandleBatch processes notification records, enqueueing each valid concept
// message with its FIFO attributes.
func (h *IngestHandler) HandleBatch(ctx context.Context, records []NotificationRecord) IngestResult {
	h.logger.Info("Processing notification records", map[string]interface{}{
		"count": len(records),
	})

	var result IngestResult
	for _, record := range records {
		res, err := h.processRecord(ctx, record)
		if err != nil {
			h.logger.Error("Failed to process record", map[string]interface{}{
				"message_id": record.MessageID,
				"error":      err.Error(),
			})
			result.Errors = append(result.Errors, IngestRecordError{
				MessageID: record.MessageID,
				Error:     err.Error(),
			})
			continue
		}
		result.Results = append(result.Results, res)
	}

	result.Processed = len(result.Results)
	result.Failed = len(result.Errors)
	return result
}

func (h *IngestHandler) processRecord(ctx context.Context, record NotificationRecord) (IngestRecordResult, error) {
	msg, err := models.ParseConceptMessage([]byte(record.Message))
	if err != nil {
		return IngestRecordResult{}, err
	}

	sqsID, err := h.queue.SendConceptMessage(ctx, msg)
	if err != nil {
		return IngestRecordResult{}, err
	}

	return IngestRecordResult{
		ConceptID:    msg.ConceptID,
		Status:       "queued",
		SQSMessageID: sqsID,
	}, nil
}
