package handlers

import (
	"context"

	"github.com/earthdata/cmr-embeddings/pkg/cmr"
	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

const defaultBootstrapPageSize = 500

// ConceptSearcher is the CMR surface the bootstrap driver depends on.
type ConceptSearcher interface {
	Search(ctx context.Context, conceptType string, searchParams map[string]string, pageSize int, fn func(items []cmr.SearchItem) error) error
}

// BatchSender is the queue surface the bootstrap driver depends on. Send
// failures are retried inside the queue client; exhausted retries surface
// as a queue.BatchSendError.
type BatchSender interface {
	SendBatch(ctx context.Context, msgs []models.ConceptMessage) (int, error)
}

// BootstrapRequest describes a bulk backfill run.
type BootstrapRequest struct {
	ConceptType  string            `json:"concept_type"`
	SearchParams map[string]string `json:"search_params"`
	PageSize     int               `json:"page_size"`
	DryRun       bool              `json:"dry_run"`
}

// BootstrapSummary reports the outcome of a backfill run.
type BootstrapSummary struct {
	ConceptType    string            `json:"concept_type"`
	SearchParams   map[string]string `json:"search_params"`
	TotalProcessed int               `json:"total_processed"`
	TotalSent      int               `json:"total_sent"`
	TotalErrors    int               `json:"total_errors"`
	DryRun         bool              `json:"dry_run"`
}

// BootstrapDriver pages through a catalog search and feeds synthetic update
// messages into the FIFO queue.
type BootstrapDriver struct {
	cmr    ConceptSearcher
	queue  BatchSender
	logger observability.Logger
}

// NewBootstrapDriver creates the bootstrap driver.
func NewBootstrapDriver(searcher ConceptSearcher, queue BatchSender, logger observability.Logger) *BootstrapDriver {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &BootstrapDriver{cmr: searcher, queue: queue, logger: logger}
}

// Run executes a backfill. Items missing identifiers are counted as errors
// without aborting the run; exhausted queue retries abort with the failed
// ids.
func (d *BootstrapDriver) Run(ctx context.Context, req BootstrapRequest) (BootstrapSummary, error) {
	if req.ConceptType == "" {
		req.ConceptType = models.ConceptTypeCollection
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultBootstrapPageSize
	}

	d.logger.Info("Starting bootstrap", map[string]interface{}{
		"concept_type":  req.ConceptType,
		"search_params": req.SearchParams,
		"page_size":     req.PageSize,
		"dry_run":       req.DryRun,
	})

	summary := BootstrapSummary{
		ConceptType:  req.ConceptType,
		SearchParams: req.SearchParams,
		DryRun:       req.DryRun,
	}

	err := d.cmr.Search(ctx, req.ConceptType, req.SearchParams, req.PageSize, func(items []cmr.SearchItem) error {
		messages := make([]models.ConceptMessage, 0, len(items))
		for _, item := range items {
			msg, err := cmr.ExtractConceptInfo(req.ConceptType, item)
			if err != nil {
				d.logger.Warn("Error extracting concept info", map[string]interface{}{
					"error": err.Error(),
				})
				summary.TotalErrors++
				continue
			}
			messages = append(messages, msg)
			summary.TotalProcessed++
		}

		if req.DryRun {
			d.logger.Info("Dry run, skipping enqueue", map[string]interface{}{
				"count": len(messages),
			})
			summary.TotalSent += len(messages)
			return nil
		}

		sent, err := d.queue.SendBatch(ctx, messages)
		summary.TotalSent += sent
		if err != nil {
			return err
		}

		d.logger.Info("Sent messages to queue", map[string]interface{}{
			"count": sent,
		})
		return nil
	})
	if err != nil {
		return summary, err
	}

	d.logger.Info("Bootstrap complete", map[string]interface{}{
		"total_processed": summary.TotalProcessed,
		"total_sent":      summary.TotalSent,
		"total_errors":    summary.TotalErrors,
	})
	return summary, nil
}
