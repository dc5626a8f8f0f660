// The bootstrap command bulk-loads concepts from a catalog search into the
// embedding pipeline.
//
// Example payload:
//
//	{
//	  "concept_type": "collection",
//	  "search_params": {"consortium": "EOSDIS", "has_granules": "true"},
//	  "page_size": 500,
//	  "dry_run": false
//	}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/earthdata/cmr-embeddings/pkg/cmr"
	"github.com/earthdata/cmr-embeddings/pkg/config"
	"github.com/earthdata/cmr-embeddings/pkg/handlers"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
	"github.com/earthdata/cmr-embeddings/pkg/queue"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	payloadPath := flag.String("payload", "", "path to bootstrap request JSON (default: stdin)")
	flag.Parse()

	logger := observability.NewStandardLogger("bootstrap")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", map[string]interface{}{"error": err.Error()})
	}

	req, err := readRequest(*payloadPath)
	if err != nil {
		logger.Fatal("Failed to read bootstrap request", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueClient, err := queue.NewClient(ctx, cfg.Queue.Region, cfg.Queue.URL, logger.WithPrefix("queue"))
	if err != nil {
		logger.Fatal("Failed to create queue client", map[string]interface{}{"error": err.Error()})
	}

	cmrClient := cmr.NewClient(cmr.ClientConfig{
		BaseURL:        cfg.CMR.BaseURL,
		ConceptTimeout: cfg.CMR.ConceptTimeout,
		SearchTimeout:  cfg.CMR.SearchTimeout,
		SearchRPS:      cfg.CMR.SearchRPS,
	}, logger.WithPrefix("cmr"))

	driver := handlers.NewBootstrapDriver(cmrClient, queueClient, logger.WithPrefix("driver"))

	summary, err := driver.Run(ctx, req)
	if err != nil {
		logger.Fatal("Bootstrap failed", map[string]interface{}{
			"error":           err.Error(),
			"total_processed": summary.TotalProcessed,
			"total_sent":      summary.TotalSent,
		})
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	_, _ = os.Stdout.Write(append(out, '\n'))
}

func readRequest(path string) (handlers.BootstrapRequest, error) {
	var req handlers.BootstrapRequest

	data := []byte(nil)
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, err
	}

	err = json.Unmarshal(data, &req)
	return req, err
}
