// The ingest service receives catalog notifications over HTTP and forwards
// validated concept events to the FIFO queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/earthdata/cmr-embeddings/pkg/config"
	"github.com/earthdata/cmr-embeddings/pkg/handlers"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
	"github.com/earthdata/cmr-embeddings/pkg/queue"
)

// notificationEvent is the SNS delivery shape: a list of records each
// wrapping one notification.
type notificationEvent struct {
	Records []struct {
		Sns handlers.NotificationRecord `json:"Sns"`
	} `json:"Records"`
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := observability.NewStandardLogger("ingest")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueClient, err := queue.NewClient(ctx, cfg.Queue.Region, cfg.Queue.URL, logger.WithPrefix("queue"))
	if err != nil {
		logger.Fatal("Failed to create queue client", map[string]interface{}{"error": err.Error()})
	}

	handler := handlers.NewIngestHandler(queueClient, logger.WithPrefix("ingest-handler"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/notifications", func(c *gin.Context) {
		var event notificationEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		records := make([]handlers.NotificationRecord, 0, len(event.Records))
		for _, r := range event.Records {
			records = append(records, r.Sns)
		}

		c.JSON(http.StatusOK, handler.HandleBatch(c.Request.Context(), records))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Ingest service started", map[string]interface{}{"port": cfg.Service.Port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Ingest service shut down", nil)
}
