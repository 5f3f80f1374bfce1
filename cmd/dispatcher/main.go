// Command dispatcher consumes order changes from Kafka and runs the driver
// fan-out for every placed->accepted transition.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-dispatch/internal/app"
	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	// config.Load already requires PG_DSN and REDIS_ADDR alongside Kafka
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("dispatcher needs KAFKA_BROKERS")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("open infrastructure", "error", err)
		os.Exit(1)
	}
	defer infra.Close()

	go serveMetrics(cfg.MetricsAddr, logger)

	r := ingest.NewReader(cfg.KafkaBrokers, cfg.KafkaOrderTopic, cfg.KafkaGroup+"-dispatch")
	defer r.Close()

	fan := app.NewFanout(cfg, infra, logger)
	c := &ingest.Consumer{Reader: r, Handle: orderChangeHandler(fan, logger), Logger: logger}
	logger.Info("dispatcher listening", "topic", cfg.KafkaOrderTopic, "policy", cfg.DispatchPolicy)
	if err := c.Run(ctx); err != nil {
		logger.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down dispatcher")
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", "error", err)
	}
}

type changeHandler interface {
	HandleOrderChange(ctx context.Context, change models.OrderChange) (dispatch.Result, error)
}

// orderChangeHandler decodes a change and runs the fan-out. Creation is
// idempotent, so a retried message only fills in what failed before.
func orderChangeHandler(fan changeHandler, logger *slog.Logger) ingest.HandlerFunc {
	return func(ctx context.Context, m kafka.Message) error {
		var change models.OrderChange
		if err := json.Unmarshal(m.Value, &change); err != nil {
			logger.Warn("invalid order change message", "offset", m.Offset, "error", err)
			return ingest.ErrSkip
		}
		if !dispatch.ShouldDispatch(change) {
			return nil
		}
		if _, err := fan.HandleOrderChange(ctx, change); err != nil {
			return fmt.Errorf("fan-out for order %s: %w", change.After.ID, err)
		}
		return nil
	}
}
