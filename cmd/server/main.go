package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/delivery-dispatch/internal/app"
	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/events"
	httpapi "github.com/example/delivery-dispatch/internal/http"
	"github.com/example/delivery-dispatch/internal/inbox"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/location"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/outbox"
	"github.com/example/delivery-dispatch/internal/payments"
	"github.com/example/delivery-dispatch/internal/profiles"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	// Order changes are committed to the outbox with the order and the relay
	// publishes them: to the topic read by cmd/dispatcher when Kafka is
	// configured, otherwise to the in-process bus running the fan-out.
	var (
		publisher events.Publisher
		stream    location.Stream
	)
	if len(cfg.KafkaBrokers) > 0 {
		orders := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		defer orders.Close()
		locations := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		defer locations.Close()
		publisher = orders
		stream = locations
	} else {
		bus := events.NewBus(logger)
		bus.Subscribe(app.NewFanout(cfg, infra, logger).Handle)
		publisher = bus
	}
	relay := &outbox.Relay{
		Store:        infra.Store,
		Publisher:    publisher,
		Logger:       logger,
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
	}
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = relay.Run(relayCtx)
	}()

	led := &ledger.Service{
		Orders:   infra.Store,
		Profiles: infra.Store,
		Drivers:  infra.Store,
		Outbox:   relay,
		Currency: cfg.PaymentCurrency,
		Logger:   logger,
	}
	ib := &inbox.Inbox{
		Store:  infra.Store,
		Feed:   infra.Feed,
		Outbox: relay,
		TTL:    cfg.InboxRequestTTL,
		Logger: logger,
	}
	if cfg.StripeAPIKey != "" {
		stripe := payments.NewStripeClient(cfg.StripeAPIKey)
		led.Payments = stripe
		ib.Payments = stripe
	}

	handler := httpapi.NewServer(httpapi.Services{
		Ledger: led,
		Inbox:  ib,
		Location: &location.Service{
			Drivers:   infra.Store,
			Customers: infra.Store,
			Index:     infra.Geo,
			Stream:    stream,
			Logger:    logger,
		},
		Profiles: &profiles.Service{Store: infra.Store, Logger: logger},
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("delivery-dispatch listening", "addr", cfg.HTTPAddr, "policy", cfg.DispatchPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	stopRelay()
	<-relayDone
	// one last pass for changes committed by requests that just finished
	if _, err := relay.Flush(shutdownCtx); err != nil {
		logger.Warn("final outbox flush failed", "error", err)
	}
	return nil
}
