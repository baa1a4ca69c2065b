package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rferrao/tradepost/internal/messaging"
	"github.com/rferrao/tradepost/internal/telemetry"
	"github.com/rferrao/tradepost/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tel, err := telemetry.Setup(context.Background(), "delivery-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	marketplaceURL := os.Getenv("MARKETPLACE_URL")
	if marketplaceURL == "" {
		logger.Error("MARKETPLACE_URL environment variable is required")
		os.Exit(1)
	}

	internalToken := os.Getenv("INTERNAL_TOKEN")
	if internalToken == "" {
		logger.Error("INTERNAL_TOKEN environment variable is required")
		os.Exit(1)
	}

	confirmAfter := 72 * time.Hour
	if v := os.Getenv("CONFIRM_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("invalid CONFIRM_AFTER", "error", err, "value", v)
			os.Exit(1)
		}
		confirmAfter = d
	}

	brokers := strings.Split(kafkaBrokers, ",")
	consumer := messaging.NewConsumer(brokers, messaging.TopicOrderStatusChanged, "delivery-confirmation")
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	confirmer := worker.NewDeliveryConfirmer(marketplaceURL, internalToken, confirmAfter, httpClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting delivery confirmation worker", "brokers", brokers, "confirm_after", confirmAfter)

	if err := consumer.Consume(ctx, confirmer.Handle); err != nil {
		if ctx.Err() == context.Canceled {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
