package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/muebleria/internal/mykafka"
	"github.com/Skotchmaster/muebleria/internal/notify"
	"github.com/Skotchmaster/muebleria/internal/service"
	"github.com/Skotchmaster/muebleria/pkg/config"
	"github.com/Skotchmaster/muebleria/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.Load()
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatalf("missing required env KAFKA_BROKERS")
	}

	logger := logging.New(cfg.LogLevel).With("service", "notifier")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, logger)

	consumer := mykafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, service.TopicOrderEvents)
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka_close_error", "error", err)
		}
	}()

	h := &notify.Handler{Mailer: notify.LogMailer{}}
	logger.Info("notifier_started", "topic", service.TopicOrderEvents, "group", cfg.KafkaGroupID)
	if err := consumer.Run(ctx, h.Handle); err != nil {
		logger.Error("notifier_stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier_stopped")
}
