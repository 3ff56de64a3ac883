package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sahelpay-go/internal/config"
	"sahelpay-go/internal/db"
	"sahelpay-go/internal/event"
	"sahelpay-go/internal/kafka"
	"sahelpay-go/internal/lock"
	"sahelpay-go/internal/logging"
	"sahelpay-go/internal/metrics"
	"sahelpay-go/internal/outbox"
	"sahelpay-go/internal/poll"
	"sahelpay-go/internal/server"
	"sahelpay-go/pkg/gateway"
)

func main() {
	cfg := config.MustLoadConfig(config.GetEnv("SAHELPAY_CONFIG_PATH", "."))

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := db.ConnString(cfg.Database)
	if err := db.RunMigrations(connStr, cfg.Database.Migrations); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(ctx, connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	operationRepo := db.NewOperationRepository(dbpool)
	outboxRepo := db.NewOutboxRepository(dbpool)

	processor := event.NewProcessor(operationRepo, logger)

	eventWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.OperationEvents)
	defer eventWriter.Close()

	outbox.NewProducer(outboxRepo, eventWriter, cfg.Outbox, logger).Start(ctx)

	pollWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.PollRequests)
	defer pollWriter.Close()

	gatewayClient, err := gateway.New(cfg.Gateway.SecretKey, gatewayOptions(cfg.Gateway, logger)...)
	if err != nil {
		log.Fatal(err)
	}

	redisClient := lock.NewClient(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal(err)
	}

	worker := poll.NewWorker(gatewayClient, processor, lock.NewRedisLocker(redisClient), cfg.Poller, logger)

	pollReader := kafka.NewReader(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.PollRequests, cfg.Kafka.Reader.GroupID)
	defer pollReader.Close()

	go kafka.ReadPollRequests(ctx, pollReader, worker, logger)

	srv := server.New(processor, kafka.NewPollRequestPublisher(pollWriter), operationRepo, cfg.Webhook, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Routes(metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP server", "error", err)
		}
	}()

	logger.Info("Starting HTTP server", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}

	worker.Wait()
	logger.Info("Stopped")
}

func gatewayOptions(cfg config.Gateway, logger *slog.Logger) []gateway.Option {
	opts := []gateway.Option{
		gateway.WithEnvironment(gateway.Environment(cfg.Environment)),
		gateway.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gateway.WithBaseURL(cfg.BaseURL))
	}
	if cfg.AppName != "" {
		opts = append(opts, gateway.WithAppName(cfg.AppName))
	}
	if cfg.TimeoutMs > 0 {
		opts = append(opts, gateway.WithTimeout(time.Duration(cfg.TimeoutMs)*time.Millisecond))
	}
	if cfg.PayoutMinAmount > 0 && cfg.PayoutMaxAmount > 0 {
		opts = append(opts, gateway.WithPayoutLimits(cfg.PayoutMinAmount, cfg.PayoutMaxAmount))
	}
	return opts
}
