package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"sahelpay-go/internal/config"
	"sahelpay-go/internal/db"
	"sahelpay-go/internal/logcontext"
	"sahelpay-go/internal/message"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`outbox_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`outbox_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_producer_duration_milliseconds`)

	// per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="rescheduled"}`)
)

type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetUnpublishedMessages(ctx context.Context, tx pgx.Tx, limit int) ([]*db.OutboxMessageEntity, error)
	Update(ctx context.Context, tx pgx.Tx, entity *db.OutboxMessageEntity) error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer moves committed outbox rows to Kafka. Rows are locked with SKIP
// LOCKED, so several instances can run side by side.
type Producer struct {
	repo               Repository
	writer             Writer
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo Repository, writer Writer, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(orDefault(cfg.PollingIntervalMs, defaultPollingIntervalMs)) * time.Millisecond,
		fetchSize:          orDefault(cfg.FetchSize, defaultFetchSize),
		retryDelay:         time.Duration(orDefault(cfg.RescheduleDelayMs, defaultRetryPublishDelayMs)) * time.Millisecond,
		maxPublishAttempts: orDefault(cfg.MaxPublishAttempts, defaultMaxPublishAttempts),
		logger:             logger,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping outbox producer")
				return
			}
		}
	}()
}

func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// runId correlates all logs of one batch
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}
	defer tx.Rollback(ctx)

	messages, err := p.repo.GetUnpublishedMessages(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished messages", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(messages) == 0 {
		p.logger.DebugContext(ctx, "No unpublished messages found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing messages to Kafka", "count", len(messages))
	err = p.writer.WriteMessages(ctx, toKafkaMessages(messages)...)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", err)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, m := range messages {
		messageCtx := logcontext.AppendCtx(ctx, slog.String("id", m.ID.String()))

		m.PublishAttempts++

		if err != nil {
			errMsg := err.Error()
			m.Error = &errMsg

			if m.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(messageCtx, "Max publish attempts reached", "operationId", m.OperationID)
				m.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(m.PublishAttempts) * p.retryDelay)
				m.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			m.ScheduledAt = nil
			m.PublishedAt = &now
			m.Error = nil

			producerMessagesPublishedCounter.Inc()
		}

		if updateErr := p.repo.Update(messageCtx, tx, m); updateErr != nil {
			p.logger.ErrorContext(messageCtx, "Error updating outbox message", "error", updateErr)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}

	producerSuccessCounter.Inc()
}

func toKafkaMessages(entities []*db.OutboxMessageEntity) []kafka.Message {
	kafkaMessages := make([]kafka.Message, 0, len(entities))
	for _, entity := range entities {
		kafkaMessages = append(kafkaMessages, kafka.Message{
			// keyed by operation id so that events of one operation keep their order
			Key:   []byte(entity.OperationID),
			Value: []byte(entity.Payload),
			Headers: []kafka.Header{
				{Key: message.HeaderType, Value: []byte(entity.Type)},
				{Key: "id", Value: []byte(entity.ID.String())},
			},
		})
	}
	return kafkaMessages
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
