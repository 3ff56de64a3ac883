package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"sahelpay-go/internal/config"
	"sahelpay-go/internal/message"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 100
)

func NewWriter(cfg config.Kafka, topic string) *kafka.Writer {
	batchSize := cfg.Writer.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchTimeout := cfg.Writer.BatchTimeoutMs
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Broker.URL),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeout) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// PollRequestPublisher writes poll requests keyed by operation id, so that
// requests for one operation stay on one partition.
type PollRequestPublisher struct {
	writer messageWriter
}

func NewPollRequestPublisher(writer messageWriter) *PollRequestPublisher {
	return &PollRequestPublisher{writer: writer}
}

func (p *PollRequestPublisher) PublishPollRequest(ctx context.Context, req message.PollRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal poll request")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(req.OperationID),
		Value:   value,
		Headers: []kafka.Header{{Key: message.HeaderType, Value: []byte(message.TypePollRequest)}},
	})
	return errors.Wrapf(err, "publish poll request for %s", req.OperationID)
}
