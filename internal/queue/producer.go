package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

const TopicPublish = "submission-publish"

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (c Config) topic() string {
	if c.Topic == "" {
		return TopicPublish
	}
	return c.Topic
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishJob asks the worker to publish one submission.
type PublishJob struct {
	SubmissionID int64 `json:"submission_id"`
}

type Producer struct {
	writer Writer
}

// NewProducer writes to the publish topic. Messages are keyed by
// submission id, so jobs of one submission share a partition.
func NewProducer(cfg Config) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.topic(),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func NewProducerWithWriter(w Writer) *Producer {
	return &Producer{writer: w}
}

func (p *Producer) EnqueuePublish(ctx context.Context, submissionID int64) error {
	value, err := json.Marshal(PublishJob{SubmissionID: submissionID})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(submissionID, 10)),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
