package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"homework_bot/internal/errdefs"
	"homework_bot/pkg/logger"
	"homework_bot/pkg/retry"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.topic(),
	})
}

type Publisher interface {
	Run(ctx context.Context, submissionID int64) error
}

type WorkerConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Worker consumes publish jobs. Each job is retried with backoff and
// committed once it succeeded or failed for good; a job interrupted by
// shutdown stays uncommitted and is delivered again.
type Worker struct {
	reader    Reader
	publisher Publisher
	cfg       WorkerConfig
	logger    *logger.Logger
}

func NewWorker(reader Reader, publisher Publisher, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Worker{reader: reader, publisher: publisher, cfg: cfg, logger: log}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info(ctx, "Publish worker started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info(ctx, "Publish worker stopped")
				return
			}
			w.logger.Error(ctx, "Failed to fetch message", zap.Error(err))
			continue
		}

		if !w.process(ctx, msg) {
			return
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error(ctx, "Failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process reports false when the job was interrupted and must not be
// committed.
func (w *Worker) process(ctx context.Context, msg kafka.Message) bool {
	var job PublishJob
	if err := json.Unmarshal(msg.Value, &job); err != nil || job.SubmissionID == 0 {
		w.logger.Warn(ctx, "Dropping malformed publish job",
			zap.ByteString("value", msg.Value),
			zap.Int64("offset", msg.Offset),
		)
		return true
	}

	log := w.logger.With(zap.Int64("submission_id", job.SubmissionID))
	_, err := retry.RetryWithBackoff(ctx, w.cfg.MaxAttempts, w.cfg.BaseDelay, func() (struct{}, error) {
		err := w.publisher.Run(ctx, job.SubmissionID)
		if err != nil {
			log.Warn(ctx, "Publish attempt failed", zap.Error(err))
		}
		return struct{}{}, classify(err)
	})
	switch {
	case err == nil:
		log.Info(ctx, "Submission published")
	case ctx.Err() != nil:
		log.Info(ctx, "Publish interrupted")
		return false
	default:
		log.Error(ctx, "Giving up on submission", zap.Error(err))
	}
	return true
}

// classify marks failures that another attempt cannot fix.
func classify(err error) error {
	if errors.Is(err, errdefs.ErrContent) ||
		errors.Is(err, errdefs.ErrNotFound) ||
		errors.Is(err, errdefs.ErrValidation) {
		return retry.Permanent(err)
	}
	return err
}
