package pipeline

import (
	"context"
	"log/slog"
	"time"

	"mpi-mediator/internal/platform/kafka"
	mErrors "mpi-mediator/pkg/errors"
)

const (
	deadLetterAttempts = 3
	deadLetterBackoff  = 500 * time.Millisecond
)

// AsyncHandler is the queue-side entry point of the pipeline: each message on
// the intake topic carries one raw bundle. Failed runs route the original
// payload to the dead-letter topic; only an unroutable failure leaves the
// offset uncommitted for redelivery.
type AsyncHandler struct {
	pipeline        *Service
	producer        Publisher
	deadLetterTopic string
	logger          *slog.Logger
	backoff         time.Duration
}

// NewAsyncHandler builds the intake topic handler.
func NewAsyncHandler(pipeline *Service, producer Publisher, deadLetterTopic string, logger *slog.Logger) *AsyncHandler {
	return &AsyncHandler{
		pipeline:        pipeline,
		producer:        producer,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
		backoff:         deadLetterBackoff,
	}
}

// Handle implements kafka.TopicHandler.
func (h *AsyncHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	result := h.pipeline.Run(ctx, msg.Value, "async")
	if !result.Failed() {
		return nil
	}

	h.logger.WarnContext(ctx, "async bundle failed, routing to dead letter",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"http_status", result.HTTPStatus,
	)

	// The original payload is forwarded verbatim so an operator can replay
	// it unchanged once the cause is fixed. Delivery is at-least-once: when
	// every attempt fails the offset stays uncommitted and the message is
	// reprocessed, which may dead-letter it twice but never drops it.
	var err error
	for attempt := 1; attempt <= deadLetterAttempts; attempt++ {
		err = h.producer.Publish(ctx, h.deadLetterTopic, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		h.logger.ErrorContext(ctx, "dead letter publish failed",
			"attempt", attempt,
			"error", err,
		)
		if attempt < deadLetterAttempts {
			select {
			case <-time.After(h.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return mErrors.Wrap(err, mErrors.CodePublish, "route failed bundle to dead letter")
}
