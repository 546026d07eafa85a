package kafka

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	mErrors "mpi-mediator/pkg/errors"
)

// Consumer polls the event channel and hands each record to a handler,
// strictly one at a time. The record's topic is paused for the duration of
// each handler call, so no later message on that topic is in flight while a
// pipeline run is still executing. Offsets are committed only after the
// handler returns nil; a failed handler leaves the offset uncommitted so the
// record is redelivered.
type Consumer struct {
	client  *kgo.Client
	handler TopicHandler
	logger  *slog.Logger
}

// NewConsumer joins the given group on the given topics.
func NewConsumer(brokers []string, group string, topics []string, handler TopicHandler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, mErrors.Wrap(err, mErrors.CodePublish, "connect kafka consumer")
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled or a handler fails. A handler failure
// ends the session with the failed record's offset uncommitted; committing
// any later record on the same partition would advance the group position
// past the failure and drop it, so the whole session stops and the next
// session redelivers from the last committed offset.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var records []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			records = append(records, rec)
		})

		for _, rec := range records {
			if err := c.consumeOne(ctx, rec); err != nil {
				c.logger.Error("message handling failed, stopping with offset uncommitted",
					"topic", rec.Topic,
					"partition", rec.Partition,
					"offset", rec.Offset,
					"error", err,
				)
				return err
			}
		}
	}
}

func (c *Consumer) consumeOne(ctx context.Context, rec *kgo.Record) error {
	c.client.PauseFetchTopics(rec.Topic)
	defer c.client.ResumeFetchTopics(rec.Topic)

	msg := &Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
	}
	if err := c.handler.Handle(ctx, msg); err != nil {
		return err
	}
	if err := c.client.CommitRecords(ctx, rec); err != nil {
		return mErrors.Wrap(err, mErrors.CodePublish, "commit offset")
	}
	return nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
