package kafka

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"

	mErrors "mpi-mediator/pkg/errors"
)

// Producer publishes records to the event channel.
type Producer struct {
	client *kgo.Client
}

// NewProducer connects a producer to the given brokers.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
	)
	if err != nil {
		return nil, mErrors.Wrap(err, mErrors.CodePublish, "connect kafka producer")
	}
	return &Producer{client: client}, nil
}

// Publish produces one record synchronously. Synchronous production keeps the
// pipeline's persist-then-publish ordering observable to the caller.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return mErrors.Wrap(err, mErrors.CodePublish, "produce to "+topic)
	}
	return nil
}

// Ping reports broker reachability.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
