package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "errors", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, 30*time.Second, cfg.MPI.Timeout)
	assert.False(t, cfg.MPI.AuthEnabled)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("MPI_AUTH_ENABLED", "true")
	t.Setenv("MPI_CLIENT_ID", "mediator")
	t.Setenv("MPI_TIMEOUT", "5s")
	t.Setenv("LINK_CACHE_TTL", "90")

	cfg := FromEnv()

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.MPI.AuthEnabled)
	assert.Equal(t, "mediator", cfg.MPI.ClientID)
	assert.Equal(t, 5*time.Second, cfg.MPI.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Redis.LinkTTL, "bare integers are seconds")
}
