package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Upstream holds the connection and OAuth2 settings for one FHIR upstream.
// The MPI and the secondary MPI must each get their own Upstream value so
// their token state never mixes.
type Upstream struct {
	BaseURL      string
	AuthEnabled  bool
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

// Kafka holds broker and topic settings for the event channel.
type Kafka struct {
	Brokers []string
	// BundleTopic receives successfully persisted bundles with full patient
	// data restored.
	BundleTopic string
	// AsyncTopic receives inbound bundles awaiting pipeline execution.
	AsyncTopic string
	// DeadLetterTopic receives messages whose async pipeline run failed.
	DeadLetterTopic string
	// AuditTopic is the external feed of golden-id change notifications.
	AuditTopic    string
	ConsumerGroup string
}

// Redis holds the optional golden-link cache settings. An empty URL disables
// the cache and the resolver falls back to live expansion.
type Redis struct {
	URL     string
	LinkTTL time.Duration
}

// Config is the full mediator configuration, built once in main.
type Config struct {
	Addr        string
	MediatorURN string

	MPI          Upstream
	SecondaryMPI Upstream
	Datastore    Upstream

	Kafka Kafka
	Redis Redis
}

// FromEnv builds a Config from environment variables so main stays lean.
// Defaults target local development; production overrides everything.
func FromEnv() Config {
	return Config{
		Addr:        getEnv("MEDIATOR_ADDR", ":3000"),
		MediatorURN: getEnv("MEDIATOR_URN", "urn:mediator:mpi-mediator"),

		MPI:          upstreamFromEnv("MPI", "http://localhost:8000"),
		SecondaryMPI: upstreamFromEnv("SECONDARY_MPI", ""),
		Datastore:    upstreamFromEnv("DATASTORE", "http://localhost:3447"),

		Kafka: Kafka{
			Brokers:         strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			BundleTopic:     getEnv("KAFKA_BUNDLE_TOPIC", "2xx"),
			AsyncTopic:      getEnv("KAFKA_ASYNC_TOPIC", "async-intake"),
			DeadLetterTopic: getEnv("KAFKA_DEAD_LETTER_TOPIC", "errors"),
			AuditTopic:      getEnv("KAFKA_AUDIT_TOPIC", "patient-audit"),
			ConsumerGroup:   getEnv("KAFKA_CONSUMER_GROUP", "mpi-mediator"),
		},
		Redis: Redis{
			URL:     os.Getenv("REDIS_URL"),
			LinkTTL: getDuration("LINK_CACHE_TTL", 24*time.Hour),
		},
	}
}

func upstreamFromEnv(prefix, defaultBase string) Upstream {
	return Upstream{
		BaseURL:      getEnv(prefix+"_BASE_URL", defaultBase),
		AuthEnabled:  os.Getenv(prefix+"_AUTH_ENABLED") == "true",
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		Scope:        getEnv(prefix+"_SCOPE", "*"),
		Timeout:      getDuration(prefix+"_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
