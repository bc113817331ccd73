package kafka_config

import "time"

const (
	DefaultKafkaBrokers = "localhost:9092"

	// The relay publishes one change at a time and only advances its
	// resume token once the broker has acknowledged, so writes stay
	// synchronous with all replicas.
	DefaultProducerMaxAttempts  = 5
	DefaultProducerBatchTimeout = 10 * time.Millisecond
	DefaultProducerRequireAcks  = -1
	DefaultProducerCompression  = "snappy"

	// Gateways only care about changes from the moment they start.
	DefaultConsumerStartOffset       = -1
	DefaultConsumerMinBytes          = 1
	DefaultConsumerMaxBytes          = 10 * 1024 * 1024 // 10MB
	DefaultConsumerMaxWait           = 250 * time.Millisecond
	DefaultConsumerHeartbeatInterval = 3 * time.Second
	DefaultConsumerSessionTimeout    = 10 * time.Second
	DefaultConsumerRebalanceTimeout  = 30 * time.Second
	DefaultConsumerMaxRetries        = 2
)
