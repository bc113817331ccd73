package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017/?replicaSet=rs0"
	DefaultMongoDatabaseName = "herenow"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultCORSAllowedOrigins = "*"

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 64 * 1024 // 64KB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultRelevanceWindow = 2 * time.Hour
	DefaultRequestTTL      = 2 * time.Hour
	DefaultSessionTTL      = 1 * time.Hour
	DefaultSweepInterval   = 1 * time.Minute
	DefaultMaxTopicLength  = 100
	DefaultMaxMessageLen   = 500

	DefaultPaginationLimit = 50
	MaxPaginationLimit     = 200

	DefaultRateLimitCheckin        = "10/1m"
	DefaultRateLimitMessageRequest = "10/1m"
	DefaultRateLimitSendMessage    = "30/1m"
	DefaultRateLimitSearch         = "60/1m"
	DefaultRateLimitRespond        = "30/1m"
	DefaultRateLimitSweepInterval  = 5 * time.Minute

	DefaultChangesTopic        = "proximity-changes"
	DefaultRealtimeGroupPrefix = "realtime-gateway"
	DefaultRealtimePingPeriod  = 25 * time.Second
	DefaultRealtimeSendBuffer  = 64
	DefaultRealtimeFrameRate   = 5
	DefaultRelayCursorID       = "proximity-relay"
)
