package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvJWTSecret          = "JWT_SECRET"
	EnvCORSAllowedOrigins = "CORS_ALLOWED_ORIGINS"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvRelevanceWindow = "CHECKIN_RELEVANCE_WINDOW"
	EnvRequestTTL      = "MESSAGE_REQUEST_TTL"
	EnvSessionTTL      = "MESSAGE_SESSION_TTL"
	EnvSweepInterval   = "SWEEP_INTERVAL"
	EnvMaxTopicLength  = "MAX_TOPIC_LENGTH"
	EnvMaxMessageLen   = "MAX_MESSAGE_LENGTH"

	// Per-category limits use the "<count>/<duration>" form, e.g. "30/1m".
	EnvRateLimitCheckin        = "RATE_LIMIT_CHECKIN"
	EnvRateLimitMessageRequest = "RATE_LIMIT_MESSAGE_REQUEST"
	EnvRateLimitSendMessage    = "RATE_LIMIT_SEND_MESSAGE"
	EnvRateLimitSearch         = "RATE_LIMIT_SEARCH"
	EnvRateLimitRespond        = "RATE_LIMIT_RESPOND"
	EnvRateLimitSweepInterval  = "RATE_LIMIT_SWEEP_INTERVAL"

	EnvChangesTopic        = "CHANGES_TOPIC"
	EnvRealtimeGroupPrefix = "REALTIME_GROUP_PREFIX"
	EnvRealtimePingPeriod  = "REALTIME_PING_PERIOD"
	EnvRealtimeSendBuffer  = "REALTIME_SEND_BUFFER"
	EnvRealtimeFrameRate   = "REALTIME_INBOUND_FRAMES_PER_SEC"
	EnvRelayCursorID       = "RELAY_CURSOR_ID"
)
