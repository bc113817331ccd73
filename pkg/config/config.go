package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"herenow/pkg/client"
	kafka_config "herenow/pkg/kafka/config"
	"herenow/pkg/logger"
	"herenow/pkg/ratelimit"
)

const (
	ServiceProximity = "proximity"
	ServiceRelay     = "relay"
	ServiceMigrate   = "migrate"
)

type Config struct {
	ServiceName string

	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	Port string

	JWTSecret          string
	CORSAllowedOrigins []string

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RelevanceWindow time.Duration
	RequestTTL      time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	MaxTopicLength  int
	MaxMessageLen   int

	RateLimits             map[ratelimit.Category]ratelimit.Rule
	RateLimitSweepInterval time.Duration

	Kafka               *kafka_config.Config
	ChangesTopic        string
	RealtimeGroupPrefix string
	RealtimePingPeriod  time.Duration
	RealtimeSendBuffer  int
	RealtimeFrameRate   int
	RelayCursorID       string

	Log    *logger.Logger
	Client *client.Client

	invalid []string
}

func Load(serviceName string) *Config {
	cfg := &Config{
		ServiceName: serviceName,

		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		Port: getEnvStr(EnvPort, DefaultPort),

		JWTSecret:          getEnvStr(EnvJWTSecret, ""),
		CORSAllowedOrigins: splitList(getEnvStr(EnvCORSAllowedOrigins, DefaultCORSAllowedOrigins)),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		RelevanceWindow: getEnvDuration(EnvRelevanceWindow, DefaultRelevanceWindow),
		RequestTTL:      getEnvDuration(EnvRequestTTL, DefaultRequestTTL),
		SessionTTL:      getEnvDuration(EnvSessionTTL, DefaultSessionTTL),
		SweepInterval:   getEnvDuration(EnvSweepInterval, DefaultSweepInterval),
		MaxTopicLength:  getEnvNum(EnvMaxTopicLength, DefaultMaxTopicLength),
		MaxMessageLen:   getEnvNum(EnvMaxMessageLen, DefaultMaxMessageLen),

		RateLimitSweepInterval: getEnvDuration(EnvRateLimitSweepInterval, DefaultRateLimitSweepInterval),

		ChangesTopic:        getEnvStr(EnvChangesTopic, DefaultChangesTopic),
		RealtimeGroupPrefix: getEnvStr(EnvRealtimeGroupPrefix, DefaultRealtimeGroupPrefix),
		RealtimePingPeriod:  getEnvDuration(EnvRealtimePingPeriod, DefaultRealtimePingPeriod),
		RealtimeSendBuffer:  getEnvNum(EnvRealtimeSendBuffer, DefaultRealtimeSendBuffer),
		RealtimeFrameRate:   getEnvNum(EnvRealtimeFrameRate, DefaultRealtimeFrameRate),
		RelayCursorID:       getEnvStr(EnvRelayCursorID, DefaultRelayCursorID),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	cfg.RateLimits = cfg.loadRateLimits()

	kafkaCfg, err := kafka_config.Load()
	if err != nil && serviceName != ServiceMigrate {
		cfg.invalid = append(cfg.invalid, err.Error())
	}
	cfg.Kafka = kafkaCfg

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) loadRateLimits() map[ratelimit.Category]ratelimit.Rule {
	sources := map[ratelimit.Category][2]string{
		ratelimit.CategoryCheckin:        {EnvRateLimitCheckin, DefaultRateLimitCheckin},
		ratelimit.CategoryMessageRequest: {EnvRateLimitMessageRequest, DefaultRateLimitMessageRequest},
		ratelimit.CategorySendMessage:    {EnvRateLimitSendMessage, DefaultRateLimitSendMessage},
		ratelimit.CategorySearch:         {EnvRateLimitSearch, DefaultRateLimitSearch},
		ratelimit.CategoryRespond:        {EnvRateLimitRespond, DefaultRateLimitRespond},
	}

	rules := make(map[ratelimit.Category]ratelimit.Rule, len(sources))
	for category, src := range sources {
		rule, err := ratelimit.ParseRule(getEnvStr(src[0], src[1]))
		if err != nil {
			cfg.invalid = append(cfg.invalid, fmt.Sprintf("%s: %s", src[0], err))
			continue
		}
		rules[category] = rule
	}
	return rules
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) Validate() error {
	errors := append([]string(nil), cfg.invalid...)

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errors = append(errors, "MongoURI cannot be empty")
	} else if len(cfg.MongoURI) < 10 || !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
	}

	if cfg.MongoDatabaseName == "" {
		errors = append(errors, "MongoDatabaseName cannot be empty")
	}

	// Only the API verifies bearer tokens; relay and migrate run without one.
	if cfg.ServiceName == ServiceProximity && len(cfg.JWTSecret) < 32 {
		errors = append(errors, "JWTSecret must be at least 32 characters")
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"MongoConnTimeout", cfg.MongoConnTimeout},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"RelevanceWindow", cfg.RelevanceWindow},
		{"RequestTTL", cfg.RequestTTL},
		{"SessionTTL", cfg.SessionTTL},
		{"SweepInterval", cfg.SweepInterval},
		{"RateLimitSweepInterval", cfg.RateLimitSweepInterval},
		{"RealtimePingPeriod", cfg.RealtimePingPeriod},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", p.name, p.value))
		}
	}

	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.MaxTopicLength <= 0 {
		errors = append(errors, fmt.Sprintf("MaxTopicLength must be positive, got: %d", cfg.MaxTopicLength))
	}
	if cfg.MaxMessageLen <= 0 {
		errors = append(errors, fmt.Sprintf("MaxMessageLen must be positive, got: %d", cfg.MaxMessageLen))
	}
	if cfg.RealtimeSendBuffer <= 0 {
		errors = append(errors, fmt.Sprintf("RealtimeSendBuffer must be positive, got: %d", cfg.RealtimeSendBuffer))
	}
	if cfg.RealtimeFrameRate <= 0 {
		errors = append(errors, fmt.Sprintf("RealtimeFrameRate must be positive, got: %d", cfg.RealtimeFrameRate))
	}

	if cfg.ChangesTopic == "" {
		errors = append(errors, "ChangesTopic cannot be empty")
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	limits := make(map[string]string, len(cfg.RateLimits))
	for category, rule := range cfg.RateLimits {
		limits[string(category)] = rule.String()
	}

	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"port", cfg.Port,
		"jwt_secret_set", cfg.JWTSecret != "",
		"cors_allowed_origins", cfg.CORSAllowedOrigins,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"relevance_window", cfg.RelevanceWindow,
		"request_ttl", cfg.RequestTTL,
		"session_ttl", cfg.SessionTTL,
		"sweep_interval", cfg.SweepInterval,
		"max_topic_length", cfg.MaxTopicLength,
		"max_message_length", cfg.MaxMessageLen,
		"rate_limits", limits,
		"rate_limit_sweep_interval", cfg.RateLimitSweepInterval,
		"changes_topic", cfg.ChangesTopic,
		"realtime_group_prefix", cfg.RealtimeGroupPrefix,
		"realtime_ping_period", cfg.RealtimePingPeriod,
		"realtime_send_buffer", cfg.RealtimeSendBuffer,
		"realtime_frame_rate", cfg.RealtimeFrameRate,
		"relay_cursor_id", cfg.RelayCursorID,
	)
	if cfg.ServiceName != ServiceMigrate {
		cfg.Kafka.LogConfiguration(cfg.Log)
	}
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown()
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = DefaultPaginationLimit
	} else if limit > MaxPaginationLimit {
		limit = MaxPaginationLimit
	}
	return limit
}
