package main

import (
	"context"
	"os"

	"github.com/google/uuid"

	checkinHandler "herenow/internal/checkins/handler"
	checkinRepo "herenow/internal/checkins/repository"
	checkinService "herenow/internal/checkins/service"
	checkinValidator "herenow/internal/checkins/validator"
	"herenow/internal/realtime"
	requestHandler "herenow/internal/requests/handler"
	requestRepo "herenow/internal/requests/repository"
	requestService "herenow/internal/requests/service"
	requestValidator "herenow/internal/requests/validator"
	sessionHandler "herenow/internal/sessions/handler"
	sessionRepo "herenow/internal/sessions/repository"
	sessionService "herenow/internal/sessions/service"
	sessionValidator "herenow/internal/sessions/validator"
	"herenow/internal/sweeper"
	"herenow/pkg/app"
	"herenow/pkg/config"
	"herenow/pkg/identity"
	"herenow/pkg/kafka"
	kafkaMiddleware "herenow/pkg/kafka/middleware"
	"herenow/pkg/ratelimit"
)

const ServiceName = config.ServiceProximity

type services struct {
	checkins checkinService.CheckinService
	requests requestService.MessageRequestService
	sessions sessionService.MessageSessionService
}

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting Proximity service")

	limiter := ratelimit.New(cfg.Log.Component("ratelimit"), cfg.RateLimitSweepInterval, ratelimit.WithRules(cfg.RateLimits))
	svc := initServices(cfg, limiter)

	hub := realtime.NewHub(cfg.RealtimeSendBuffer, cfg.Log.Component("realtime-hub"))
	consumer := initRealtimeConsumer(cfg, hub)

	sweep := sweeper.New(cfg.SweepInterval, cfg.RequestTimeout, cfg.Log.Component("sweeper"),
		sweeper.Target{Name: "message_requests", Expirer: svc.requests},
		sweeper.Target{Name: "message_sessions", Expirer: svc.sessions},
	)

	provider := identity.ContextProvider{}
	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(identity.NewJWTVerifier(cfg.JWTSecret), hub.Len,
		checkinHandler.NewCheckinHandler(svc.checkins, provider, cfg.Log),
		requestHandler.NewMessageRequestHandler(svc.requests, provider, cfg.Log),
		sessionHandler.NewMessageSessionHandler(svc.sessions, provider, cfg.Log),
		realtime.NewGateway(hub, provider, cfg, cfg.Log.Component("realtime-gateway")),
	)

	serverApp.AddWorker(app.Worker{Name: "realtime-consumer", Run: consumer.Start})
	serverApp.AddWorker(app.Worker{Name: "sweeper", Run: func(ctx context.Context) error {
		sweep.Start()
		<-ctx.Done()
		sweep.Stop()
		return nil
	}})
	serverApp.OnShutdown(limiter.Stop)
	serverApp.OnShutdown(hub.CloseAll)
	serverApp.OnShutdown(func() {
		if err := consumer.Close(); err != nil {
			cfg.Log.Error("Failed to close realtime consumer", "error", err)
		}
	})

	serverApp.Run()
}

func initServices(cfg *config.Config, limiter ratelimit.Guard) services {
	checkins := checkinService.NewCheckinService(
		checkinRepo.NewMongoCheckinRepository(cfg),
		checkinValidator.NewCheckinValidator(cfg.Log, cfg.MaxTopicLength),
		limiter,
		cfg,
	)

	sessions := sessionService.NewMessageSessionService(
		sessionRepo.NewMongoMessageSessionRepository(cfg),
		sessionRepo.NewMongoMessageRepository(cfg),
		sessionValidator.NewMessageValidator(cfg.Log, cfg.MaxMessageLen),
		limiter,
		cfg,
	)

	requests := requestService.NewMessageRequestService(
		requestRepo.NewMongoMessageRequestRepository(cfg),
		requestValidator.NewMessageRequestValidator(cfg.Log),
		checkins,
		sessions,
		limiter,
		cfg,
	)

	cfg.Log.Info("Proximity services initialized", "database", cfg.MongoDatabaseName)
	return services{checkins: checkins, requests: requests, sessions: sessions}
}

// Every instance reads the whole feed, so the group id is unique per process.
func initRealtimeConsumer(cfg *config.Config, hub *realtime.Hub) *kafka.Consumer {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = uuid.NewString()
	}
	groupID := cfg.RealtimeGroupPrefix + "-" + instance

	log := cfg.Log.Component("realtime-consumer")
	consumer, err := kafka.NewConsumer(cfg.Kafka, kafka.ConsumerOptions{
		Topic:   cfg.ChangesTopic,
		GroupID: groupID,
	}, realtime.NewRouter(hub, log).Handle, log)
	if err != nil {
		cfg.Log.Fatal("Failed to create realtime consumer", "error", err)
	}
	consumer.Use(kafkaMiddleware.LoggingConsumerMiddleware(log))

	cfg.Log.Info("Realtime consumer initialized", "topic", cfg.ChangesTopic, "group_id", groupID)
	return consumer
}
