package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"herenow/internal/changefeed"
	"herenow/pkg/config"
	"herenow/pkg/kafka"
	kafkaMiddleware "herenow/pkg/kafka/middleware"
)

const ServiceName = config.ServiceRelay

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	log := cfg.Log.Component("relay")
	log.Info("Starting change feed relay", "topic", cfg.ChangesTopic, "cursor_id", cfg.RelayCursorID)

	producer, err := kafka.NewProducer(cfg.Kafka, cfg.ChangesTopic, log)
	if err != nil {
		log.Fatal("Failed to create producer", "error", err)
	}
	producer.Use(kafkaMiddleware.LoggingProducerMiddleware(log))
	defer func() {
		if err := producer.Close(); err != nil {
			log.Error("Failed to close producer", "error", err)
		}
	}()

	relay := changefeed.NewRelay(
		changefeed.MongoStreamOpener(cfg.Client.Mongo.Database(cfg.MongoDatabaseName)),
		producer,
		changefeed.NewMongoCursorStore(cfg),
		cfg.RelayCursorID,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		log.Error("Relay failed", "error", err)
	}
	log.Info("Relay stopped")
}
