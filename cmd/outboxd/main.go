// outboxd relays committed notification events to Kafka. It is the only
// process that talks to the broker; business transactions just append to
// the outbox table.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/merced/commerce-core/internal/config"
	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/outbox"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}
	defer db.Close()

	publisher := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.OutboxTopic)
	defer publisher.Close()

	poller := outbox.NewPoller(outbox.SQLEventSource{DB: db}, publisher, cfg.Kafka.PollInterval, cfg.Kafka.PollBatchSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"topic":    cfg.Kafka.OutboxTopic,
		"interval": cfg.Kafka.PollInterval,
	}).Info("outbox relay starting")

	poller.Run(ctx)
	log.Info("outbox relay stopped")
}
