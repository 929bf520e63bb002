package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если заданы брокеры.
// Пустой список брокеров даёт nil, nil: сервис работает без событий.
func initKafkaProducer(cfg KafkaConfig, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.Brokers, cfg.ClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает producer, если он есть.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
