package driver

import (
	"github.com/Shopify/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
)

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	ConsumerGroup string   `yaml:"consumer_group" default:"singular"`
}

func kafkaPublisherConfig(cfg KafkaConfig) kafka.PublisherConfig {
	publishConfig := kafka.DefaultSaramaSyncPublisherConfig()
	publishConfig.Producer.Return.Errors = true

	return kafka.PublisherConfig{
		Brokers:               cfg.Brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: publishConfig,
	}
}

func kafkaSubscriberConfig(cfg KafkaConfig) kafka.SubscriberConfig {
	subscribeConfig := kafka.DefaultSaramaSubscriberConfig()
	subscribeConfig.Consumer.Return.Errors = true
	subscribeConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	subscribeConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange

	return kafka.SubscriberConfig{
		Brokers:               cfg.Brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: subscribeConfig,
		ConsumerGroup:         cfg.ConsumerGroup,
	}
}

func KafkaPublisherMaker(cfg KafkaConfig, logger watermill.LoggerAdapter) PublisherMaker {
	return func() (Publisher, error) {
		return kafka.NewPublisher(kafkaPublisherConfig(cfg), logger)
	}
}

func KafkaSubscriberMaker(cfg KafkaConfig, logger watermill.LoggerAdapter) SubscriberMaker {
	return func() (Subscriber, error) {
		return kafka.NewSubscriber(kafkaSubscriberConfig(cfg), logger)
	}
}
