package driver

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/nats-io/stan.go"
)

type NATSConfig struct {
	URL         string        `yaml:"url" default:"nats://localhost:4222"`
	ClusterID   string        `yaml:"cluster_id" default:"test-cluster"`
	ClientID    string        `yaml:"client_id" default:"singular"`
	QueueGroup  string        `yaml:"queue_group"`
	DurableName string        `yaml:"durable_name"`
	AckWait     time.Duration `yaml:"ack_wait" default:"30s"`
}

func natsPublisherConfig(cfg NATSConfig) nats.StreamingPublisherConfig {
	return nats.StreamingPublisherConfig{
		ClusterID: cfg.ClusterID,
		ClientID:  cfg.ClientID + "-pub",
		StanOptions: []stan.Option{
			stan.NatsURL(cfg.URL),
		},
		Marshaler: nats.GobMarshaler{},
	}
}

func natsSubscriberConfig(cfg NATSConfig) nats.StreamingSubscriberConfig {
	return nats.StreamingSubscriberConfig{
		ClusterID:        cfg.ClusterID,
		ClientID:         cfg.ClientID + "-sub",
		QueueGroup:       cfg.QueueGroup,
		DurableName:      cfg.DurableName,
		SubscribersCount: 1,
		CloseTimeout:     time.Minute,
		AckWaitTimeout:   cfg.AckWait,
		StanOptions: []stan.Option{
			stan.NatsURL(cfg.URL),
		},
		Unmarshaler: nats.GobMarshaler{},
	}
}

func NATSPublisherMaker(cfg NATSConfig, logger watermill.LoggerAdapter) PublisherMaker {
	return func() (Publisher, error) {
		return nats.NewStreamingPublisher(natsPublisherConfig(cfg), logger)
	}
}

func NATSSubscriberMaker(cfg NATSConfig, logger watermill.LoggerAdapter) SubscriberMaker {
	return func() (Subscriber, error) {
		return nats.NewStreamingSubscriber(natsSubscriberConfig(cfg), logger)
	}
}
