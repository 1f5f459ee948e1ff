package driver

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/hnhuaxi/singular"
)

type (
	Publisher  = message.Publisher
	Subscriber = message.Subscriber

	PublisherMaker  func() (Publisher, error)
	SubscriberMaker func() (Subscriber, error)
)

const (
	GoChannel = "gochannel"
	Kafka     = "kafka"
	AMQP      = "amqp"
	NATS      = "nats"
	NSQ       = "nsq"
)

// Config selects the pub/sub backend by name and carries the settings of
// every backend; only the selected one is read.
type Config struct {
	Driver    string          `yaml:"driver" default:"gochannel"`
	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	NATS      NATSConfig      `yaml:"nats"`
	NSQ       NSQConfig       `yaml:"nsq"`
}

type GoChannelConfig struct {
	OutputBuffer int64 `yaml:"output_buffer" default:"64"`
	// NoBlock lets Publish return before every subscriber acked.
	NoBlock bool `yaml:"no_block"`
}

// Makers returns the publisher and subscriber constructors of the driver
// named by cfg.Driver.
func Makers(cfg Config, logger watermill.LoggerAdapter) (PublisherMaker, SubscriberMaker, error) {
	switch cfg.Driver {
	case GoChannel, "":
		pm, sm := GoChannelMakers(cfg.GoChannel, logger)
		return pm, sm, nil
	case Kafka:
		return KafkaPublisherMaker(cfg.Kafka, logger), KafkaSubscriberMaker(cfg.Kafka, logger), nil
	case AMQP:
		return AMQPPublisherMaker(cfg.AMQP, logger), AMQPSubscriberMaker(cfg.AMQP, logger), nil
	case NATS:
		return NATSPublisherMaker(cfg.NATS, logger), NATSSubscriberMaker(cfg.NATS, logger), nil
	case NSQ:
		return NSQPublisherMaker(cfg.NSQ, logger), NSQSubscriberMaker(cfg.NSQ, logger), nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", singular.ErrInvalidDriverType, cfg.Driver)
	}
}

// Open builds a publisher and a subscriber for cfg. For the gochannel driver
// both are the same in-process pub/sub.
func Open(cfg Config, logger watermill.LoggerAdapter) (Publisher, Subscriber, error) {
	pm, sm, err := Makers(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	pub, err := pm()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s publisher: %w", cfg.Driver, err)
	}

	sub, err := sm()
	if err != nil {
		pub.Close()
		return nil, nil, fmt.Errorf("open %s subscriber: %w", cfg.Driver, err)
	}

	return pub, sub, nil
}

func GoChannelMakers(cfg GoChannelConfig, logger watermill.LoggerAdapter) (PublisherMaker, SubscriberMaker) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.OutputBuffer,
			BlockPublishUntilSubscriberAck: !cfg.NoBlock,
		},
		logger,
	)

	return func() (Publisher, error) {
			return pubSub, nil
		}, func() (Subscriber, error) {
			return pubSub, nil
		}
}
