package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/creasty/defaults"
	"github.com/hnhuaxi/singular"
	"github.com/hnhuaxi/singular/driver"
	"github.com/hnhuaxi/singular/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Message = message.Message

type (
	Subscriber = message.Subscriber
	Publisher  = message.Publisher
)

type Config struct {
	driver.Config `yaml:",inline"`

	Topic string `yaml:"topic" default:"singleton.lifecycle"`
	// PerType also publishes every event on Topic + "." + the type label.
	PerType bool `yaml:"per_type"`
}

// Events publishes singleton lifecycle events on a watermill pub/sub. It
// implements singular.Observer.
type Events struct {
	config     Config
	subscriber Subscriber
	publisher  Publisher
	log        *zap.SugaredLogger
}

// NewEvents opens the pub/sub named by config.Driver.
func NewEvents(config Config, logger *zap.Logger) (*Events, error) {
	if err := defaults.Set(&config); err != nil {
		return nil, err
	}

	publisher, subscriber, err := driver.Open(config.Config, singular.StdLogger(logger))
	if err != nil {
		return nil, err
	}

	events, err := NewEventsWith(config, publisher, subscriber, logger)
	if err != nil {
		return nil, multierr.Combine(err, publisher.Close(), subscriber.Close())
	}
	return events, nil
}

// NewEventsWith builds the bus over an existing publisher and subscriber.
func NewEventsWith(config Config, publisher Publisher, subscriber Subscriber, logger *zap.Logger) (*Events, error) {
	if err := defaults.Set(&config); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Events{
		config:     config,
		subscriber: subscriber,
		publisher:  publisher,
		log:        logger.Sugar(),
	}, nil
}

// Subscriber exposes the underlying subscriber for consumers such as a
// watermill router.
func (events *Events) Subscriber() Subscriber {
	return events.subscriber
}

func (events *Events) Topic() string {
	return events.config.Topic
}

func (events *Events) TypeTopic(typeName string) string {
	return events.config.Topic + "." + utils.Label(typeName)
}

// Observe publishes evt. Publish failures are logged, never returned to the
// coordinator.
func (events *Events) Observe(evt singular.Event) {
	if err := events.Publish(evt); err != nil {
		events.log.Warnw("publish lifecycle event", "type", evt.Type, "kind", evt.Kind, "error", err)
	}
}

func (events *Events) Publish(evt singular.Event) error {
	topics := []string{events.config.Topic}
	if events.config.PerType {
		topics = append(topics, events.TypeTopic(evt.Type))
	}

	var err error
	for _, topic := range topics {
		msg, merr := newMessage(evt)
		if merr != nil {
			return merr
		}
		err = multierr.Append(err, events.publisher.Publish(topic, msg))
	}
	return err
}

func newMessage(evt singular.Event) (*Message, error) {
	payload, err := singular.MarshalEvent(evt)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(evt.Kind))
	msg.Metadata.Set("type", evt.Type)
	return msg, nil
}

// Subscribe streams every lifecycle event. The channel closes when ctx is
// done or the underlying subscription ends.
func (events *Events) Subscribe(ctx context.Context) (<-chan singular.Event, error) {
	return events.subscribe(ctx, events.config.Topic)
}

// SubscribeType streams the events of one type; it requires PerType.
func (events *Events) SubscribeType(ctx context.Context, typeName string) (<-chan singular.Event, error) {
	return events.subscribe(ctx, events.TypeTopic(typeName))
}

func (events *Events) subscribe(ctx context.Context, topic string) (<-chan singular.Event, error) {
	messages, err := events.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan singular.Event)
	go func() {
		defer close(out)
		for msg := range messages {
			evt, err := singular.UnmarshalEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				events.log.Warnw("decode lifecycle event", "uuid", msg.UUID, "error", err)
				continue
			}

			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (events *Events) Close() error {
	err := events.publisher.Close()
	if any(events.subscriber) != any(events.publisher) {
		err = multierr.Append(err, events.subscriber.Close())
	}
	return err
}
