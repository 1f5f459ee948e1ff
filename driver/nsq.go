package driver

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nsqio/go-nsq"
	"github.com/pkg/errors"
)

type NSQConfig struct {
	Addr    string `yaml:"addr" default:"localhost:4150"`
	Channel string `yaml:"channel" default:"singular"`
}

// envelope is the wire form of a watermill message on nsq, which has no
// metadata of its own.
type envelope struct {
	UUID     string
	Metadata map[string]string
	Payload  []byte
}

func marshalNSQ(msg *message.Message) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(envelope{
		UUID:     msg.UUID,
		Metadata: msg.Metadata,
		Payload:  msg.Payload,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode nsq envelope")
	}
	return buf.Bytes(), nil
}

func unmarshalNSQ(b []byte) (*message.Message, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decode nsq envelope")
	}

	msg := message.NewMessage(env.UUID, env.Payload)
	for k, v := range env.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}

type NSQPublisher struct {
	producer *nsq.Producer
	logger   watermill.LoggerAdapter
}

func NSQPublisherMaker(cfg NSQConfig, logger watermill.LoggerAdapter) PublisherMaker {
	return func() (Publisher, error) {
		producer, err := nsq.NewProducer(cfg.Addr, nsq.NewConfig())
		if err != nil {
			return nil, err
		}

		return &NSQPublisher{
			producer: producer,
			logger:   logger,
		}, nil
	}
}

func (pub *NSQPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		pub.logger.Trace("Publishing message", watermill.LogFields{
			"message_uuid": msg.UUID,
			"topic_name":   topic,
		})

		b, err := marshalNSQ(msg)
		if err != nil {
			return err
		}

		if err := pub.producer.Publish(topic, b); err != nil {
			return errors.Wrap(err, "sending message failed")
		}
	}

	return nil
}

func (pub *NSQPublisher) Close() error {
	pub.producer.Stop()
	return nil
}

type NSQSubscriber struct {
	cfg    NSQConfig
	logger watermill.LoggerAdapter

	doneCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NSQSubscriberMaker(cfg NSQConfig, logger watermill.LoggerAdapter) SubscriberMaker {
	return func() (Subscriber, error) {
		doneCtx, cancel := context.WithCancel(context.Background())
		return &NSQSubscriber{
			cfg:     cfg,
			logger:  logger,
			doneCtx: doneCtx,
			cancel:  cancel,
		}, nil
	}
}

// nsqHandler hands every nsq message to the output channel and finishes it
// only after the watermill message was acked or nacked.
type nsqHandler struct {
	ctx    context.Context
	out    chan *message.Message
	logger watermill.LoggerAdapter
}

func (h *nsqHandler) HandleMessage(m *nsq.Message) error {
	msg, err := unmarshalNSQ(m.Body)
	if err != nil {
		h.logger.Error("unmarshal nsq message to message.Message error", err, watermill.LogFields{})
		return nil
	}

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	msg.SetContext(ctx)

	select {
	case h.out <- msg:
	case <-h.ctx.Done():
		return h.ctx.Err()
	}

	select {
	case <-msg.Acked():
		return nil
	case <-msg.Nacked():
		return errors.Errorf("message %s nacked", msg.UUID)
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// Subscribe consumes topic on the configured channel. The output channel is
// closed when ctx is done or the subscriber is closed.
func (sub *NSQSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	consumer, err := nsq.NewConsumer(topic, sub.cfg.Channel, nsq.NewConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	handler := &nsqHandler{
		ctx:    ctx,
		out:    make(chan *message.Message),
		logger: sub.logger,
	}
	consumer.AddHandler(handler)

	if err := consumer.ConnectToNSQD(sub.cfg.Addr); err != nil {
		cancel()
		return nil, err
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()

		select {
		case <-ctx.Done():
			sub.logger.Trace("on nsq subscriber close", watermill.LogFields{"topic": topic})
		case <-sub.doneCtx.Done():
			sub.logger.Trace("on nsq subscriber all close", watermill.LogFields{"topic": topic})
			cancel()
		}

		consumer.Stop()
		<-consumer.StopChan
		close(handler.out)
	}()

	return handler.out, nil
}

func (sub *NSQSubscriber) Close() error {
	sub.cancel()
	sub.wg.Wait()
	return nil
}
