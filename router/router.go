package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/hnhuaxi/singular"
	"go.uber.org/zap"
)

// EventHandler reacts to one lifecycle event. A returned error is logged; the
// message is still acknowledged.
type EventHandler func(ctx context.Context, evt singular.Event) error

type Subscriber = message.Subscriber

// Router dispatches lifecycle events read from a topic to handlers registered
// per event kind.
type Router struct {
	Topic string

	log        *zap.SugaredLogger
	router     *message.Router
	subscriber Subscriber

	listens  map[singular.EventKind]*HandlerStruct
	listenMu sync.RWMutex
	added    bool
}

type HandlerStruct struct {
	Kind     singular.EventKind
	Handlers []EventHandler
	mu       sync.RWMutex
}

func New(config message.RouterConfig, topic string, subscriber Subscriber, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router, err := message.NewRouter(config, singular.StdLogger(logger))
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.Recoverer)

	return &Router{
		Topic:      topic,
		router:     router,
		subscriber: subscriber,
		listens:    make(map[singular.EventKind]*HandlerStruct),
		log:        logger.Sugar(),
	}, nil
}

// Run blocks until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	r.listenMu.Lock()
	if !r.added {
		r.router.AddNoPublisherHandler(
			fmt.Sprintf("%s.dispatch", r.Topic),
			r.Topic,
			r.subscriber,
			r.processMessage,
		)
		r.added = true
	}
	r.listenMu.Unlock()

	return r.router.Run(ctx)
}

// Running is closed once the router subscribed and started handling.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}

// On registers handler for events of kind. Handlers added after Run still
// receive later events.
func (r *Router) On(kind singular.EventKind, handler EventHandler) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()

	handles, ok := r.listens[kind]
	if !ok {
		handles = &HandlerStruct{
			Kind: kind,
		}
	}

	handles.AddHandler(handler)
	r.listens[kind] = handles
}

func (r *Router) processMessage(msg *message.Message) error {
	evt, err := singular.UnmarshalEvent(msg.Payload)
	if err != nil {
		r.log.Warnw("drop undecodable lifecycle event", "uuid", msg.UUID, "error", err)
		return nil
	}

	r.listenMu.RLock()
	handleStruct, ok := r.listens[evt.Kind]
	r.listenMu.RUnlock()
	if !ok {
		r.log.Debugw("no handler for lifecycle event", "kind", evt.Kind, "type", evt.Type)
		return nil
	}

	if err := handleStruct.Do(msg.Context(), evt); err != nil {
		r.log.Warnw("lifecycle event handler", "kind", evt.Kind, "type", evt.Type, "error", err)
	}
	return nil
}

func (handler *HandlerStruct) AddHandler(h EventHandler) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	handler.Handlers = append(handler.Handlers, h)
}

// Do runs every handler in registration order and stops at the first error.
func (handler *HandlerStruct) Do(ctx context.Context, evt singular.Event) error {
	handler.mu.RLock()
	defer handler.mu.RUnlock()

	for _, h := range handler.Handlers {
		if err := call(ctx, h, evt); err != nil {
			return err
		}
	}

	return nil
}

func call(ctx context.Context, h EventHandler, evt singular.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, evt)
}
