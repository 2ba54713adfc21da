// Package stream forwards resilience events to a message broker.
//
// A Sink publishes each event it receives as a JSON watermill message, so
// any watermill transport (Kafka, NATS, AMQP, the in-memory gochannel) can
// carry bulkhead and retry events to other services:
//
//	sink, err := stream.NewSink[bulkhead.Event](publisher, "resilience.bulkhead")
//	async := event.Async[bulkhead.Event]("stream", sink, 256, log)
//	defer async.Close()
//	stop := stream.FollowBulkheads(registry, async)
//	defer stop()
package stream

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/logger"
)

// Metadata keys set on every published message.
const (
	MetadataEventSchema = "event_schema"
	MetadataSource      = "source"
	MetadataContentType = "content_type"
)

const contentTypeJSON = "application/json"

var jsonConfig = sonic.ConfigStd

// Option configures a Sink.
type Option func(*options)

type options struct {
	source string
	log    *logger.Logger
	ctx    context.Context
}

// WithSource sets the source metadata of published messages.
func WithSource(source string) Option {
	return func(o *options) { o.source = source }
}

// WithLogger sets the logger publish failures are reported to.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithContext sets the context attached to published messages.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// Sink is an event consumer that publishes every event to a topic. It
// publishes on the caller's goroutine; wrap it in event.Async when the
// transport may block.
type Sink[E any] struct {
	publisher message.Publisher
	topic     string
	source    string
	ctx       context.Context
	log       *logger.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewSink creates a sink publishing to topic.
func NewSink[E any](publisher message.Publisher, topic string, opts ...Option) (*Sink[E], error) {
	if publisher == nil {
		return nil, errors.InvalidConfiguration("publisher", "publisher is required")
	}
	if topic == "" {
		return nil, errors.InvalidConfiguration("topic", "topic is required")
	}
	o := options{source: "bulwark"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Sink[E]{
		publisher: publisher,
		topic:     topic,
		source:    o.source,
		ctx:       o.ctx,
		log:       logger.OrGlobal(o.log, "stream"),
	}, nil
}

// NewMessage encodes e as a watermill message with a ULID id.
func NewMessage(e any, source string) (*message.Message, error) {
	payload, err := jsonConfig.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	msg := message.NewMessage(newID(), payload)
	msg.Metadata.Set(MetadataEventSchema, fmt.Sprintf("%T", e))
	msg.Metadata.Set(MetadataContentType, contentTypeJSON)
	if source != "" {
		msg.Metadata.Set(MetadataSource, source)
	}
	return msg, nil
}

// OnEvent implements event.Consumer. Failures are logged and counted.
func (s *Sink[E]) OnEvent(e E) {
	if err := s.Publish(e); err != nil {
		s.failed.Add(1)
		s.log.Warn("event not published", logger.Fields(
			"topic", s.topic,
			logger.FieldEvent, fmt.Sprintf("%T", e),
			logger.FieldError, err.Error(),
		))
	}
}

// Publish encodes e and publishes it, returning any encoding or transport error.
func (s *Sink[E]) Publish(e E) error {
	msg, err := NewMessage(e, s.source)
	if err != nil {
		return err
	}
	if s.ctx != nil {
		msg.SetContext(s.ctx)
	}
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.topic, err)
	}
	s.published.Add(1)
	return nil
}

// Topic returns the topic events are published to.
func (s *Sink[E]) Topic() string { return s.topic }

// Published returns how many events were published.
func (s *Sink[E]) Published() uint64 { return s.published.Load() }

// Failed returns how many events could not be published.
func (s *Sink[E]) Failed() uint64 { return s.failed.Load() }
