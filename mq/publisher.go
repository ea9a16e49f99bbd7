package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher emits domain events for downstream consumers.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
	Close() error
}

var ErrPublisherClosed = errors.New("publisher closed")

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
}

// session is one connection and its publishing channel.
type session struct {
	ch    amqpChannel
	close func() error
}

type dialFunc func(url, exchange string) (*session, error)

// AMQPPublisher publishes to a topic exchange. When the broker drops the
// connection the next publish redials, and a publish that fails on a closed
// channel is retried once on the new session.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     dialFunc
	logger   *zap.Logger

	mu     sync.Mutex
	sess   *session
	closed bool
}

// NewAMQPPublisher dials RabbitMQ and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, exchange, dialAMQP, logger)
}

func newAMQPPublisher(url, exchange string, dial dialFunc, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sess, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{url: url, exchange: exchange, dial: dial, logger: logger, sess: sess}, nil
}

func dialAMQP(url, exchange string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &session{ch: ch, close: func() error {
		_ = ch.Close()
		return conn.Close()
	}}, nil
}

func (p *AMQPPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", key, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         b,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := p.sessionLocked()
		if err != nil {
			return fmt.Errorf("publish %s event: %w", key, err)
		}
		err = sess.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, amqp.ErrClosed) && !sess.ch.IsClosed() {
			return fmt.Errorf("publish %s event: %w", key, err)
		}
		p.logger.Warn("RabbitMQ channel closed, reconnecting", zap.String("routingKey", key), zap.Error(err))
		p.dropLocked()
		lastErr = err
	}
	return fmt.Errorf("publish %s event: %w", key, lastErr)
}

// sessionLocked returns a live session, redialing when the current one is
// gone or its channel was closed by the broker.
func (p *AMQPPublisher) sessionLocked() (*session, error) {
	if p.sess != nil && !p.sess.ch.IsClosed() {
		return p.sess, nil
	}
	p.dropLocked()
	sess, err := p.dial(p.url, p.exchange)
	if err != nil {
		return nil, err
	}
	p.logger.Info("RabbitMQ publisher reconnected", zap.String("exchange", p.exchange))
	p.sess = sess
	return sess, nil
}

func (p *AMQPPublisher) dropLocked() {
	if p.sess == nil {
		return
	}
	if err := p.sess.close(); err != nil {
		p.logger.Debug("Closing stale RabbitMQ session", zap.Error(err))
	}
	p.sess = nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.sess == nil {
		return nil
	}
	err := p.sess.close()
	p.sess = nil
	return err
}

// LogPublisher stands in when no broker is configured; events are only logged.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) PublishJSON(_ context.Context, key string, v any) error {
	if p.Logger != nil {
		p.Logger.Debug("Domain event (no broker configured)", zap.String("routingKey", key), zap.Any("event", v))
	}
	return nil
}

func (LogPublisher) Close() error { return nil }
