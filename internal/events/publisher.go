package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/iliyamo/seat-admission/internal/config"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/metrics"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes events to a durable topic exchange. The connection
// is opened on first use and dropped after any publish error, so the next
// publish reconnects. A circuit breaker stops dialing a broker that keeps
// failing.
type Publisher struct {
	exchange string
	dial     func() (channel, func(), error)
	cb       *gobreaker.CircuitBreaker[struct{}]
	log      zerolog.Logger

	mu    sync.Mutex
	ch    channel
	close func()
}

// NewPublisher returns a publisher for cfg. Nothing is dialed until the
// first Observe.
func NewPublisher(cfg config.BrokerConfig) *Publisher {
	p := newPublisher(cfg.Exchange, func() (channel, func(), error) {
		return dialExchange(cfg.URL, cfg.Exchange)
	})
	return p
}

func newPublisher(exchange string, dial func() (channel, func(), error)) *Publisher {
	log := logging.Component("publisher")
	name := "amqp-publisher"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return &Publisher{
		exchange: exchange,
		dial:     dial,
		log:      log,
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func dialExchange(url, exchange string) (channel, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("exchange declare: %w", err)
	}
	return ch, func() { _ = conn.Close() }, nil
}

// Observe publishes e with its type as routing key.
func (p *Publisher) Observe(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Body:         body,
	}
	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.publish(ctx, string(e.Type), msg)
	})
	if err != nil {
		metrics.PublishFailures.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("publish %s: broker unavailable: %w", e.Type, err)
		}
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		ch, closeFn, err := p.dial()
		if err != nil {
			return err
		}
		p.ch, p.close = ch, closeFn
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		p.resetLocked()
		return err
	}
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.close != nil {
		p.close()
	}
	p.ch, p.close = nil, nil
}

// Close drops the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
}
