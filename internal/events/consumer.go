package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/config"
	"github.com/iliyamo/seat-admission/internal/logging"
)

// PaymentApplier applies a payment outcome to the reservation it refers to.
type PaymentApplier interface {
	ApplyPaymentResult(ctx context.Context, r PaymentResult) error
}

// PaymentConsumer reads payment results from a durable queue bound to the
// events exchange. It runs as a supervised service: Serve reconnects with
// exponential backoff until its context is canceled.
type PaymentConsumer struct {
	cfg      config.BrokerConfig
	applier  PaymentApplier
	validate *validator.Validate
	log      zerolog.Logger
}

func NewPaymentConsumer(cfg config.BrokerConfig, applier PaymentApplier) *PaymentConsumer {
	return &PaymentConsumer{
		cfg:      cfg,
		applier:  applier,
		validate: validator.New(),
		log:      logging.Component("payment-consumer"),
	}
}

func (c *PaymentConsumer) String() string { return "payment-consumer" }

// Serve implements suture.Service.
func (c *PaymentConsumer) Serve(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *PaymentConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("set QoS failed")
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare(c.cfg.PaymentResultsQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, c.cfg.PaymentResultsQueue, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		ack, requeue := c.Handle(ctx, d.Body)
		if ack {
			_ = d.Ack(false)
		} else {
			_ = d.Nack(false, requeue)
		}
	}
	return errors.New("deliveries channel closed")
}

// Handle processes one message body and decides its fate. Malformed
// messages and business refusals are dropped; only infrastructure
// failures are requeued, so a poison message cannot loop forever.
func (c *PaymentConsumer) Handle(ctx context.Context, body []byte) (ack, requeue bool) {
	var r PaymentResult
	if err := json.Unmarshal(body, &r); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed payment result")
		return false, false
	}
	if err := c.validate.Struct(r); err != nil {
		c.log.Warn().Err(err).Msg("dropping invalid payment result")
		return false, false
	}
	if err := c.applier.ApplyPaymentResult(ctx, r); err != nil {
		if apperror.IsKind(err, apperror.KindInfrastructure) {
			c.log.Warn().Err(err).Str("reference", r.Reference).Msg("payment result not applied, requeueing")
			return false, true
		}
		c.log.Info().Err(err).Str("reference", r.Reference).Msg("payment result refused")
		return true, false
	}
	return true, false
}
