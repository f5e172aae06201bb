package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sl "price_service/internal/lib/logger/sl"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrReject marks a message that can never succeed. It is acked and dropped instead of requeued.
var ErrReject = errors.New("message rejected")

type HandlerFunc func(ctx context.Context, body []byte) error

type Consumer struct {
	ch             *amqp.Channel
	log            *slog.Logger
	queueName      string
	workerPoolSize int
}

func NewConsumer(ch *amqp.Channel, log *slog.Logger, queueName string, poolSize int) *Consumer {
	if poolSize <= 0 {
		poolSize = 1
	}

	return &Consumer{
		ch:             ch,
		log:            log,
		queueName:      queueName,
		workerPoolSize: poolSize,
	}
}

func (c *Consumer) Consume(
	ctx context.Context,
	handler HandlerFunc,
) error {
	const op = "rabbitmq.Consume"

	if err := c.ch.Qos(
		c.workerPoolSize,
		0,
		false,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msgs, err := c.ch.Consume(
		c.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	go c.serve(ctx, msgs, handler)

	return nil
}

func (c *Consumer) serve(ctx context.Context, msgs <-chan amqp.Delivery, handler HandlerFunc) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.workerPoolSize)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case msg, ok := <-msgs:
			if !ok {
				wg.Wait()
				return
			}

			wg.Add(1)
			semaphore <- struct{}{}

			go func(m amqp.Delivery) {
				defer wg.Done()
				defer func() { <-semaphore }()

				c.handle(ctx, m, handler)
			}(msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m amqp.Delivery, handler HandlerFunc) {
	const op = "rabbitmq.handle"

	log := c.log.With(
		slog.String("op", op),
		slog.String("queue", c.queueName),
	)

	err := handler(ctx, m.Body)

	switch {
	case err == nil:
		if err := m.Ack(false); err != nil {
			log.Error("ack failed", sl.Err(err))
		}
	case errors.Is(err, ErrReject):
		log.Warn("dropping message", sl.Err(err))
		if err := m.Ack(false); err != nil {
			log.Error("ack failed", sl.Err(err))
		}
	default:
		log.Error("message handling failed, requeueing", sl.Err(err))
		if err := m.Nack(false, true); err != nil {
			log.Error("nack failed", sl.Err(err))
		}
	}
}
