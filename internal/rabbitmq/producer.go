package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"price_service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Producer struct {
	ch        publisher
	queueName string
}

func NewProducer(ch *amqp.Channel, queueName string) *Producer {
	return &Producer{
		ch:        ch,
		queueName: queueName,
	}
}

func (p *Producer) PublishJSON(
	ctx context.Context,
	msg any,
) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func (p *Producer) PublishPriceChanged(ctx context.Context, event models.PriceChangedEvent) error {
	const op = "rabbitmq.PublishPriceChanged"

	if err := p.PublishJSON(ctx, event); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
