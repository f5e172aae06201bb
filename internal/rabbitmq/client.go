package rabbitmq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQClient struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

// New dials the broker, opens one channel and declares every queue in queues as durable.
func New(url string, queues ...string) (*RabbitMQClient, error) {
	const op = "rabbitmq.New"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: channel: %w", op, err)
	}

	c := &RabbitMQClient{
		conn:    conn,
		Channel: ch,
	}

	for _, q := range queues {
		if err := c.DeclareQueue(q); err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return c, nil
}

func (c *RabbitMQClient) DeclareQueue(name string) error {
	if name == "" {
		return errors.New("rabbitmq: empty queue name")
	}

	if _, err := c.Channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}

	return nil
}

func (c *RabbitMQClient) Close() error {
	return errors.Join(c.Channel.Close(), c.conn.Close())
}
