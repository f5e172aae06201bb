// Package refreshqueue turns refresh requests from the message queue into forced refresh passes.
package refreshqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"price_service/internal/models"
	"price_service/internal/rabbitmq"
	"price_service/internal/refresh"
	"price_service/internal/storage"
)

type Trigger interface {
	TriggerUpdate(ctx context.Context, productID *int64) ([]models.RefreshOutcome, error)
}

type Consumer interface {
	Consume(ctx context.Context, handler rabbitmq.HandlerFunc) error
}

type Listener struct {
	log     *slog.Logger
	trigger Trigger
}

func New(log *slog.Logger, t Trigger) *Listener {
	return &Listener{
		log:     log,
		trigger: t,
	}
}

func (l *Listener) Run(ctx context.Context, consumer Consumer) error {
	return consumer.Consume(ctx, l.handleMessage)
}

func (l *Listener) handleMessage(ctx context.Context, body []byte) error {
	const op = "refreshqueue.handleMessage"

	var req models.RefreshRequest

	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%s: invalid message format: %w: %w", op, rabbitmq.ErrReject, err)
	}

	outcomes, err := l.trigger.TriggerUpdate(ctx, req.ProductID)
	if err != nil {
		// A pass held by another replica already covers the request.
		if errors.Is(err, refresh.ErrCapabilityDisabled) ||
			errors.Is(err, refresh.ErrPassInProgress) ||
			errors.Is(err, storage.ErrProductNotFound) {
			return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrReject, err)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	updated := 0
	for _, o := range outcomes {
		if o.Updated {
			updated++
		}
	}

	l.log.Info("queued refresh finished",
		slog.String("op", op),
		slog.Int("records", len(outcomes)),
		slog.Int("updated", updated),
	)

	return nil
}
