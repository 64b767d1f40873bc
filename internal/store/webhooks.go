package store

import (
	"context"
	"encoding/json"
	"fmt"

	"campusmarket/internal/db"
	"campusmarket/internal/models"

	"github.com/jackc/pgx/v5"
)

type WebhookEvent struct {
	Gateway   string
	Event     string
	Reference string
	Payload   json.RawMessage
}

// ApplyPaymentEvent records a gateway event and marks its order paid in one
// transaction. A redelivered event is a no-op reported as first=false.
func (s *Store) ApplyPaymentEvent(ctx context.Context, ev WebhookEvent, orderID string, meta map[string]any) (order *models.Order, first bool, err error) {
	err = db.WithTx(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		order, first = nil, false
		tag, err := tx.Exec(ctx, `
			INSERT INTO webhook_events (gateway, event, reference, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, ev.Gateway, ev.Event, ev.Reference, ev.Payload)
		if err != nil {
			return fmt.Errorf("record webhook: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		first = true
		order, _, err = markOrderPaid(ctx, tx, orderID, meta)
		return err
	})
	return order, first, err
}
