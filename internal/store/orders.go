package store

import (
	"context"
	"fmt"
	"time"

	"campusmarket/internal/db"
	"campusmarket/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `
	id, offer_id, request_id, buyer_id, seller_id, product_id, amount, qty,
	status, is_paid, paid_at, payment_gateway, payment_ref,
	COALESCE(payment_meta, '{}'::jsonb), delivered_at, payout_status, payout_ref,
	version, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.OfferID,
		&o.RequestID,
		&o.BuyerID,
		&o.SellerID,
		&o.ProductID,
		&o.Amount,
		&o.Qty,
		&o.Status,
		&o.IsPaid,
		&o.PaidAt,
		&o.PaymentGateway,
		&o.PaymentRef,
		&o.PaymentMeta,
		&o.DeliveredAt,
		&o.PayoutStatus,
		&o.PayoutRef,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// insertOrder is idempotent per offer: a second insert for the same offer
// returns the order that already exists.
func insertOrder(ctx context.Context, q querier, o *models.Order) (*models.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO orders (
			id, offer_id, request_id, buyer_id, seller_id, product_id, amount, qty,
			status, is_paid, payment_gateway, payout_status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (offer_id) DO NOTHING
	`,
		o.ID,
		o.OfferID,
		o.RequestID,
		o.BuyerID,
		o.SellerID,
		o.ProductID,
		o.Amount,
		o.Qty,
		string(o.Status),
		o.IsPaid,
		o.PaymentGateway,
		string(o.PayoutStatus),
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return scanOrder(q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE offer_id=$1", o.OfferID))
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id=$1", id))
}

func (s *Store) GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE payment_ref=$1", ref))
}

func (s *Store) GetOrderByOffer(ctx context.Context, offerID string) (*models.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE offer_id=$1", offerID))
}

type OrderFilter struct {
	UserID string
	// Role narrows the match to "buyer" or "seller"; empty matches either.
	Role   string
	Status models.OrderStatus
	Page   Page
}

func (s *Store) ListOrdersForUser(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	w := &where{}
	switch f.Role {
	case "buyer":
		w.add("buyer_id = " + w.arg(f.UserID))
	case "seller":
		w.add("seller_id = " + w.arg(f.UserID))
	default:
		p := w.arg(f.UserID)
		w.add("(buyer_id = " + p + " OR seller_id = " + p + ")")
	}
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	page := f.Page.normalized()

	var total int64
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders"+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.Pool.Query(ctx, "SELECT "+orderColumns+" FROM orders"+w.sql()+
		" ORDER BY created_at DESC, id DESC LIMIT "+w.arg(page.Limit)+" OFFSET "+w.arg(page.Offset()), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	items := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		items = append(items, *o)
	}
	return items, total, rows.Err()
}

// UpdateOrderStatus sets status conditionally on version. markPaid also
// flips is_paid and stamps paid_at if the order was unpaid.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, version int, status models.OrderStatus, markPaid bool) (*models.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, `
		UPDATE orders SET
			status=$3,
			is_paid = is_paid OR $4,
			paid_at = CASE WHEN $4 AND NOT is_paid THEN now() ELSE paid_at END,
			delivered_at = CASE WHEN $3 = 'delivered' THEN COALESCE(delivered_at, now()) ELSE delivered_at END,
			version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2
		RETURNING `+orderColumns, id, version, string(status), markPaid))
	if err == ErrNotFound {
		return nil, ErrConflict
	}
	return o, err
}

func (s *Store) SetPaymentRef(ctx context.Context, id, ref string, meta map[string]any) (*models.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, `
		UPDATE orders SET
			payment_ref=$2,
			payment_meta = COALESCE(payment_meta, '{}'::jsonb) || $3::jsonb,
			version=version+1, updated_at=now()
		WHERE id=$1 AND NOT is_paid
		RETURNING `+orderColumns, id, ref, meta))
	if err == ErrNotFound {
		return nil, models.ErrOrderAlreadyPaid
	}
	return o, err
}

// MarkOrderPaid flips an unpaid order to paid. The bool reports whether this
// call made the change; an already-paid order is returned unchanged.
func (s *Store) MarkOrderPaid(ctx context.Context, id string, meta map[string]any) (*models.Order, bool, error) {
	return markOrderPaid(ctx, s.Pool, id, meta)
}

func markOrderPaid(ctx context.Context, q querier, id string, meta map[string]any) (*models.Order, bool, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	o, err := scanOrder(q.QueryRow(ctx, `
		UPDATE orders SET
			is_paid=true, paid_at=now(), status='paid',
			payment_meta = COALESCE(payment_meta, '{}'::jsonb) || $2::jsonb,
			version=version+1, updated_at=now()
		WHERE id=$1 AND NOT is_paid
		RETURNING `+orderColumns, id, meta))
	if err == ErrNotFound {
		o, err = scanOrder(q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id=$1", id))
		return o, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// ConfirmDelivery marks a paid order delivered and queues its payout in the
// same transaction.
func (s *Store) ConfirmDelivery(ctx context.Context, id string, payoutAt time.Time) (*models.Order, error) {
	var out *models.Order
	err := db.WithRetry(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id=$1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		if err := o.CanConfirmDelivery(); err != nil {
			return err
		}
		o, err = scanOrder(tx.QueryRow(ctx, `
			UPDATE orders SET status='delivered', delivered_at=now(), payout_status='processing',
				version=version+1, updated_at=now()
			WHERE id=$1 AND version=$2
			RETURNING `+orderColumns, id, o.Version))
		if err == ErrNotFound {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO payout_jobs (id, order_id, status, run_at)
			VALUES ($1, $2, 'queued', $3)
			ON CONFLICT (order_id) DO NOTHING
		`, uuid.NewString(), id, payoutAt); err != nil {
			return fmt.Errorf("queue payout: %w", err)
		}
		out = o
		return nil
	})
	return out, err
}
