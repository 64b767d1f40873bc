package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusmarket/internal/db"
	"campusmarket/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const offerColumns = `
	id, request_id, product_id, seller_id, amount, message, status, reason,
	expires_at, views, last_viewed, response_time_minutes, acceptance_rate,
	auto_expire, notify_on_view, allow_counter_offers,
	history, version, created_at, updated_at`

const offerConstraintPending = "ux_offers_pending_seller_request"

func scanOffer(row rowScanner) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(
		&o.ID,
		&o.RequestID,
		&o.ProductID,
		&o.SellerID,
		&o.Amount,
		&o.Message,
		&o.Status,
		&o.Reason,
		&o.ExpiresAt,
		&o.Analytics.Views,
		&o.Analytics.LastViewed,
		&o.Analytics.ResponseTimeMinutes,
		&o.Analytics.AcceptanceRate,
		&o.Settings.AutoExpire,
		&o.Settings.NotifyOnView,
		&o.Settings.AllowCounterOffers,
		&o.History,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func getOffer(ctx context.Context, q querier, id string, forUpdate bool) (*models.Offer, error) {
	sql := "SELECT " + offerColumns + " FROM offers WHERE id=$1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	return scanOffer(q.QueryRow(ctx, sql, id))
}

func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	return getOffer(ctx, s.Pool, id, false)
}

// ViewOffer bumps the view counter and last-viewed time.
func (s *Store) ViewOffer(ctx context.Context, id string) (*models.Offer, error) {
	return scanOffer(s.Pool.QueryRow(ctx, `
		UPDATE offers SET views = views + 1, last_viewed = now()
		WHERE id=$1
		RETURNING `+offerColumns, id))
}

type OfferCreation struct {
	Offer   *models.Offer
	Request *models.Request
}

// CreateOffer inserts a pending offer and bumps the request's live offer
// count in one transaction. The request row is locked first so concurrent
// offers on the same request serialize on it.
func (s *Store) CreateOffer(ctx context.Context, o *models.Offer) (*OfferCreation, error) {
	var out *OfferCreation
	var closed bool
	err := db.WithRetry(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		out, closed = nil, false
		r, err := getRequest(ctx, tx, o.RequestID, true)
		if err != nil {
			return err
		}

		before := *r
		if r.ApplyExpiry(time.Now().UTC()) {
			r.History = append(r.History, models.NewHistoryEntry("auto_closed", "", "request expired", before.Status, r.Status))
			if _, err := saveRequest(ctx, tx, &before, r); err != nil {
				return err
			}
			closed = true
			return nil
		}

		switch {
		case r.Status != models.RequestOpen:
			return ErrRequestNotOpen
		case !r.Settings.AllowOffers:
			return ErrOffersNotAllowed
		case r.RequesterID == o.SellerID:
			return ErrSelfOffer
		}

		// A lapsed pending offer by the same seller must not block a new one.
		lapsed, err := expireSellerOffers(ctx, tx, r.ID, o.SellerID)
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM offers WHERE request_id=$1 AND seller_id=$2 AND status='pending')
		`, r.ID, o.SellerID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrDuplicatePending
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO offers (
				id, request_id, product_id, seller_id, amount, message, status, reason,
				expires_at, auto_expire, notify_on_view, allow_counter_offers,
				history, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			o.ID,
			o.RequestID,
			o.ProductID,
			o.SellerID,
			o.Amount,
			o.Message,
			string(o.Status),
			o.ExpiresAt,
			o.Settings.AutoExpire,
			o.Settings.NotifyOnView,
			o.Settings.AllowCounterOffers,
			historyJSON(o.History),
			o.Version,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			if db.IsUniqueViolation(err, offerConstraintPending) {
				return ErrDuplicatePending
			}
			return fmt.Errorf("insert offer: %w", err)
		}

		r, err = scanRequest(tx.QueryRow(ctx, `
			UPDATE requests SET
				offers_count = GREATEST(offers_count + $2, 0),
				response_time_minutes = COALESCE(response_time_minutes, EXTRACT(EPOCH FROM (now() - created_at)) / 60),
				updated_at = now()
			WHERE id=$1
			RETURNING `+fmt.Sprintf(requestColumns, "history"), r.ID, 1-lapsed))
		if err != nil {
			return fmt.Errorf("bump offers count: %w", err)
		}
		out = &OfferCreation{Offer: o, Request: r}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, ErrRequestNotOpen
	}
	return out, nil
}

func expireSellerOffers(ctx context.Context, tx pgx.Tx, requestID, sellerID string) (int, error) {
	entry := []models.HistoryEntry{models.NewHistoryEntry("expired", "", "offer expired", models.OfferPending, models.OfferCancelled)}
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET status='cancelled', reason='expired',
			history = history || $3::jsonb, version=version+1, updated_at=now()
		WHERE request_id=$1 AND seller_id=$2 AND status='pending' AND expires_at < now()
	`, requestID, sellerID, entry)
	if err != nil {
		return 0, fmt.Errorf("expire seller offers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type OfferFilter struct {
	Status         models.OfferStatus
	RequestID      string
	SellerID       string
	MinAmount      *decimal.Decimal
	MaxAmount      *decimal.Decimal
	MinViews       *int64
	MaxViews       *int64
	MinResponse    *float64
	MaxResponse    *float64
	ExpiringWithin time.Duration
	Acceptance     string
	// ParticipantID limits results to offers the user made or received.
	ParticipantID string
	Sort          string
	Page          Page
}

var offerSorts = map[string]string{
	"newest":      "created_at DESC, id DESC",
	"oldest":      "created_at ASC, id ASC",
	"amount_asc":  "amount ASC, created_at DESC",
	"amount_desc": "amount DESC, created_at DESC",
	"views":       "views DESC, created_at DESC",
	"expiring":    "expires_at ASC, id ASC",
}

func (f OfferFilter) where(now time.Time) *where {
	w := &where{}
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	if f.RequestID != "" {
		w.add("request_id = " + w.arg(f.RequestID))
	}
	if f.SellerID != "" {
		w.add("seller_id = " + w.arg(f.SellerID))
	}
	if f.MinAmount != nil {
		w.add("amount >= " + w.arg(*f.MinAmount))
	}
	if f.MaxAmount != nil {
		w.add("amount <= " + w.arg(*f.MaxAmount))
	}
	if f.MinViews != nil {
		w.add("views >= " + w.arg(*f.MinViews))
	}
	if f.MaxViews != nil {
		w.add("views <= " + w.arg(*f.MaxViews))
	}
	if f.MinResponse != nil {
		w.add("response_time_minutes >= " + w.arg(*f.MinResponse))
	}
	if f.MaxResponse != nil {
		w.add("response_time_minutes <= " + w.arg(*f.MaxResponse))
	}
	if f.ExpiringWithin > 0 {
		w.add("status = 'pending'")
		w.add("expires_at > " + w.arg(now))
		w.add("expires_at <= " + w.arg(now.Add(f.ExpiringWithin)))
	}
	if lo, hi, ok := models.AcceptanceBounds(f.Acceptance); ok {
		w.add("acceptance_rate >= " + w.arg(lo))
		w.add("acceptance_rate < " + w.arg(hi))
	}
	if f.ParticipantID != "" {
		p := w.arg(f.ParticipantID)
		w.add("(seller_id = " + p + " OR request_id IN (SELECT id FROM requests WHERE requester_id = " + p + "))")
	}
	return w
}

func (s *Store) ListOffers(ctx context.Context, f OfferFilter) ([]models.Offer, int64, error) {
	w := f.where(time.Now().UTC())
	page := f.Page.normalized()

	var total int64
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM offers"+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count offers: %w", err)
	}

	sql := "SELECT " + offerColumns + " FROM offers" + w.sql() + orderBy(offerSorts, f.Sort, "newest") +
		" LIMIT " + w.arg(page.Limit) + " OFFSET " + w.arg(page.Offset())
	rows, err := s.Pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	items := []models.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan offer: %w", err)
		}
		o.History = nil
		items = append(items, *o)
	}
	return items, total, rows.Err()
}

// MutateOffer locks the parent request and then the offer, applies the
// expiry rule, runs fn and saves. expectedVersion > 0 turns a version drift
// since the caller's read into ErrConflict. An offer that had lapsed is
// saved as cancelled and ErrOfferExpired is returned.
func (s *Store) MutateOffer(ctx context.Context, id string, expectedVersion int, fn func(o *models.Offer, r *models.Request) error) (*models.Offer, error) {
	var out *models.Offer
	var expired bool
	err := db.WithRetry(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		out, expired = nil, false
		var requestID string
		if err := tx.QueryRow(ctx, `SELECT request_id FROM offers WHERE id=$1`, id).Scan(&requestID); err != nil {
			return notFound(err)
		}
		r, err := getRequest(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		o, err := getOffer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if expectedVersion > 0 && o.Version != expectedVersion {
			return ErrConflict
		}

		before := *o
		if o.ApplyExpiry(time.Now().UTC()) {
			expired = true
			o.History = append(o.History, models.NewHistoryEntry("expired", "", "offer expired", before.Status, o.Status))
		} else if err := fn(o, r); err != nil {
			return err
		}

		if err := saveOffer(ctx, tx, &before, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return out, ErrOfferExpired
	}
	return out, nil
}

func saveOffer(ctx context.Context, tx pgx.Tx, before, o *models.Offer) error {
	decided := before.Status == models.OfferPending &&
		(o.Status == models.OfferAccepted || o.Status == models.OfferRejected)
	if decided {
		minutes := time.Since(o.CreatedAt).Minutes()
		o.Analytics.ResponseTimeMinutes = &minutes
	}

	tag, err := tx.Exec(ctx, `
		UPDATE offers SET
			amount=$3, message=$4, status=$5, reason=$6, expires_at=$7,
			response_time_minutes=$8, auto_expire=$9, notify_on_view=$10,
			allow_counter_offers=$11, history=$12,
			version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2
	`,
		o.ID,
		before.Version,
		o.Amount,
		o.Message,
		string(o.Status),
		o.Reason,
		o.ExpiresAt,
		o.Analytics.ResponseTimeMinutes,
		o.Settings.AutoExpire,
		o.Settings.NotifyOnView,
		o.Settings.AllowCounterOffers,
		historyJSON(o.History),
	)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	o.Version = before.Version + 1

	if before.Status.Live() && !o.Status.Live() {
		if err := adjustOffersCount(ctx, tx, o.RequestID, -1); err != nil {
			return err
		}
	}
	if decided {
		rate, err := refreshAcceptanceRate(ctx, tx, o.ID, o.SellerID)
		if err != nil {
			return err
		}
		o.Analytics.AcceptanceRate = rate
	}
	return nil
}

// refreshAcceptanceRate stores the seller's accepted/(accepted+rejected)
// ratio on the decided offer.
func refreshAcceptanceRate(ctx context.Context, tx pgx.Tx, offerID, sellerID string) (*float64, error) {
	var rate *float64
	err := tx.QueryRow(ctx, `
		UPDATE offers SET acceptance_rate = (
			SELECT COUNT(*) FILTER (WHERE status='accepted')::float8
				/ NULLIF(COUNT(*) FILTER (WHERE status IN ('accepted','rejected')), 0)
			FROM offers WHERE seller_id=$2
		)
		WHERE id=$1
		RETURNING acceptance_rate
	`, offerID, sellerID).Scan(&rate)
	if err != nil {
		return nil, fmt.Errorf("acceptance rate: %w", err)
	}
	return rate, nil
}

// CancelExpiredOffers flips lapsed pending offers with auto-expire enabled.
func (s *Store) CancelExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id FROM offers
		WHERE status='pending' AND auto_expire AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	var out []models.Offer
	for _, id := range ids {
		o, err := s.MutateOffer(ctx, id, 0, func(*models.Offer, *models.Request) error { return nil })
		switch {
		case errors.Is(err, ErrOfferExpired):
			out = append(out, *o)
		case err != nil:
			return out, fmt.Errorf("expire offer %s: %w", id, err)
		}
	}
	return out, nil
}
