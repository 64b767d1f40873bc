package store

import (
	"context"
	"fmt"
	"time"

	"campusmarket/internal/db"
	"campusmarket/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const requestColumns = `
	id, title, description, category_id, requester_id, campus_id, status,
	desired_price, priority, tags, location, expires_at, images,
	views, offers_count, response_time_minutes, fulfillment_rate,
	allow_offers, notify_on_offer, auto_close, public_visibility,
	%s, version, created_at, updated_at`

func requestSelect(withHistory bool) string {
	history := `'[]'::jsonb`
	if withHistory {
		history = "history"
	}
	return "SELECT " + fmt.Sprintf(requestColumns, history) + " FROM requests"
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	err := row.Scan(
		&r.ID,
		&r.Title,
		&r.Description,
		&r.CategoryID,
		&r.RequesterID,
		&r.CampusID,
		&r.Status,
		&r.DesiredPrice,
		&r.Priority,
		&r.Tags,
		&r.Location,
		&r.ExpiresAt,
		&r.Images,
		&r.Analytics.Views,
		&r.Analytics.OffersCount,
		&r.Analytics.ResponseTimeMinutes,
		&r.Analytics.FulfillmentRate,
		&r.Settings.AllowOffers,
		&r.Settings.NotifyOnOffer,
		&r.Settings.AutoClose,
		&r.Settings.PublicVisibility,
		&r.History,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *models.Request) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO requests (
			id, title, description, category_id, requester_id, campus_id, status,
			desired_price, priority, tags, location, expires_at, images,
			allow_offers, notify_on_offer, auto_close, public_visibility,
			history, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		r.ID,
		r.Title,
		r.Description,
		r.CategoryID,
		r.RequesterID,
		r.CampusID,
		string(r.Status),
		r.DesiredPrice,
		string(r.Priority),
		nonNil(r.Tags),
		r.Location,
		r.ExpiresAt,
		nonNil(r.Images),
		r.Settings.AllowOffers,
		r.Settings.NotifyOnOffer,
		r.Settings.AutoClose,
		r.Settings.PublicVisibility,
		historyJSON(r.History),
		r.Version,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	return getRequest(ctx, s.Pool, id, false)
}

func getRequest(ctx context.Context, q querier, id string, forUpdate bool) (*models.Request, error) {
	sql := requestSelect(true) + " WHERE id=$1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	return scanRequest(q.QueryRow(ctx, sql, id))
}

// ViewRequest bumps the view counter and returns the fresh row.
func (s *Store) ViewRequest(ctx context.Context, id string) (*models.Request, error) {
	return scanRequest(s.Pool.QueryRow(ctx, `
		UPDATE requests SET views = views + 1
		WHERE id=$1
		RETURNING `+fmt.Sprintf(requestColumns, "history"), id))
}

func (s *Store) CountRequestsSince(ctx context.Context, requesterID string, since time.Time) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM requests WHERE requester_id=$1 AND created_at >= $2`,
		requesterID, since).Scan(&n)
	return n, err
}

type RequestFilter struct {
	Status         models.RequestStatus
	CategoryID     string
	CampusID       string
	RequesterID    string
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	Tags           []string
	Query          string
	ExpiringWithin time.Duration
	Popularity     string
	// ViewerID limits private requests to their owner; empty means no limit.
	ViewerID string
	Sort     string
	Page     Page
}

var requestSorts = map[string]string{
	"newest":     "created_at DESC, id DESC",
	"oldest":     "created_at ASC, id ASC",
	"price_asc":  "desired_price ASC, created_at DESC",
	"price_desc": "desired_price DESC, created_at DESC",
	"popular":    "views DESC, offers_count DESC, created_at DESC",
	"expiring":   "expires_at ASC, id ASC",
}

func (f RequestFilter) where(now time.Time) *where {
	w := &where{}
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	if f.CategoryID != "" {
		w.add("category_id = " + w.arg(f.CategoryID))
	}
	if f.CampusID != "" {
		w.add("campus_id = " + w.arg(f.CampusID))
	}
	if f.RequesterID != "" {
		w.add("requester_id = " + w.arg(f.RequesterID))
	}
	if f.MinPrice != nil {
		w.add("desired_price >= " + w.arg(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		w.add("desired_price <= " + w.arg(*f.MaxPrice))
	}
	if len(f.Tags) > 0 {
		w.add("tags && " + w.arg(f.Tags))
	}
	if f.Query != "" {
		p := w.arg("%" + f.Query + "%")
		w.add("(title ILIKE " + p + " OR description ILIKE " + p + ")")
	}
	if f.ExpiringWithin > 0 {
		w.add("status = 'open'")
		w.add("expires_at > " + w.arg(now))
		w.add("expires_at <= " + w.arg(now.Add(f.ExpiringWithin)))
	}
	switch f.Popularity {
	case models.PopularityHot:
		w.add("(views >= 100 OR offers_count >= 10)")
	case models.PopularityPopular:
		w.add("(views >= 50 OR offers_count >= 5) AND views < 100 AND offers_count < 10")
	case models.PopularityNew:
		w.add("views < 10 AND offers_count = 0")
	}
	if f.ViewerID != "" {
		w.add("(public_visibility OR requester_id = " + w.arg(f.ViewerID) + ")")
	}
	return w
}

func (s *Store) ListRequests(ctx context.Context, f RequestFilter) ([]models.Request, int64, error) {
	w := f.where(time.Now().UTC())
	page := f.Page.normalized()

	var total int64
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM requests"+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	sql := requestSelect(false) + w.sql() + orderBy(requestSorts, f.Sort, "newest") +
		" LIMIT " + w.arg(page.Limit) + " OFFSET " + w.arg(page.Offset())
	rows, err := s.Pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items := []models.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, *r)
	}
	return items, total, rows.Err()
}

// OfferRef identifies an offer touched as a side effect of another write.
type OfferRef struct {
	ID       string
	SellerID string
}

type RequestMutation struct {
	Request *models.Request
	// Cancelled lists pending offers cancelled because the request closed.
	Cancelled []OfferRef
}

// MutateRequest loads the request under a row lock, applies the auto-close
// expiry rule, runs fn and saves the result. Closing a request cancels its
// pending offers in the same transaction.
func (s *Store) MutateRequest(ctx context.Context, id string, fn func(r *models.Request) error) (*RequestMutation, error) {
	var out *RequestMutation
	var expired bool
	err := db.WithRetry(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		out, expired = nil, false
		r, err := getRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		before := *r

		if r.ApplyExpiry(time.Now().UTC()) {
			expired = true
			r.History = append(r.History, models.NewHistoryEntry("auto_closed", "", "request expired", before.Status, r.Status))
		} else if err := fn(r); err != nil {
			return err
		}

		cancelled, err := saveRequest(ctx, tx, &before, r)
		if err != nil {
			return err
		}
		out = &RequestMutation{Request: r, Cancelled: cancelled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return out, ErrRequestNotOpen
	}
	return out, nil
}

func saveRequest(ctx context.Context, tx pgx.Tx, before, r *models.Request) ([]OfferRef, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE requests SET
			title=$3, description=$4, category_id=$5, status=$6, desired_price=$7,
			priority=$8, tags=$9, location=$10, expires_at=$11, images=$12,
			fulfillment_rate=$13, allow_offers=$14, notify_on_offer=$15,
			auto_close=$16, public_visibility=$17, history=$18,
			version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2
	`,
		r.ID,
		before.Version,
		r.Title,
		r.Description,
		r.CategoryID,
		string(r.Status),
		r.DesiredPrice,
		string(r.Priority),
		nonNil(r.Tags),
		r.Location,
		r.ExpiresAt,
		nonNil(r.Images),
		r.Analytics.FulfillmentRate,
		r.Settings.AllowOffers,
		r.Settings.NotifyOnOffer,
		r.Settings.AutoClose,
		r.Settings.PublicVisibility,
		historyJSON(r.History),
	)
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}
	r.Version = before.Version + 1

	if before.Status == models.RequestOpen && r.Status == models.RequestClosed {
		cancelled, err := cancelPendingOffers(ctx, tx, r.ID, "request closed")
		if err != nil {
			return nil, err
		}
		r.Analytics.OffersCount -= len(cancelled)
		if r.Analytics.OffersCount < 0 {
			r.Analytics.OffersCount = 0
		}
		return cancelled, nil
	}
	return nil, nil
}

// cancelPendingOffers flips every pending offer of a request and keeps
// offers_count in step.
func cancelPendingOffers(ctx context.Context, tx pgx.Tx, requestID, reason string) ([]OfferRef, error) {
	return bulkFinishPending(ctx, tx, requestID, "", models.OfferCancelled, reason)
}

func bulkFinishPending(ctx context.Context, tx pgx.Tx, requestID, exceptOfferID string, to models.OfferStatus, reason string) ([]OfferRef, error) {
	entry := []models.HistoryEntry{models.NewHistoryEntry(string(to), "", reason, models.OfferPending, to)}
	rows, err := tx.Query(ctx, `
		UPDATE offers SET
			status=$3, reason=$4, history = history || $5::jsonb,
			response_time_minutes = CASE WHEN $3 = 'rejected'
				THEN EXTRACT(EPOCH FROM (now() - created_at)) / 60
				ELSE response_time_minutes END,
			version=version+1, updated_at=now()
		WHERE request_id=$1 AND status='pending' AND ($2 = '' OR id::text <> $2)
		RETURNING id, seller_id
	`, requestID, exceptOfferID, string(to), reason, entry)
	if err != nil {
		return nil, fmt.Errorf("finish pending offers: %w", err)
	}
	var refs []OfferRef
	for rows.Next() {
		var ref OfferRef
		if err := rows.Scan(&ref.ID, &ref.SellerID); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := adjustOffersCount(ctx, tx, requestID, -len(refs)); err != nil {
		return nil, err
	}
	return refs, nil
}

func adjustOffersCount(ctx context.Context, tx pgx.Tx, requestID string, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE requests SET offers_count = GREATEST(offers_count + $2, 0), updated_at=now()
		WHERE id=$1
	`, requestID, delta)
	if err != nil {
		return fmt.Errorf("adjust offers count: %w", err)
	}
	return nil
}

type HistoryFilter struct {
	Action string
	From   *time.Time
	To     *time.Time
	Page   Page
}

func (s *Store) RequestHistory(ctx context.Context, requestID string, f HistoryFilter) ([]models.HistoryEntry, int64, error) {
	page := f.Page.normalized()
	const base = `
		FROM requests r, jsonb_array_elements(r.history) e
		WHERE r.id=$1
		  AND ($2 = '' OR e->>'action' = $2)
		  AND ($3::timestamptz IS NULL OR (e->>'timestamp')::timestamptz >= $3)
		  AND ($4::timestamptz IS NULL OR (e->>'timestamp')::timestamptz <= $4)`

	var total int64
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*)"+base, requestID, f.Action, f.From, f.To).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	rows, err := s.Pool.Query(ctx, "SELECT e"+base+`
		ORDER BY (e->>'timestamp')::timestamptz DESC
		LIMIT $5 OFFSET $6`, requestID, f.Action, f.From, f.To, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e); err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// CloseExpiredRequests closes open auto-close requests whose expiry passed and
// cancels their pending offers.
func (s *Store) CloseExpiredRequests(ctx context.Context, now time.Time, limit int) ([]RequestMutation, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id FROM requests
		WHERE status='open' AND auto_close AND expires_at < $1
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

	var out []RequestMutation
	for _, id := range ids {
		m, err := s.MutateRequest(ctx, id, func(*models.Request) error { return nil })
		if err != nil && err != ErrRequestNotOpen {
			return out, fmt.Errorf("close request %s: %w", id, err)
		}
		if m != nil && m.Request.Status == models.RequestClosed {
			out = append(out, *m)
		}
	}
	return out, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func historyJSON(h []models.HistoryEntry) []models.HistoryEntry {
	if h == nil {
		return []models.HistoryEntry{}
	}
	return h
}

// IsRetryableConflict is used by callers that want to retry optimistic conflicts.
func IsRetryableConflict(err error) bool {
	return err == ErrConflict || db.IsRetryable(err)
}
