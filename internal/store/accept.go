package store

import (
	"context"
	"fmt"
	"time"

	"campusmarket/internal/db"
	"campusmarket/internal/models"

	"github.com/jackc/pgx/v5"
)

type AcceptInput struct {
	OfferID        string
	OfferVersion   int
	RequestVersion int
	ActorID        string
	// OrderID is used only if no order exists yet for the offer.
	OrderID string
}

type AcceptResult struct {
	Offer    *models.Offer
	Request  *models.Request
	Order    *models.Order
	Rejected []OfferRef
}

// AcceptOffer accepts a pending offer, fulfills its request, rejects the
// sibling pending offers and creates the order, all in one serializable
// transaction. Any state or version drift since the caller's read is
// reported as ErrConflict.
//
// A request past its auto-close expiry is closed instead and
// ErrRequestNotOpen is returned together with the closed request; Rejected
// then lists the pending offers that were cancelled with it.
func (s *Store) AcceptOffer(ctx context.Context, in AcceptInput) (*AcceptResult, error) {
	var out *AcceptResult
	var expired, closed bool
	err := db.WithRetry(ctx, s.Pool, db.SerializableTxOptions(), func(tx pgx.Tx) error {
		out, expired, closed = nil, false, false
		var requestID string
		if err := tx.QueryRow(ctx, `SELECT request_id FROM offers WHERE id=$1`, in.OfferID).Scan(&requestID); err != nil {
			return notFound(err)
		}
		r, err := getRequest(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		o, err := getOffer(ctx, tx, in.OfferID, true)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		beforeReq := *r
		if r.ApplyExpiry(now) {
			r.History = append(r.History, models.NewHistoryEntry("auto_closed", "", "request expired", beforeReq.Status, r.Status))
			cancelled, err := saveRequest(ctx, tx, &beforeReq, r)
			if err != nil {
				return err
			}
			out = &AcceptResult{Request: r, Rejected: cancelled}
			closed = true
			return nil
		}

		if o.Status == models.OfferPending && o.IsExpired(now) {
			before := *o
			o.ApplyExpiry(now)
			o.History = append(o.History, models.NewHistoryEntry("expired", "", "offer expired", before.Status, o.Status))
			if err := saveOffer(ctx, tx, &before, o); err != nil {
				return err
			}
			expired = true
			return nil
		}
		if o.Status != models.OfferPending || r.Status != models.RequestOpen {
			return ErrConflict
		}
		if (in.OfferVersion > 0 && o.Version != in.OfferVersion) ||
			(in.RequestVersion > 0 && r.Version != in.RequestVersion) {
			return ErrConflict
		}

		before := *o
		o.Status = models.OfferAccepted
		o.History = append(o.History, models.NewHistoryEntry("accepted", in.ActorID, "offer accepted", before.Status, o.Status))
		if err := saveOffer(ctx, tx, &before, o); err != nil {
			return err
		}

		entry := []models.HistoryEntry{models.NewHistoryEntry("fulfilled", in.ActorID, "offer "+o.ID+" accepted", r.Status, models.RequestFulfilled)}
		r, err = scanRequest(tx.QueryRow(ctx, `
			UPDATE requests SET status='fulfilled', history = history || $3::jsonb,
				version=version+1, updated_at=now()
			WHERE id=$1 AND status='open' AND version=$2
			RETURNING `+fmt.Sprintf(requestColumns, "history"), r.ID, r.Version, entry))
		if err == ErrNotFound {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("fulfill request: %w", err)
		}

		rejected, err := bulkFinishPending(ctx, tx, r.ID, o.ID, models.OfferRejected, "another offer was accepted")
		if err != nil {
			return err
		}
		r.Analytics.OffersCount -= len(rejected)
		for _, ref := range rejected {
			if _, err := refreshAcceptanceRate(ctx, tx, ref.ID, ref.SellerID); err != nil {
				return err
			}
		}

		if err := tx.QueryRow(ctx, `
			UPDATE requests SET fulfillment_rate = (
				SELECT COUNT(*) FILTER (WHERE status='fulfilled')::float8 / NULLIF(COUNT(*), 0)
				FROM requests WHERE requester_id=$2
			)
			WHERE id=$1
			RETURNING fulfillment_rate
		`, r.ID, r.RequesterID).Scan(&r.Analytics.FulfillmentRate); err != nil {
			return fmt.Errorf("fulfillment rate: %w", err)
		}

		order, err := insertOrder(ctx, tx, models.NewOrderFromOffer(in.OrderID, o, r.RequesterID))
		if err != nil {
			return err
		}
		out = &AcceptResult{Offer: o, Request: r, Order: order, Rejected: rejected}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		return out, ErrRequestNotOpen
	}
	if expired {
		return nil, ErrOfferExpired
	}
	return out, nil
}
