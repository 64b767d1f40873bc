package services

import (
	"context"
	"errors"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AcceptanceService struct {
	Store    *store.Store
	Notifier Notifier
	Log      *zap.Logger
}

type Acceptance struct {
	Offer   *models.Offer   `json:"offer"`
	Order   *models.Order   `json:"order"`
	Request *models.Request `json:"-"`
}

// Accept turns a pending offer into an order. Cheap checks run on a plain
// read so common mistakes fail fast; the state change itself is atomic and
// reports a lost race as a conflict.
func (s *AcceptanceService) Accept(ctx context.Context, caller models.Caller, offerID string) (*Acceptance, error) {
	offer, err := s.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, translate(err, "offer")
	}
	req, err := s.Store.GetRequest(ctx, offer.RequestID)
	if err != nil {
		return nil, translate(err, "request")
	}
	if !req.IsOwner(caller.UserID) {
		return nil, forbidden("only the requester can accept an offer")
	}
	if offer.Status != models.OfferPending {
		return nil, invalid("offer is not pending")
	}
	now := time.Now().UTC()
	if offer.IsExpired(now) {
		return nil, invalid("offer has expired")
	}
	if req.Status != models.RequestOpen {
		return nil, invalid("request is not open")
	}
	if req.Settings.AutoClose && req.IsExpired(now) {
		m, err := s.Store.MutateRequest(ctx, req.ID, func(*models.Request) error { return nil })
		if m != nil {
			notifyCancelled(context.WithoutCancel(ctx), s.Notifier, m.Request, m.Cancelled, "expired")
		}
		if err != nil && !errors.Is(err, store.ErrRequestNotOpen) {
			return nil, translate(err, "request")
		}
		return nil, invalid("request has expired")
	}

	res, err := s.Store.AcceptOffer(ctx, store.AcceptInput{
		OfferID:        offer.ID,
		OfferVersion:   offer.Version,
		RequestVersion: req.Version,
		ActorID:        caller.UserID,
		OrderID:        uuid.NewString(),
	})
	if errors.Is(err, store.ErrRequestNotOpen) && res != nil {
		notifyCancelled(context.WithoutCancel(ctx), s.Notifier, res.Request, res.Rejected, "expired")
		return nil, invalid("request has expired")
	}
	if err != nil {
		return nil, translate(err, "offer")
	}

	logOrNop(s.Log).Info("offer accepted",
		zap.String("offerID", res.Offer.ID),
		zap.String("requestID", res.Request.ID),
		zap.String("orderID", res.Order.ID),
		zap.Int("rejected", len(res.Rejected)))

	// The decision is committed; delivery must not depend on the caller staying connected.
	nctx := context.WithoutCancel(ctx)
	n := notifierOrNop(s.Notifier)
	refs := models.NotificationRefs{OfferID: res.Offer.ID, RequestID: res.Request.ID, OrderID: res.Order.ID}
	n.Notify(nctx, models.Notification{
		UserID:  res.Offer.SellerID,
		Title:   "Offer accepted",
		Message: "Your offer on \"" + res.Request.Title + "\" was accepted",
		Type:    models.NotificationOfferAccepted,
		Refs:    refs,
	})
	n.Notify(nctx, models.Notification{
		UserID:  res.Order.BuyerID,
		Title:   "Order created",
		Message: "An order was created for \"" + res.Request.Title + "\"",
		Type:    models.NotificationOrderCreated,
		Refs:    refs,
	})
	for _, ref := range res.Rejected {
		n.Notify(nctx, models.Notification{
			UserID:  ref.SellerID,
			Title:   "Offer rejected",
			Message: "Another offer was accepted for \"" + res.Request.Title + "\"",
			Type:    models.NotificationOfferRejected,
			Refs:    models.NotificationRefs{OfferID: ref.ID, RequestID: res.Request.ID},
		})
	}

	return &Acceptance{Offer: res.Offer, Order: res.Order, Request: res.Request}, nil
}

// notifyCancelled tells the sellers of offers cancelled with a request why
// the request went away.
func notifyCancelled(ctx context.Context, n Notifier, r *models.Request, refs []store.OfferRef, why string) {
	n = notifierOrNop(n)
	for _, ref := range refs {
		n.Notify(ctx, models.Notification{
			UserID:  ref.SellerID,
			Title:   "Offer cancelled",
			Message: "The request \"" + r.Title + "\" " + why,
			Type:    models.NotificationOfferCancelled,
			Refs:    models.NotificationRefs{OfferID: ref.ID, RequestID: r.ID},
		})
	}
}
