package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OfferService struct {
	Store      *store.Store
	Acceptance *AcceptanceService
	Notifier   Notifier
	Log        *zap.Logger
	DefaultTTL time.Duration
}

type CreateOfferInput struct {
	RequestID string                `json:"request"`
	ProductID *string               `json:"product"`
	Amount    decimal.Decimal       `json:"amount"`
	Message   string                `json:"message"`
	ExpiresAt *time.Time            `json:"expiresAt"`
	Settings  *models.OfferSettings `json:"settings"`
}

func (s *OfferService) Create(ctx context.Context, caller models.Caller, in CreateOfferInput) (*models.Offer, error) {
	if in.RequestID == "" {
		return nil, invalid("request is required")
	}
	if err := validIDs(ref("request", in.RequestID), optRef("product", in.ProductID)); err != nil {
		return nil, err
	}
	if err := models.ValidateOfferFields(in.Amount, in.Message); err != nil {
		return nil, translate(err, "offer")
	}

	now := time.Now().UTC()
	ttl := s.DefaultTTL
	if ttl <= 0 {
		ttl = models.DefaultOfferTTL
	}
	expires := now.Add(ttl)
	if in.ExpiresAt != nil {
		expires = in.ExpiresAt.UTC()
		if !expires.After(now) {
			return nil, invalid("expiresAt must be in the future")
		}
		if expires.After(now.Add(models.MaxOfferExtension)) {
			return nil, invalid("expiresAt cannot be more than 30 days away")
		}
	}
	settings := models.DefaultOfferSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}

	o := &models.Offer{
		ID:        uuid.NewString(),
		RequestID: in.RequestID,
		ProductID: in.ProductID,
		SellerID:  caller.UserID,
		Amount:    in.Amount,
		Message:   in.Message,
		Status:    models.OfferPending,
		ExpiresAt: expires,
		Settings:  settings,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.History = []models.HistoryEntry{models.NewHistoryEntry("created", caller.UserID, "offer created", nil, o.Status)}

	res, err := s.Store.CreateOffer(ctx, o)
	if err != nil {
		return nil, translate(err, "request")
	}

	logOrNop(s.Log).Info("offer created",
		zap.String("offerID", o.ID),
		zap.String("requestID", o.RequestID),
		zap.String("sellerID", o.SellerID),
		zap.String("amount", o.Amount.String()))

	if res.Request.Settings.NotifyOnOffer {
		notifierOrNop(s.Notifier).Notify(ctx, models.Notification{
			UserID:  res.Request.RequesterID,
			Title:   "New offer",
			Message: fmt.Sprintf("You received an offer of %s on \"%s\"", o.Amount.StringFixed(2), res.Request.Title),
			Type:    models.NotificationOfferReceived,
			Refs:    models.NotificationRefs{OfferID: o.ID, RequestID: res.Request.ID},
		})
	}
	return res.Offer, nil
}

// List limits non-admin callers to offers they made or received.
func (s *OfferService) List(ctx context.Context, caller models.Caller, f store.OfferFilter) ([]models.Offer, int64, error) {
	if err := validIDs(ref("request", f.RequestID), ref("seller", f.SellerID)); err != nil {
		return nil, 0, err
	}
	if !caller.IsAdmin() {
		f.ParticipantID = caller.UserID
	}
	items, total, err := s.Store.ListOffers(ctx, f)
	if err != nil {
		return nil, 0, internal("list offers", err)
	}
	return items, total, nil
}

func (s *OfferService) Get(ctx context.Context, caller models.Caller, id string) (*models.Offer, error) {
	o, err := s.Store.GetOffer(ctx, id)
	if err != nil {
		return nil, translate(err, "offer")
	}
	r, err := s.Store.GetRequest(ctx, o.RequestID)
	if err != nil {
		return nil, translate(err, "request")
	}
	isSeller := o.SellerID == caller.UserID
	if !isSeller && !r.IsOwner(caller.UserID) && !caller.IsAdmin() {
		return nil, forbidden("not allowed to view this offer")
	}

	viewed, err := s.Store.ViewOffer(ctx, id)
	if err != nil {
		return nil, translate(err, "offer")
	}
	if viewed.Settings.NotifyOnView && !isSeller {
		notifierOrNop(s.Notifier).Notify(ctx, models.Notification{
			UserID:  viewed.SellerID,
			Title:   "Offer viewed",
			Message: "Your offer on \"" + r.Title + "\" was viewed",
			Type:    models.NotificationOfferViewed,
			Refs:    models.NotificationRefs{OfferID: viewed.ID, RequestID: r.ID},
		})
	}
	return viewed, nil
}

type OfferPatch struct {
	Amount   *decimal.Decimal      `json:"amount"`
	Message  *string               `json:"message"`
	Settings *models.OfferSettings `json:"settings"`
}

func (s *OfferService) Update(ctx context.Context, caller models.Caller, id string, p OfferPatch) (*models.Offer, error) {
	if p.Amount == nil && p.Message == nil && p.Settings == nil {
		return nil, invalid("no fields to update")
	}
	return s.mutate(ctx, caller, id, sellerOnly, func(o *models.Offer, _ *models.Request) error {
		oldVals := map[string]any{}
		newVals := map[string]any{}
		if p.Amount != nil {
			oldVals["amount"], newVals["amount"] = o.Amount, *p.Amount
			o.Amount = *p.Amount
		}
		if p.Message != nil {
			oldVals["message"], newVals["message"] = o.Message, *p.Message
			o.Message = *p.Message
		}
		if p.Settings != nil {
			oldVals["settings"], newVals["settings"] = o.Settings, *p.Settings
			o.Settings = *p.Settings
		}
		if err := models.ValidateOfferFields(o.Amount, o.Message); err != nil {
			return err
		}
		o.History = append(o.History, models.NewHistoryEntry("updated", caller.UserID, "offer updated", oldVals, newVals))
		return nil
	})
}

func (s *OfferService) Withdraw(ctx context.Context, caller models.Caller, id, reason string) (*models.Offer, error) {
	var title, requester string
	o, err := s.mutate(ctx, caller, id, sellerOnly, func(o *models.Offer, r *models.Request) error {
		title, requester = r.Title, r.RequesterID
		return finish(o, models.OfferWithdrawn, caller.UserID, reason)
	})
	if err != nil {
		return nil, err
	}
	notifierOrNop(s.Notifier).Notify(ctx, models.Notification{
		UserID:  requester,
		Title:   "Offer withdrawn",
		Message: "An offer on \"" + title + "\" was withdrawn",
		Type:    models.NotificationOfferWithdrawn,
		Refs:    models.NotificationRefs{OfferID: o.ID, RequestID: o.RequestID},
	})
	return o, nil
}

func (s *OfferService) Reject(ctx context.Context, caller models.Caller, id, reason string) (*models.Offer, error) {
	var title string
	o, err := s.mutate(ctx, caller, id, requesterOnly, func(o *models.Offer, r *models.Request) error {
		title = r.Title
		return finish(o, models.OfferRejected, caller.UserID, reason)
	})
	if err != nil {
		return nil, err
	}
	notifierOrNop(s.Notifier).Notify(ctx, models.Notification{
		UserID:  o.SellerID,
		Title:   "Offer rejected",
		Message: "Your offer on \"" + title + "\" was rejected",
		Type:    models.NotificationOfferRejected,
		Refs:    models.NotificationRefs{OfferID: o.ID, RequestID: o.RequestID},
	})
	return o, nil
}

func (s *OfferService) Accept(ctx context.Context, caller models.Caller, id string) (*Acceptance, error) {
	return s.Acceptance.Accept(ctx, caller, id)
}

func (s *OfferService) Extend(ctx context.Context, caller models.Caller, id string, expiresAt time.Time) (*models.Offer, error) {
	expiresAt = expiresAt.UTC()
	return s.mutate(ctx, caller, id, sellerOnly, func(o *models.Offer, _ *models.Request) error {
		if !expiresAt.After(o.ExpiresAt) {
			return invalid("new expiry must be after the current expiry")
		}
		if expiresAt.After(time.Now().UTC().Add(models.MaxOfferExtension)) {
			return invalid("expiresAt cannot be more than 30 days away")
		}
		o.History = append(o.History, models.NewHistoryEntry("extended", caller.UserID, "expiry extended", o.ExpiresAt, expiresAt))
		o.ExpiresAt = expiresAt
		return nil
	})
}

type BulkFailure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

func (s *OfferService) BulkWithdraw(ctx context.Context, caller models.Caller, ids []string, reason string) (*BulkResult, error) {
	return s.bulk(ctx, ids, func(id string) error {
		_, err := s.Withdraw(ctx, caller, id, reason)
		return err
	})
}

func (s *OfferService) BulkReject(ctx context.Context, caller models.Caller, ids []string, reason string) (*BulkResult, error) {
	return s.bulk(ctx, ids, func(id string) error {
		_, err := s.Reject(ctx, caller, id, reason)
		return err
	})
}

// bulk runs each item on its own; one failure does not stop the rest.
func (s *OfferService) bulk(ctx context.Context, ids []string, fn func(id string) error) (*BulkResult, error) {
	if len(ids) == 0 || len(ids) > models.MaxBulkOfferAction {
		return nil, invalid(fmt.Sprintf("provide between 1 and %d offer ids", models.MaxBulkOfferAction))
	}
	res := &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Message: err.Error()})
			continue
		}
		if err := fn(id); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Message: clientMessage(err)})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

type actor int

const (
	sellerOnly actor = iota
	requesterOnly
)

// mutate authorizes on a plain read, then applies fn under lock against the
// version that was read so a concurrent decision surfaces as a conflict.
func (s *OfferService) mutate(ctx context.Context, caller models.Caller, id string, who actor, fn func(o *models.Offer, r *models.Request) error) (*models.Offer, error) {
	o, err := s.Store.GetOffer(ctx, id)
	if err != nil {
		return nil, translate(err, "offer")
	}
	switch who {
	case sellerOnly:
		if o.SellerID != caller.UserID {
			return nil, forbidden("only the seller can modify this offer")
		}
	case requesterOnly:
		r, err := s.Store.GetRequest(ctx, o.RequestID)
		if err != nil {
			return nil, translate(err, "request")
		}
		if !r.IsOwner(caller.UserID) {
			return nil, forbidden("only the requester can reject this offer")
		}
	}
	if o.Status != models.OfferPending {
		return nil, invalid("offer is not pending")
	}

	out, err := s.Store.MutateOffer(ctx, id, o.Version, func(o *models.Offer, r *models.Request) error {
		if o.Status != models.OfferPending {
			return store.ErrOfferNotPending
		}
		return fn(o, r)
	})
	if err != nil {
		return nil, translate(err, "offer")
	}
	return out, nil
}

func finish(o *models.Offer, to models.OfferStatus, userID, reason string) error {
	if !o.CanTransition(to) {
		return store.ErrOfferNotPending
	}
	o.History = append(o.History, models.NewHistoryEntry(string(to), userID, reason, o.Status, to))
	o.Status = to
	o.Reason = reason
	return nil
}

func clientMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		if se.Kind == KindInternal {
			return "internal error"
		}
		return se.Message
	}
	return "internal error"
}
