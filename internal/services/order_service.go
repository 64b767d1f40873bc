package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/payments"
	"campusmarket/internal/store"

	"go.uber.org/zap"
)

type OrderService struct {
	Store       *store.Store
	Gateway     PaymentGateway
	Notifier    Notifier
	Log         *zap.Logger
	CallbackURL string
	PayoutDelay time.Duration
}

func (s *OrderService) ListMine(ctx context.Context, caller models.Caller, f store.OrderFilter) ([]models.Order, int64, error) {
	if f.Role != "" && f.Role != "buyer" && f.Role != "seller" {
		return nil, 0, invalid("role must be buyer or seller")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalid("invalid order status")
	}
	f.UserID = caller.UserID
	items, total, err := s.Store.ListOrdersForUser(ctx, f)
	if err != nil {
		return nil, 0, internal("list orders", err)
	}
	return items, total, nil
}

func (s *OrderService) Get(ctx context.Context, caller models.Caller, id string) (*models.Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, translate(err, "order")
	}
	if !o.IsParty(caller.UserID) && !caller.IsAdmin() {
		return nil, forbidden("not allowed to view this order")
	}
	return o, nil
}

func (s *OrderService) UpdateStatus(ctx context.Context, caller models.Caller, id string, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, invalid("invalid order status")
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, translate(err, "order")
	}
	isSeller := o.SellerID == caller.UserID
	switch {
	case caller.IsAdmin():
	case isSeller:
		// Delivery is confirmed by the buyer, which is what queues the payout.
		if status == models.OrderPaid || status == models.OrderRefunded || status == models.OrderDelivered {
			return nil, forbidden("sellers cannot set an order to " + string(status))
		}
	default:
		return nil, forbidden("only the seller or an admin can update order status")
	}

	markPaid := caller.IsAdmin() && status.ImpliesPaid()
	updated, err := s.Store.UpdateOrderStatus(ctx, id, o.Version, status, markPaid)
	if err != nil {
		return nil, translate(err, "order")
	}
	logOrNop(s.Log).Info("order status updated",
		zap.String("orderID", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(status)),
		zap.String("by", caller.UserID))
	return updated, nil
}

type PaymentSession struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode,omitempty"`
	Reference        string `json:"reference"`
}

func (s *OrderService) InitializePayment(ctx context.Context, caller models.Caller, id string) (*PaymentSession, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, translate(err, "order")
	}
	if o.BuyerID != caller.UserID {
		return nil, forbidden("only the buyer can pay for this order")
	}
	if err := o.CanInitializePayment(); err != nil {
		return nil, translate(err, "order")
	}
	if caller.Email == "" {
		return nil, invalid("an email address is required to pay")
	}

	ref := fmt.Sprintf("ord_%s_%d", o.ID, time.Now().Unix())
	started, err := s.Gateway.Initialize(ctx, payments.InitializeParams{
		Email:       caller.Email,
		AmountMinor: models.MinorUnits(o.Total()),
		Reference:   ref,
		CallbackURL: s.CallbackURL,
		Metadata:    map[string]any{"orderId": o.ID},
	})
	if err != nil {
		logOrNop(s.Log).Error("payment initialize failed", zap.String("orderID", o.ID), zap.Error(err))
		return nil, internal("payment initialization failed", err)
	}
	if started.Reference != "" {
		ref = started.Reference
	}

	if _, err := s.Store.SetPaymentRef(ctx, o.ID, ref, map[string]any{
		"accessCode":       started.AccessCode,
		"authorizationUrl": started.AuthorizationURL,
	}); err != nil {
		return nil, translate(err, "order")
	}
	return &PaymentSession{AuthorizationURL: started.AuthorizationURL, AccessCode: started.AccessCode, Reference: ref}, nil
}

func (s *OrderService) VerifyPayment(ctx context.Context, caller models.Caller, id string) (*models.Order, error) {
	o, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentRef == nil || *o.PaymentRef == "" {
		return nil, invalid("order has no payment reference")
	}
	if o.IsPaid {
		return o, nil
	}

	tx, err := s.Gateway.Verify(ctx, *o.PaymentRef)
	if err != nil {
		logOrNop(s.Log).Error("payment verify failed", zap.String("orderID", o.ID), zap.Error(err))
		return nil, internal("payment verification failed", err)
	}
	if !tx.Succeeded() {
		return nil, invalid("payment has not succeeded (" + tx.Status + ")")
	}
	if tx.AmountMinor != models.MinorUnits(o.Total()) {
		logOrNop(s.Log).Warn("payment amount mismatch",
			zap.String("orderID", o.ID),
			zap.Int64("paid", tx.AmountMinor),
			zap.Int64("expected", models.MinorUnits(o.Total())))
		return nil, invalid("payment amount does not match order total")
	}

	paid, changed, err := s.Store.MarkOrderPaid(ctx, o.ID, paymentMeta(tx))
	if err != nil {
		return nil, translate(err, "order")
	}
	if changed {
		s.notifyPaid(ctx, paid)
	}
	return paid, nil
}

// HandleWebhook verifies the gateway signature and applies charge events.
// Only a bad signature is reported; every other outcome is acknowledged so
// the gateway stops redelivering.
func (s *OrderService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.Gateway.VerifySignature(body, signature) {
		return &Error{Kind: KindUnauthorized, Message: "invalid webhook signature"}
	}
	log := logOrNop(s.Log)

	ev, err := payments.ParseWebhook(body)
	if err != nil {
		log.Warn("webhook parse failed", zap.Error(err))
		return nil
	}
	if ev.Event != payments.EventChargeSuccess {
		log.Debug("webhook ignored", zap.String("event", ev.Event))
		return nil
	}

	order, err := s.resolveWebhookOrder(ctx, &ev.Data)
	if err != nil {
		log.Warn("webhook order lookup failed", zap.String("reference", ev.Data.Reference), zap.Error(err))
		return nil
	}
	if ev.Data.AmountMinor != models.MinorUnits(order.Total()) {
		log.Warn("webhook amount mismatch",
			zap.String("orderID", order.ID),
			zap.Int64("paid", ev.Data.AmountMinor),
			zap.Int64("expected", models.MinorUnits(order.Total())))
		return nil
	}

	paid, first, err := s.Store.ApplyPaymentEvent(ctx, store.WebhookEvent{
		Gateway:   models.DefaultPaymentGateway,
		Event:     ev.Event,
		Reference: ev.Data.Reference,
		Payload:   json.RawMessage(body),
	}, order.ID, paymentMeta(&ev.Data))
	if err != nil {
		log.Error("webhook apply failed", zap.String("orderID", order.ID), zap.Error(err))
		return nil
	}
	if !first {
		log.Info("duplicate webhook", zap.String("reference", ev.Data.Reference))
		return nil
	}
	if paid != nil && !order.IsPaid {
		s.notifyPaid(ctx, paid)
	}
	return nil
}

func (s *OrderService) resolveWebhookOrder(ctx context.Context, tx *payments.Transaction) (*models.Order, error) {
	if id := tx.OrderID(); id != "" {
		return s.Store.GetOrder(ctx, id)
	}
	return s.Store.GetOrderByPaymentRef(ctx, tx.Reference)
}

func (s *OrderService) ConfirmDelivery(ctx context.Context, caller models.Caller, id string) (*models.Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, translate(err, "order")
	}
	if o.BuyerID != caller.UserID {
		return nil, forbidden("only the buyer can confirm delivery")
	}
	if err := o.CanConfirmDelivery(); err != nil {
		return nil, translate(err, "order")
	}

	delivered, err := s.Store.ConfirmDelivery(ctx, id, time.Now().UTC().Add(s.PayoutDelay))
	if err != nil {
		return nil, translate(err, "order")
	}
	logOrNop(s.Log).Info("delivery confirmed, payout queued", zap.String("orderID", id))

	notifierOrNop(s.Notifier).Notify(ctx, models.Notification{
		UserID:  delivered.SellerID,
		Title:   "Delivery confirmed",
		Message: "The buyer confirmed delivery. Your payout is being processed",
		Type:    models.NotificationOrderDelivered,
		Refs:    models.NotificationRefs{OrderID: delivered.ID, OfferID: delivered.OfferID, RequestID: delivered.RequestID},
	})
	return delivered, nil
}

func (s *OrderService) notifyPaid(ctx context.Context, o *models.Order) {
	refs := models.NotificationRefs{OrderID: o.ID, OfferID: o.OfferID, RequestID: o.RequestID}
	n := notifierOrNop(s.Notifier)
	n.Notify(ctx, models.Notification{
		UserID:  o.SellerID,
		Title:   "Order paid",
		Message: "Payment received for order " + o.ID,
		Type:    models.NotificationOrderPaid,
		Refs:    refs,
	})
	n.Notify(ctx, models.Notification{
		UserID:  o.BuyerID,
		Title:   "Payment confirmed",
		Message: "Your payment for order " + o.ID + " was confirmed",
		Type:    models.NotificationOrderPaid,
		Refs:    refs,
	})
}

func paymentMeta(tx *payments.Transaction) map[string]any {
	meta := map[string]any{
		"reference": tx.Reference,
		"status":    tx.Status,
		"amount":    tx.AmountMinor,
		"currency":  tx.Currency,
		"channel":   tx.Channel,
	}
	if tx.GatewayResponse != "" {
		meta["gatewayResponse"] = tx.GatewayResponse
	}
	if tx.PaidAt != nil {
		meta["paidAt"] = tx.PaidAt.UTC().Format(time.RFC3339)
	}
	return meta
}
