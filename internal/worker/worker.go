package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/payments"
	"campusmarket/internal/pricing"
	"campusmarket/internal/store"

	"go.uber.org/zap"
)

// Store is the slice of the persistence layer the worker drives.
type Store interface {
	ClaimDuePayouts(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.PayoutJob, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CompletePayout(ctx context.Context, job models.PayoutJob, ref string) error
	RetryPayout(ctx context.Context, job models.PayoutJob, runAt time.Time, cause string) error
	FailPayout(ctx context.Context, job models.PayoutJob, cause string) error
	CancelExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.Offer, error)
	CloseExpiredRequests(ctx context.Context, now time.Time, limit int) ([]store.RequestMutation, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type Worker struct {
	Store       Store
	Payouter    payments.Payouter
	Pricing     pricing.Service
	Notifier    Notifier
	Log         *zap.Logger
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// Lease is how long a claimed payout stays invisible to other workers.
	Lease       time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Now         func() time.Time
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log().Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce expires lapsed offers and requests, then settles due payouts. Each
// stage runs even if an earlier one failed.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.now()
	var errs []error
	if err := w.expireOffers(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := w.closeRequests(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := w.processPayouts(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *Worker) expireOffers(ctx context.Context, now time.Time) error {
	expired, err := w.Store.CancelExpiredOffers(ctx, now, w.batchSize())
	for _, o := range expired {
		w.notify(ctx, models.Notification{
			UserID:  o.SellerID,
			Title:   "Offer expired",
			Message: "Your offer expired before the requester responded",
			Type:    models.NotificationOfferCancelled,
			Refs:    models.NotificationRefs{OfferID: o.ID, RequestID: o.RequestID},
		})
	}
	if len(expired) > 0 {
		w.log().Info("expired offers", zap.Int("count", len(expired)))
	}
	if err != nil {
		return fmt.Errorf("expire offers: %w", err)
	}
	return nil
}

func (w *Worker) closeRequests(ctx context.Context, now time.Time) error {
	closed, err := w.Store.CloseExpiredRequests(ctx, now, w.batchSize())
	for _, m := range closed {
		for _, ref := range m.Cancelled {
			w.notify(ctx, models.Notification{
				UserID:  ref.SellerID,
				Title:   "Offer cancelled",
				Message: "The request \"" + m.Request.Title + "\" expired",
				Type:    models.NotificationOfferCancelled,
				Refs:    models.NotificationRefs{OfferID: ref.ID, RequestID: m.Request.ID},
			})
		}
	}
	if len(closed) > 0 {
		w.log().Info("closed expired requests", zap.Int("count", len(closed)))
	}
	if err != nil {
		return fmt.Errorf("close requests: %w", err)
	}
	return nil
}

func (w *Worker) processPayouts(ctx context.Context, now time.Time) error {
	jobs, err := w.Store.ClaimDuePayouts(ctx, now, w.batchSize(), w.lease())
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := w.payout(ctx, job); err != nil {
			w.log().Error("payout bookkeeping failed", zap.String("orderID", job.OrderID), zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) payout(ctx context.Context, job models.PayoutJob) error {
	order, err := w.Store.GetOrder(ctx, job.OrderID)
	if err != nil {
		return w.retryOrFail(ctx, job, fmt.Errorf("load order: %w", err))
	}
	if order.PayoutStatus == models.PayoutCompleted && order.PayoutRef != nil {
		return w.Store.CompletePayout(ctx, job, *order.PayoutRef)
	}

	split := w.Pricing.Breakdown(order.Total())
	// The job id keys the transfer so a payout re-claimed after a crash
	// resolves to the transfer already made.
	ref, err := w.Payouter.Payout(ctx, payments.PayoutRequest{
		Reference: PayoutReference(job),
		OrderID:   order.ID,
		SellerID:  order.SellerID,
		Gross:     split.Gross,
		Fee:       split.Fee,
		Net:       split.Net,
	})
	if err != nil {
		return w.retryOrFail(ctx, job, err)
	}
	if err := w.Store.CompletePayout(ctx, job, ref); err != nil {
		return err
	}

	w.log().Info("payout completed",
		zap.String("orderID", order.ID),
		zap.String("net", split.Net.StringFixed(2)),
		zap.String("ref", ref))
	w.notify(ctx, models.Notification{
		UserID:  order.SellerID,
		Title:   "Payout sent",
		Message: "Your payout of " + split.Net.StringFixed(2) + " has been sent",
		Type:    models.NotificationPayoutSent,
		Refs:    models.NotificationRefs{OrderID: order.ID, OfferID: order.OfferID, RequestID: order.RequestID},
	})
	return nil
}

// PayoutReference is the idempotency key sent with a job's transfer.
func PayoutReference(job models.PayoutJob) string {
	return "payout_" + job.ID
}

func (w *Worker) retryOrFail(ctx context.Context, job models.PayoutJob, cause error) error {
	if job.Attempts >= w.maxAttempts() {
		w.log().Error("payout failed permanently",
			zap.String("orderID", job.OrderID),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause))
		return w.Store.FailPayout(ctx, job, cause.Error())
	}
	next := w.now().Add(w.backoff(job.Attempts))
	w.log().Warn("payout failed, retrying",
		zap.String("orderID", job.OrderID),
		zap.Int("attempts", job.Attempts),
		zap.Time("nextRun", next),
		zap.Error(cause))
	return w.Store.RetryPayout(ctx, job, next, cause.Error())
}

// backoff doubles per attempt from BaseBackoff, capped at MaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	base, ceiling := w.BaseBackoff, w.MaxBackoff
	if base <= 0 {
		base = 30 * time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

func (w *Worker) notify(ctx context.Context, n models.Notification) {
	if w.Notifier != nil {
		w.Notifier.Notify(ctx, n)
	}
}

func (w *Worker) log() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *Worker) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return 20 * time.Second
}

func (w *Worker) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return 20
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return 5
}

func (w *Worker) lease() time.Duration {
	if w.Lease > 0 {
		return w.Lease
	}
	return 5 * time.Minute
}
