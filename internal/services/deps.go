package services

import (
	"context"
	"io"

	"campusmarket/internal/media"
	"campusmarket/internal/models"
	"campusmarket/internal/payments"

	"go.uber.org/zap"
)

// Notifier persists and pushes a notification. Implementations log their own
// failures; callers never see them.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type Broadcaster interface {
	BroadcastCampus(campusID, event string, payload any) error
}

type ImageStore interface {
	Upload(ctx context.Context, name string, r io.Reader) (*media.Asset, error)
	Destroy(ctx context.Context, publicID string) error
}

type PaymentGateway interface {
	Initialize(ctx context.Context, p payments.InitializeParams) (*payments.Initialization, error)
	Verify(ctx context.Context, reference string) (*payments.Transaction, error)
	VerifySignature(body []byte, signature string) bool
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

func logOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
