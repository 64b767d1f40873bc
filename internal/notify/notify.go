package notify

import (
	"context"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const EventNotification = "notification"

type Repository interface {
	Insert(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]models.Notification, int64, error)
	MarkRead(ctx context.Context, userID, id string) (*models.Notification, error)
}

type Pusher interface {
	SendToUser(userID, event string, payload any) error
}

// Service persists notifications and pushes them to connected clients.
type Service struct {
	Store Repository
	Push  Pusher
	Log   *zap.Logger
}

// Notify is best-effort: failures are logged and never reach the caller, and
// a failed insert does not stop the realtime push.
func (s *Service) Notify(ctx context.Context, n models.Notification) {
	if n.UserID == "" {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	if s.Store != nil {
		if err := s.Store.Insert(ctx, &n); err != nil {
			log.Warn("save notification failed",
				zap.String("userID", n.UserID),
				zap.String("type", n.Type),
				zap.Error(err))
		}
	}
	if s.Push != nil {
		if err := s.Push.SendToUser(n.UserID, EventNotification, n); err != nil {
			log.Warn("push notification failed",
				zap.String("userID", n.UserID),
				zap.String("type", n.Type),
				zap.Error(err))
		}
	}
}

func (s *Service) List(ctx context.Context, caller models.Caller, unreadOnly bool, page store.Page) ([]models.Notification, int64, error) {
	page = store.NewPage(page.Page, page.Limit)
	return s.Store.ListForUser(ctx, caller.UserID, unreadOnly, page.Page, page.Limit)
}

func (s *Service) MarkRead(ctx context.Context, caller models.Caller, id string) (*models.Notification, error) {
	return s.Store.MarkRead(ctx, caller.UserID, id)
}
