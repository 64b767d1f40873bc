package notify

import (
	"context"
	"errors"
	"testing"

	"campusmarket/internal/models"
	"campusmarket/internal/store"
)

type memRepo struct {
	items     []models.Notification
	insertErr error
}

func (m *memRepo) Insert(_ context.Context, n *models.Notification) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.items = append(m.items, *n)
	return nil
}

func (m *memRepo) ListForUser(_ context.Context, userID string, unreadOnly bool, page, limit int) ([]models.Notification, int64, error) {
	var out []models.Notification
	for _, n := range m.items {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) MarkRead(_ context.Context, userID, id string) (*models.Notification, error) {
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].IsRead = true
			return &m.items[i], nil
		}
	}
	return nil, ErrNotFound
}

type pushCall struct {
	userID string
	event  string
}

type fakePusher struct {
	calls []pushCall
	err   error
}

func (f *fakePusher) SendToUser(userID, event string, _ any) error {
	f.calls = append(f.calls, pushCall{userID, event})
	return f.err
}

func TestNotifyPersistsAndPushes(t *testing.T) {
	repo := &memRepo{}
	push := &fakePusher{}
	s := &Service{Store: repo, Push: push}

	s.Notify(context.Background(), models.Notification{UserID: "u1", Type: models.NotificationOfferReceived, Title: "New offer"})

	if len(repo.items) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(repo.items))
	}
	if repo.items[0].ID == "" || repo.items[0].CreatedAt.IsZero() {
		t.Error("expected id and timestamp to be assigned")
	}
	if len(push.calls) != 1 || push.calls[0].userID != "u1" || push.calls[0].event != EventNotification {
		t.Errorf("unexpected push calls %+v", push.calls)
	}
}

func TestNotifySwallowsFailures(t *testing.T) {
	repo := &memRepo{insertErr: errors.New("mongo down")}
	push := &fakePusher{err: errors.New("hub gone")}
	s := &Service{Store: repo, Push: push}

	s.Notify(context.Background(), models.Notification{UserID: "u1"})

	if len(push.calls) != 1 {
		t.Error("push should still be attempted after a failed insert")
	}
}

func TestNotifySkipsMissingUser(t *testing.T) {
	repo := &memRepo{}
	s := &Service{Store: repo}
	s.Notify(context.Background(), models.Notification{})
	if len(repo.items) != 0 {
		t.Error("notification without a user must be dropped")
	}
}

func TestMarkReadOwnOnly(t *testing.T) {
	repo := &memRepo{items: []models.Notification{{ID: "n1", UserID: "u1"}}}
	s := &Service{Store: repo}

	if _, err := s.MarkRead(context.Background(), models.Caller{UserID: "u2"}, "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	n, err := s.MarkRead(context.Background(), models.Caller{UserID: "u1"}, "n1")
	if err != nil || !n.IsRead {
		t.Fatalf("expected read notification, got %+v %v", n, err)
	}

	unread, total, err := s.List(context.Background(), models.Caller{UserID: "u1"}, true, store.Page{})
	if err != nil || total != 0 || len(unread) != 0 {
		t.Errorf("expected no unread notifications, got %d (%v)", total, err)
	}
}
