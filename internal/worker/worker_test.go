package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/payments"
	"campusmarket/internal/pricing"
	"campusmarket/internal/store"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	mu        sync.Mutex
	jobs      []models.PayoutJob
	orders    map[string]*models.Order
	expired   []models.Offer
	closed    []store.RequestMutation
	completed map[string]string
	retried   map[string]time.Time
	failed    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    map[string]*models.Order{},
		completed: map[string]string{},
		retried:   map[string]time.Time{},
		failed:    map[string]string{},
	}
}

func (f *fakeStore) ClaimDuePayouts(_ context.Context, now time.Time, limit int, _ time.Duration) ([]models.PayoutJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PayoutJob
	for i := range f.jobs {
		j := &f.jobs[i]
		if j.Status == models.PayoutJobQueued && !j.RunAt.After(now) && len(out) < limit {
			j.Attempts++
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) setJob(id string, fn func(j *models.PayoutJob)) {
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			fn(&f.jobs[i])
		}
	}
}

func (f *fakeStore) CompletePayout(_ context.Context, job models.PayoutJob, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[job.OrderID] = ref
	f.setJob(job.ID, func(j *models.PayoutJob) { j.Status = models.PayoutJobDone })
	return nil
}

func (f *fakeStore) RetryPayout(_ context.Context, job models.PayoutJob, runAt time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried[job.OrderID] = runAt
	f.setJob(job.ID, func(j *models.PayoutJob) { j.RunAt = runAt })
	return nil
}

func (f *fakeStore) FailPayout(_ context.Context, job models.PayoutJob, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[job.OrderID] = cause
	f.setJob(job.ID, func(j *models.PayoutJob) { j.Status = models.PayoutJobFailed })
	return nil
}

func (f *fakeStore) CancelExpiredOffers(context.Context, time.Time, int) ([]models.Offer, error) {
	out := f.expired
	f.expired = nil
	return out, nil
}

func (f *fakeStore) CloseExpiredRequests(context.Context, time.Time, int) ([]store.RequestMutation, error) {
	out := f.closed
	f.closed = nil
	return out, nil
}

type recordingNotifier struct {
	sent []models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) {
	r.sent = append(r.sent, n)
}

type capturePayouter struct {
	reqs []payments.PayoutRequest
	err  error
}

func (c *capturePayouter) Payout(_ context.Context, req payments.PayoutRequest) (string, error) {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return "", c.err
	}
	return "po_test", nil
}

func deliveredOrder(id string) *models.Order {
	return &models.Order{
		ID:           id,
		OfferID:      "offer-" + id,
		RequestID:    "request-" + id,
		BuyerID:      "buyer",
		SellerID:     "seller",
		Amount:       decimal.NewFromInt(4500),
		Qty:          1,
		Status:       models.OrderDelivered,
		IsPaid:       true,
		PayoutStatus: models.PayoutProcessing,
	}
}

func TestPayoutCompletes(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.orders["o1"] = deliveredOrder("o1")
	st.jobs = []models.PayoutJob{{ID: "j1", OrderID: "o1", Status: models.PayoutJobQueued, RunAt: now.Add(-time.Second)}}

	pay := &capturePayouter{}
	n := &recordingNotifier{}
	w := &Worker{
		Store:    st,
		Payouter: pay,
		Pricing:  pricing.Service{FeePercent: decimal.NewFromInt(5)},
		Notifier: n,
		Now:      func() time.Time { return now },
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if st.completed["o1"] != "po_test" {
		t.Fatalf("expected payout completed, got %v", st.completed)
	}
	if len(pay.reqs) != 1 {
		t.Fatalf("expected one payout, got %d", len(pay.reqs))
	}
	req := pay.reqs[0]
	if req.Reference != "payout_j1" {
		t.Fatalf("expected job-keyed reference, got %q", req.Reference)
	}
	if !req.Fee.Equal(decimal.NewFromInt(225)) || !req.Net.Equal(decimal.NewFromInt(4275)) {
		t.Fatalf("unexpected split fee=%s net=%s", req.Fee, req.Net)
	}
	if len(n.sent) != 1 || n.sent[0].Type != models.NotificationPayoutSent || n.sent[0].UserID != "seller" {
		t.Fatalf("expected payout notification to seller, got %+v", n.sent)
	}

	// A second tick finds nothing due.
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(pay.reqs) != 1 {
		t.Fatalf("payout repeated: %d calls", len(pay.reqs))
	}
}

func TestPayoutRetriesThenFails(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.orders["o1"] = deliveredOrder("o1")
	st.jobs = []models.PayoutJob{{ID: "j1", OrderID: "o1", Status: models.PayoutJobQueued, RunAt: now}}

	w := &Worker{
		Store:       st,
		Payouter:    &capturePayouter{err: errors.New("bank offline")},
		MaxAttempts: 2,
		BaseBackoff: time.Minute,
		Now:         func() time.Time { return now },
	}

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := st.retried["o1"]; !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected retry in 1m, got %v", got)
	}
	if len(st.failed) != 0 {
		t.Fatalf("failed too early")
	}

	now = now.Add(time.Minute)
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.failed["o1"] != "bank offline" {
		t.Fatalf("expected permanent failure, got %v", st.failed)
	}
}

func TestPayoutReferenceStableAcrossRetries(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.orders["o1"] = deliveredOrder("o1")
	st.jobs = []models.PayoutJob{{ID: "j1", OrderID: "o1", Status: models.PayoutJobQueued, RunAt: now}}

	pay := &capturePayouter{err: errors.New("timeout after send")}
	w := &Worker{Store: st, Payouter: pay, BaseBackoff: time.Minute, Now: func() time.Time { return now }}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	pay.err = nil
	now = now.Add(time.Minute)
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(pay.reqs) != 2 {
		t.Fatalf("expected two attempts, got %d", len(pay.reqs))
	}
	if pay.reqs[0].Reference != pay.reqs[1].Reference {
		t.Fatalf("retry changed the payout reference: %q then %q", pay.reqs[0].Reference, pay.reqs[1].Reference)
	}
}

func TestPayoutMissingOrderRetries(t *testing.T) {
	now := time.Now().UTC()
	st := newFakeStore()
	st.jobs = []models.PayoutJob{{ID: "j1", OrderID: "gone", Status: models.PayoutJobQueued, RunAt: now}}
	w := &Worker{Store: st, Payouter: &capturePayouter{}, Now: func() time.Time { return now }}

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := st.retried["gone"]; !ok {
		t.Fatalf("expected retry for missing order")
	}
}

func TestBackoff(t *testing.T) {
	w := &Worker{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 8 * time.Second, 5: 10 * time.Second, 9: 10 * time.Second}
	for attempt, want := range cases {
		if got := w.backoff(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestExpiryNotifiesSellers(t *testing.T) {
	st := newFakeStore()
	st.expired = []models.Offer{{ID: "of1", RequestID: "r1", SellerID: "s1"}}
	st.closed = []store.RequestMutation{{
		Request:   &models.Request{ID: "r2", Title: "Calculus textbook"},
		Cancelled: []store.OfferRef{{ID: "of2", SellerID: "s2"}, {ID: "of3", SellerID: "s3"}},
	}}
	n := &recordingNotifier{}
	w := &Worker{Store: st, Payouter: &capturePayouter{}, Notifier: n}

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(n.sent) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(n.sent))
	}
	users := map[string]bool{}
	for _, m := range n.sent {
		users[m.UserID] = true
		if m.Type != models.NotificationOfferCancelled {
			t.Errorf("unexpected type %s", m.Type)
		}
	}
	for _, u := range []string{"s1", "s2", "s3"} {
		if !users[u] {
			t.Errorf("seller %s not notified", u)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w := &Worker{Store: newFakeStore(), Payouter: &capturePayouter{}, Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}
