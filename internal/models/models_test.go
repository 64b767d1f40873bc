package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOfferTransitions(t *testing.T) {
	targets := []OfferStatus{OfferAccepted, OfferRejected, OfferWithdrawn, OfferCancelled}
	for _, to := range targets {
		o := &Offer{Status: OfferPending}
		if !o.CanTransition(to) {
			t.Errorf("pending -> %s should be allowed", to)
		}
	}
	for _, from := range targets {
		for _, to := range append(targets, OfferPending) {
			o := &Offer{Status: from}
			if o.CanTransition(to) {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
	if (&Offer{Status: OfferPending}).CanTransition(OfferPending) {
		t.Error("pending -> pending should be rejected")
	}
}

func TestOfferApplyExpiry(t *testing.T) {
	now := time.Now()
	expired := &Offer{Status: OfferPending, ExpiresAt: now.Add(-time.Minute)}
	if !expired.ApplyExpiry(now) {
		t.Fatal("expected expired pending offer to flip")
	}
	if expired.Status != OfferCancelled {
		t.Errorf("expected cancelled, got %s", expired.Status)
	}

	live := &Offer{Status: OfferPending, ExpiresAt: now.Add(time.Hour)}
	if live.ApplyExpiry(now) || live.Status != OfferPending {
		t.Error("unexpired offer should stay pending")
	}

	accepted := &Offer{Status: OfferAccepted, ExpiresAt: now.Add(-time.Hour)}
	if accepted.ApplyExpiry(now) || accepted.Status != OfferAccepted {
		t.Error("accepted offer should not be cancelled by expiry")
	}
}

func TestRequestTransitions(t *testing.T) {
	open := &Request{Status: RequestOpen}
	if !open.CanTransition(RequestFulfilled) || !open.CanTransition(RequestClosed) {
		t.Error("open request should move to fulfilled or closed")
	}
	for _, from := range []RequestStatus{RequestFulfilled, RequestClosed} {
		r := &Request{Status: from}
		for _, to := range []RequestStatus{RequestOpen, RequestFulfilled, RequestClosed} {
			if r.CanTransition(to) {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestRequestApplyExpiry(t *testing.T) {
	now := time.Now()
	r := &Request{Status: RequestOpen, ExpiresAt: now.Add(-time.Second), Settings: DefaultRequestSettings()}
	if !r.ApplyExpiry(now) || r.Status != RequestClosed {
		t.Fatal("expired auto-close request should close")
	}

	manual := &Request{Status: RequestOpen, ExpiresAt: now.Add(-time.Second)}
	if manual.ApplyExpiry(now) {
		t.Error("request without autoClose should stay open")
	}
}

func TestValidateOfferAmount(t *testing.T) {
	cases := map[string]bool{
		"0":          false,
		"0.001":      false,
		"0.01":       true,
		"4500":       true,
		"1000000":    true,
		"1000000.01": false,
		"-5":         false,
	}
	for in, ok := range cases {
		err := ValidateOfferAmount(decimal.RequireFromString(in))
		if ok && err != nil {
			t.Errorf("amount %s: unexpected error %v", in, err)
		}
		if !ok && err == nil {
			t.Errorf("amount %s: expected error", in)
		}
	}
}

func TestValidateRequestFieldsAggregates(t *testing.T) {
	err := ValidateRequestFields("", decimal.NewFromInt(2_000_000), Priority("whenever"), 6)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 4 {
		t.Errorf("expected 4 problems, got %d: %v", len(verrs), verrs)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected aggregated message, got %q", err.Error())
	}

	if err := ValidateRequestFields("Need textbook", decimal.NewFromInt(5000), PriorityHigh, 5); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
	if err := ValidateRequestFields("Free stuff", decimal.Zero, "", 0); err != nil {
		t.Errorf("zero desired price should be valid, got %v", err)
	}
}

func TestRequestPopularity(t *testing.T) {
	cases := []struct {
		views  int64
		offers int
		want   string
	}{
		{150, 0, PopularityHot},
		{0, 12, PopularityHot},
		{60, 1, PopularityPopular},
		{5, 0, PopularityNew},
		{20, 2, ""},
	}
	for _, tc := range cases {
		r := &Request{Analytics: RequestAnalytics{Views: tc.views, OffersCount: tc.offers}}
		if got := r.Popularity(); got != tc.want {
			t.Errorf("views=%d offers=%d: expected %q, got %q", tc.views, tc.offers, tc.want, got)
		}
	}
}

func TestOrderDeliveryGuards(t *testing.T) {
	o := &Order{Status: OrderPending}
	if err := o.CanConfirmDelivery(); err != ErrOrderNotPaid {
		t.Errorf("expected ErrOrderNotPaid, got %v", err)
	}
	o.IsPaid = true
	o.Status = OrderPaid
	if err := o.CanConfirmDelivery(); err != nil {
		t.Errorf("paid order should be confirmable, got %v", err)
	}
	o.Status = OrderDelivered
	if err := o.CanConfirmDelivery(); err != ErrOrderAlreadyDelivered {
		t.Errorf("expected ErrOrderAlreadyDelivered, got %v", err)
	}
	if err := o.CanInitializePayment(); err != ErrOrderAlreadyPaid {
		t.Errorf("expected ErrOrderAlreadyPaid, got %v", err)
	}
}

func TestNewOrderFromOffer(t *testing.T) {
	offer := &Offer{ID: "offer-1", RequestID: "req-1", SellerID: "s1", Amount: decimal.NewFromInt(4500)}
	order := NewOrderFromOffer("order-1", offer, "b1")
	if order.BuyerID != "b1" || order.SellerID != "s1" || order.OfferID != "offer-1" {
		t.Errorf("unexpected parties: %+v", order)
	}
	if !order.Amount.Equal(decimal.NewFromInt(4500)) {
		t.Errorf("expected amount 4500, got %s", order.Amount)
	}
	if order.Status != OrderPending || order.IsPaid || order.PaymentGateway != DefaultPaymentGateway {
		t.Errorf("unexpected initial state: %+v", order)
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits(decimal.RequireFromString("4500.555")); got != 450056 {
		t.Errorf("expected 450056, got %d", got)
	}
}
