package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestInitialize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer key, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout/abc","access_code":"abc","reference":"ord_1_2"}}`))
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test", time.Second)
	session, err := p.Initialize(context.Background(), InitializeParams{
		Email:       "buyer@uni.edu",
		AmountMinor: 450000,
		Reference:   "ord_1_2",
		Metadata:    map[string]any{"orderId": "1"},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if session.AuthorizationURL != "https://checkout/abc" || session.Reference != "ord_1_2" {
		t.Errorf("unexpected initialization %+v", session)
	}
	if got["amount"].(float64) != 450000 {
		t.Errorf("expected amount in kobo, got %v", got["amount"])
	}
	if got["metadata"].(map[string]any)["orderId"] != "1" {
		t.Errorf("expected orderId metadata, got %v", got["metadata"])
	}
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/ord_1_2" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":true,"message":"ok","data":{"reference":"ord_1_2","status":"success","amount":450000,"currency":"NGN","metadata":{"orderId":"1"}}}`))
	}))
	defer srv.Close()

	tx, err := NewPaystack(srv.URL, "sk_test", time.Second).Verify(context.Background(), "ord_1_2")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !tx.Succeeded() || tx.AmountMinor != 450000 || tx.OrderID() != "1" {
		t.Errorf("unexpected transaction %+v", tx)
	}
}

func TestGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	_, err := NewPaystack(srv.URL, "bad", time.Second).Verify(context.Background(), "x")
	if err == nil || err.Error() != "paystack http status 400: Invalid key" {
		t.Fatalf("expected gateway message in error, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	if _, err := NewPaystack(srv.URL, "sk", 50*time.Millisecond).Verify(context.Background(), "x"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestEmptyMetadata(t *testing.T) {
	tx := Transaction{Metadata: json.RawMessage(`""`)}
	if tx.OrderID() != "" {
		t.Errorf("expected no order id, got %q", tx.OrderID())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"r"}}`)
	sig := Sign("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("secret", body, "deadbeef") {
		t.Error("bad signature accepted")
	}
	if VerifySignature("other", body, sig) {
		t.Error("signature under another secret accepted")
	}
	if VerifySignature("", body, Sign("", body)) {
		t.Error("empty secret must never verify")
	}
	if VerifySignature("secret", append(body, ' '), sig) {
		t.Error("tampered body accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"event":"charge.success","data":{"reference":"ord_9_1","status":"success","amount":100,"metadata":{"orderId":"9"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Event != EventChargeSuccess || ev.Data.OrderID() != "9" || ev.Data.AmountMinor != 100 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSimulatedPayouter(t *testing.T) {
	req := PayoutRequest{
		Reference: "payout_j1",
		OrderID:   "o1",
		Gross:     decimal.NewFromInt(100),
		Net:       decimal.NewFromInt(97),
		Fee:       decimal.NewFromInt(3),
	}
	ref, err := SimulatedPayouter{}.Payout(context.Background(), req)
	if err != nil || len(ref) < 4 || ref[:3] != "po_" {
		t.Fatalf("unexpected payout ref %q err %v", ref, err)
	}

	again, err := SimulatedPayouter{}.Payout(context.Background(), req)
	if err != nil || again != ref {
		t.Fatalf("retried payout should report the same transfer, got %q and %q", ref, again)
	}
	req.Reference = "payout_j2"
	if other, _ := (SimulatedPayouter{}).Payout(context.Background(), req); other == ref {
		t.Fatalf("distinct payouts must not share a transfer reference")
	}
	if _, err := (SimulatedPayouter{}).Payout(context.Background(), PayoutRequest{OrderID: "o1"}); err == nil {
		t.Error("expected missing reference to be refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (SimulatedPayouter{}).Payout(ctx, PayoutRequest{Reference: "payout_j3"}); err == nil {
		t.Error("expected cancelled context to fail payout")
	}
}
