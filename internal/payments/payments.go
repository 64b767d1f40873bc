package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.paystack.co"
	EventChargeSuccess = "charge.success"
	StatusSuccess      = "success"
)

// Paystack talks to the Paystack transaction API with a secret key.
type Paystack struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewPaystack(baseURL, secretKey string, timeout time.Duration) *Paystack {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Paystack{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type InitializeParams struct {
	Email       string
	AmountMinor int64
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type Initialization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Transaction struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	AmountMinor     int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Channel         string          `json:"channel"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          *time.Time      `json:"paid_at"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (t *Transaction) Succeeded() bool {
	return t.Status == StatusSuccess
}

// OrderID reads metadata.orderId. Paystack sends metadata as an object or an
// empty string, so decode failures just mean there is none.
func (t *Transaction) OrderID() string {
	var meta struct {
		OrderID string `json:"orderId"`
	}
	if len(t.Metadata) == 0 || json.Unmarshal(t.Metadata, &meta) != nil {
		return ""
	}
	return meta.OrderID
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) Initialize(ctx context.Context, in InitializeParams) (*Initialization, error) {
	if in.AmountMinor <= 0 {
		return nil, errors.New("amount must be positive")
	}
	body := map[string]any{
		"email":     in.Email,
		"amount":    in.AmountMinor,
		"reference": in.Reference,
	}
	if in.CallbackURL != "" {
		body["callback_url"] = in.CallbackURL
	}
	if len(in.Metadata) > 0 {
		body["metadata"] = in.Metadata
	}

	var out Initialization
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, errors.New("missing reference")
	}
	var out Transaction
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Paystack) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			return fmt.Errorf("paystack http status %d: %s", resp.StatusCode, env.Message)
		}
		msg := strings.TrimSpace(string(raw))
		if msg != "" {
			return fmt.Errorf("paystack http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("paystack http status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode paystack response: %w", err)
	}
	if !env.Status {
		return fmt.Errorf("paystack: %s", env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
