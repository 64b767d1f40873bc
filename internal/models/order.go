package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderPaid       OrderStatus = "paid"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// ImpliesPaid is true for statuses only reachable after payment.
func (s OrderStatus) ImpliesPaid() bool {
	switch s {
	case OrderPaid, OrderProcessing, OrderShipped, OrderDelivered:
		return true
	}
	return false
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

const DefaultPaymentGateway = "paystack"

var (
	ErrOrderNotPaid          = errors.New("order has not been paid")
	ErrOrderAlreadyDelivered = errors.New("order already marked as delivered")
	ErrOrderAlreadyPaid      = errors.New("order is already paid")
)

type Order struct {
	ID             string          `json:"id"`
	OfferID        string          `json:"offer"`
	RequestID      string          `json:"request"`
	BuyerID        string          `json:"buyer"`
	SellerID       string          `json:"seller"`
	ProductID      *string         `json:"product,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Qty            int             `json:"qty"`
	Status         OrderStatus     `json:"status"`
	IsPaid         bool            `json:"isPaid"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	PaymentGateway string          `json:"paymentGateway"`
	PaymentRef     *string         `json:"paymentRef,omitempty"`
	PaymentMeta    map[string]any  `json:"paymentMeta,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	PayoutStatus   PayoutStatus    `json:"payoutStatus"`
	PayoutRef      *string         `json:"payoutRef,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewOrderFromOffer copies the commercial terms of an accepted offer.
func NewOrderFromOffer(id string, offer *Offer, buyerID string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:             id,
		OfferID:        offer.ID,
		RequestID:      offer.RequestID,
		BuyerID:        buyerID,
		SellerID:       offer.SellerID,
		ProductID:      offer.ProductID,
		Amount:         offer.Amount,
		Qty:            1,
		Status:         OrderPending,
		PaymentGateway: DefaultPaymentGateway,
		PayoutStatus:   PayoutPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (o *Order) IsParty(userID string) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

func (o *Order) CanInitializePayment() error {
	if o.IsPaid {
		return ErrOrderAlreadyPaid
	}
	return nil
}

func (o *Order) CanConfirmDelivery() error {
	if !o.IsPaid {
		return ErrOrderNotPaid
	}
	if o.Status == OrderDelivered {
		return ErrOrderAlreadyDelivered
	}
	return nil
}

// Total is amount times quantity.
func (o *Order) Total() decimal.Decimal {
	qty := o.Qty
	if qty <= 0 {
		qty = 1
	}
	return o.Amount.Mul(decimal.NewFromInt(int64(qty)))
}

// MinorUnits converts a major-unit amount (naira) into kobo.
func MinorUnits(v decimal.Decimal) int64 {
	return v.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type PayoutJobStatus string

const (
	PayoutJobQueued PayoutJobStatus = "queued"
	PayoutJobDone   PayoutJobStatus = "done"
	PayoutJobFailed PayoutJobStatus = "failed"
)

type PayoutJob struct {
	ID        string
	OrderID   string
	Status    PayoutJobStatus
	RunAt     time.Time
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
