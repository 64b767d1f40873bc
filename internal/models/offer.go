package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
	OfferCancelled OfferStatus = "cancelled"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferPending, OfferAccepted, OfferRejected, OfferWithdrawn, OfferCancelled:
		return true
	}
	return false
}

// Live statuses are the ones counted in Request.Analytics.OffersCount.
func (s OfferStatus) Live() bool {
	return s == OfferPending || s == OfferAccepted
}

const (
	DefaultOfferTTL    = 7 * 24 * time.Hour
	MaxOfferExtension  = 30 * 24 * time.Hour
	MaxOfferMessage    = 1000
	MaxBulkOfferAction = 50
)

var (
	MinOfferAmount = decimal.RequireFromString("0.01")
	MaxOfferAmount = decimal.NewFromInt(1_000_000)
)

type OfferAnalytics struct {
	Views               int64      `json:"views"`
	LastViewed          *time.Time `json:"lastViewed,omitempty"`
	ResponseTimeMinutes *float64   `json:"responseTime,omitempty"`
	AcceptanceRate      *float64   `json:"acceptanceRate,omitempty"`
}

type OfferSettings struct {
	AutoExpire         bool `json:"autoExpire"`
	NotifyOnView       bool `json:"notifyOnView"`
	AllowCounterOffers bool `json:"allowCounterOffers"`
}

func DefaultOfferSettings() OfferSettings {
	return OfferSettings{AutoExpire: true, NotifyOnView: false, AllowCounterOffers: true}
}

type Offer struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request"`
	ProductID *string         `json:"product,omitempty"`
	SellerID  string          `json:"seller"`
	Amount    decimal.Decimal `json:"amount"`
	Message   string          `json:"message"`
	Status    OfferStatus     `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Analytics OfferAnalytics  `json:"analytics"`
	Settings  OfferSettings   `json:"settings"`
	History   []HistoryEntry  `json:"history,omitempty"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CanTransition: pending is the only state with outgoing edges.
func (o *Offer) CanTransition(to OfferStatus) bool {
	return o.Status == OfferPending && to != OfferPending && to.Valid()
}

func (o *Offer) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// ApplyExpiry flips an expired pending offer to cancelled. Every save path
// runs it so an expired offer never stays pending once written.
func (o *Offer) ApplyExpiry(now time.Time) bool {
	if o.Status != OfferPending || !o.IsExpired(now) {
		return false
	}
	o.Status = OfferCancelled
	o.Reason = "expired"
	return true
}

func ValidateOfferAmount(v decimal.Decimal) error {
	if v.LessThan(MinOfferAmount) || v.GreaterThan(MaxOfferAmount) {
		return fmt.Errorf("amount must be between %s and %s", MinOfferAmount, MaxOfferAmount)
	}
	return nil
}

func ValidateOfferFields(amount decimal.Decimal, message string) error {
	var errs ValidationErrors
	if err := ValidateOfferAmount(amount); err != nil {
		errs.Add(err.Error())
	}
	if len(message) > MaxOfferMessage {
		errs.Add(fmt.Sprintf("message cannot exceed %d characters", MaxOfferMessage))
	}
	return errs.Err()
}

// Acceptance-rate buckets used by list filtering.
const (
	AcceptanceLow    = "low"
	AcceptanceMedium = "medium"
	AcceptanceHigh   = "high"
)

// AcceptanceBounds returns the [min, max) range of a bucket. Rates never
// exceed 1, so the high bucket's upper bound is open-ended.
func AcceptanceBounds(bucket string) (float64, float64, bool) {
	switch bucket {
	case AcceptanceLow:
		return 0, 0.3, true
	case AcceptanceMedium:
		return 0.3, 0.7, true
	case AcceptanceHigh:
		return 0.7, 2, true
	}
	return 0, 0, false
}
