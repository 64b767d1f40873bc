package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestClosed    RequestStatus = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

const (
	MaxRequestImages   = 5
	MaxTitleLength     = 200
	MaxRequestLifetime = 365 * 24 * time.Hour
)

var (
	MinDesiredPrice = decimal.Zero
	MaxDesiredPrice = decimal.NewFromInt(1_000_000)
)

type RequestAnalytics struct {
	Views               int64    `json:"views"`
	OffersCount         int      `json:"offersCount"`
	ResponseTimeMinutes *float64 `json:"responseTime,omitempty"`
	FulfillmentRate     *float64 `json:"fulfillmentRate,omitempty"`
}

type RequestSettings struct {
	AllowOffers      bool `json:"allowOffers"`
	NotifyOnOffer    bool `json:"notifyOnOffer"`
	AutoClose        bool `json:"autoClose"`
	PublicVisibility bool `json:"publicVisibility"`
}

func DefaultRequestSettings() RequestSettings {
	return RequestSettings{AllowOffers: true, NotifyOnOffer: true, AutoClose: true, PublicVisibility: true}
}

type Request struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	CategoryID   *string          `json:"category,omitempty"`
	RequesterID  string           `json:"requester"`
	CampusID     *string          `json:"campus,omitempty"`
	Status       RequestStatus    `json:"status"`
	DesiredPrice decimal.Decimal  `json:"desiredPrice"`
	Priority     Priority         `json:"priority"`
	Tags         []string         `json:"tags"`
	Location     string           `json:"location"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	Images       []string         `json:"images"`
	Analytics    RequestAnalytics `json:"analytics"`
	Settings     RequestSettings  `json:"settings"`
	History      []HistoryEntry   `json:"history,omitempty"`
	Version      int              `json:"version"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func (r *Request) IsOwner(userID string) bool {
	return r.RequesterID == userID
}

// CanTransition allows only open→fulfilled and open→closed.
func (r *Request) CanTransition(to RequestStatus) bool {
	return r.Status == RequestOpen && (to == RequestFulfilled || to == RequestClosed)
}

func (r *Request) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ApplyExpiry closes an expired open request when auto-close is enabled.
func (r *Request) ApplyExpiry(now time.Time) bool {
	if r.Status != RequestOpen || !r.Settings.AutoClose || !r.IsExpired(now) {
		return false
	}
	r.Status = RequestClosed
	return true
}

// Popularity tiers used by list filtering.
const (
	PopularityHot     = "hot"
	PopularityPopular = "popular"
	PopularityNew     = "new"
)

func (r *Request) Popularity() string {
	a := r.Analytics
	switch {
	case a.Views >= 100 || a.OffersCount >= 10:
		return PopularityHot
	case a.Views >= 50 || a.OffersCount >= 5:
		return PopularityPopular
	case a.Views < 10 && a.OffersCount == 0:
		return PopularityNew
	}
	return ""
}

func ValidateDesiredPrice(v decimal.Decimal) error {
	if v.LessThan(MinDesiredPrice) || v.GreaterThan(MaxDesiredPrice) {
		return fmt.Errorf("desiredPrice must be between %s and %s", MinDesiredPrice, MaxDesiredPrice)
	}
	return nil
}

// ValidateRequestFields checks the shared create/update field rules.
func ValidateRequestFields(title string, price decimal.Decimal, priority Priority, images int) error {
	var errs ValidationErrors
	title = strings.TrimSpace(title)
	if title == "" {
		errs.Add("title is required")
	} else if len(title) > MaxTitleLength {
		errs.Add(fmt.Sprintf("title cannot exceed %d characters", MaxTitleLength))
	}
	if err := ValidateDesiredPrice(price); err != nil {
		errs.Add(err.Error())
	}
	if priority != "" && !priority.Valid() {
		errs.Add("priority must be one of low, medium, high, urgent")
	}
	if images > MaxRequestImages {
		errs.Add(fmt.Sprintf("a request can have at most %d images", MaxRequestImages))
	}
	return errs.Err()
}
