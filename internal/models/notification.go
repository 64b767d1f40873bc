package models

import "time"

const (
	NotificationOfferReceived  = "offer_received"
	NotificationOfferAccepted  = "offer_accepted"
	NotificationOfferRejected  = "offer_rejected"
	NotificationOfferWithdrawn = "offer_withdrawn"
	NotificationOfferCancelled = "offer_cancelled"
	NotificationOfferViewed    = "offer_viewed"
	NotificationOrderCreated   = "order_created"
	NotificationOrderPaid      = "order_paid"
	NotificationOrderDelivered = "order_delivered"
	NotificationPayoutSent     = "payout_completed"
)

type NotificationRefs struct {
	OfferID   string `json:"offer,omitempty"`
	RequestID string `json:"request,omitempty"`
	OrderID   string `json:"order,omitempty"`
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      string           `json:"type"`
	Refs      NotificationRefs `json:"refs"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}
