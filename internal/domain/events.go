package domain

import "time"

type NotificationKind string

const (
	NotificationPaymentReceived NotificationKind = "payment_received"
	NotificationFulfilled       NotificationKind = "fulfilled"
	NotificationFailed          NotificationKind = "failed"
)

// Notification is the user-facing message for one order event. OwnerID is
// the Telegram chat the message goes to.
type Notification struct {
	OrderID   string           `json:"order_id"`
	OwnerID   string           `json:"owner_id"`
	Product   string           `json:"product"`
	Kind      NotificationKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
}

type DispatchRequestedEvent struct {
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}
