package model

import "time"

// AlertMethod is a delivery channel configured by a site owner.
type AlertMethod struct {
	ID          string
	UserID      string
	Method      string // email, sms, device, webhook, whatsapp
	Destination string
	IsEnabled   bool
	IsVerified  bool
}

// Notification is one pending or completed delivery of a SiteAlert.
type Notification struct {
	ID          string     `json:"id"`
	SiteAlertID string     `json:"site_alert_id"`
	AlertMethod string     `json:"alert_method"`
	Destination string     `json:"destination"`
	IsDelivered bool       `json:"is_delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PendingNotification joins an undelivered notification with the alert it
// announces, for message rendering.
type PendingNotification struct {
	Notification
	Alert SiteAlert
}
