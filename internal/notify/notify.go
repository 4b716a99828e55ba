// Package notify derives notification records from site alerts and hands
// them to delivery channels.
package notify

import (
	"context"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

// Message is a rendered notification.
type Message struct {
	NotificationID string          `json:"notification_id"`
	Method         string          `json:"method"`
	Destination    string          `json:"destination"`
	SiteName       string          `json:"site_name,omitempty"`
	Subject        string          `json:"subject"`
	Text           string          `json:"text"`
	Alert          model.SiteAlert `json:"alert"`
}

// Notifier delivers one message. It reports whether the message was
// delivered; undelivered notifications stay pending for a later sweep.
type Notifier interface {
	Notify(ctx context.Context, destination string, msg Message) bool
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, destination string, msg Message) bool

func (f NotifierFunc) Notify(ctx context.Context, destination string, msg Message) bool {
	return f(ctx, destination, msg)
}

var printer = message.NewPrinter(language.English)

// Render builds the message for a pending notification. siteName may be
// empty when the site is no longer available.
func Render(p model.PendingNotification, siteName string) Message {
	a := p.Alert
	where := siteName
	if where == "" {
		where = "your site"
	}

	subject := printer.Sprintf("Fire detected at %s", where)
	text := printer.Sprintf("%s confidence fire detected at %s (%.4f, %.4f) on %s by %s",
		confidenceLabel(a.Confidence), where, a.Latitude, a.Longitude,
		a.EventDate.UTC().Format(time.RFC1123), a.DetectedBy)
	if a.Distance > 0 {
		text += printer.Sprintf(", %.0f m from the boundary", a.Distance)
	}
	text += "."

	return Message{
		NotificationID: p.ID,
		Method:         p.AlertMethod,
		Destination:    p.Destination,
		SiteName:       siteName,
		Subject:        subject,
		Text:           text,
		Alert:          a,
	}
}

func confidenceLabel(c model.Confidence) string {
	switch c {
	case model.ConfidenceHigh:
		return "High"
	case model.ConfidenceLow:
		return "Low"
	default:
		return "Medium"
	}
}
