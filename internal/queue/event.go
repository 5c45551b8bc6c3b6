// Package queue carries vitals alerts over RabbitMQ so Telegram delivery
// runs outside the request that recorded the reading.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/patient-recovery/internal/alert"
	"github.com/iliyamo/patient-recovery/internal/model"
)

// VitalAlertEvent is one alert addressed to one recipient.  ID correlates
// the publish and consume log lines.
type VitalAlertEvent struct {
	ID        string    `json:"id"`
	PatientID uint64    `json:"patient_id"`
	UserID    uint64    `json:"user_id"`
	Username  string    `json:"username"`
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text"`
	RaisedAt  time.Time `json:"raised_at"`
}

// NewVitalAlertEvent wraps d in an event stamped with a fresh id.
func NewVitalAlertEvent(d alert.Delivery, now time.Time) VitalAlertEvent {
	return VitalAlertEvent{
		ID:        uuid.NewString(),
		PatientID: d.PatientID,
		UserID:    d.Recipient.UserID,
		Username:  d.Recipient.Username,
		ChatID:    d.Recipient.ChatID,
		Text:      d.Text,
		RaisedAt:  now.UTC(),
	}
}

// Delivery converts the event back into what a Sink consumes.
func (e VitalAlertEvent) Delivery() alert.Delivery {
	return alert.Delivery{
		PatientID: e.PatientID,
		Recipient: model.AlertRecipient{UserID: e.UserID, Username: e.Username, ChatID: e.ChatID},
		Text:      e.Text,
	}
}
