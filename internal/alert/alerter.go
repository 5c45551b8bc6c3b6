package alert

import (
	"context"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/model"
)

// Recipients resolves who must hear about an anomaly.
type Recipients interface {
	AlertRecipients(ctx context.Context) ([]model.AlertRecipient, error)
}

// Delivery is one message addressed to one recipient.
type Delivery struct {
	PatientID uint64
	Recipient model.AlertRecipient
	Text      string
}

// Sink delivers alerts. Implementations may send inline or enqueue.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Alerter evaluates readings and fans alerts out to a Sink. Raise never
// returns an error: alerting must not affect the write that triggered it.
type Alerter struct {
	recipients Recipients
	sink       Sink
	log        *logging.Entry
}

func NewAlerter(recipients Recipients, sink Sink, log *logging.Entry) *Alerter {
	if log == nil {
		log = logging.Component("alert")
	}
	return &Alerter{recipients: recipients, sink: sink, log: log}
}

// Raise evaluates v and, when anomalous, delivers one message per
// recipient sequentially. It reports how many deliveries were accepted.
func (a *Alerter) Raise(ctx context.Context, v model.VitalRecord) int {
	anomalies := Evaluate(v)
	if len(anomalies) == 0 {
		return 0
	}
	log := a.log.WithFields(logging.Fields{"patient_id": v.PatientID, "anomalies": len(anomalies)})

	rcpts, err := a.recipients.AlertRecipients(ctx)
	if err != nil {
		log.WithError(err).Warn("alert recipients lookup failed")
		return 0
	}
	if len(rcpts) == 0 {
		log.Info("anomalous vitals but no recipient has a bound chat")
		return 0
	}

	text := Message(v.PatientID, anomalies)
	sent := 0
	for _, r := range rcpts {
		if err := a.sink.Deliver(ctx, Delivery{PatientID: v.PatientID, Recipient: r, Text: text}); err != nil {
			log.WithError(err).WithField("user_id", r.UserID).Warn("alert delivery failed")
			continue
		}
		sent++
	}
	log.WithField("delivered", sent).Info("vitals alert raised")
	return sent
}
