// Package alert decides whether a vital-sign reading is anomalous and hands
// the resulting message to every staff member who can be reached on
// Telegram.
package alert

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iliyamo/patient-recovery/internal/model"
)

// Clinical thresholds.
const (
	MaxTemperature = 39.0 // °C, inclusive
	MaxPulse       = 120  // bpm, exclusive
	MinPulse       = 50   // bpm, exclusive
	MaxSystolic    = 180  // mmHg, exclusive
	MaxDiastolic   = 110  // mmHg, exclusive
)

// Evaluate returns one line per anomaly in v, always in the order
// temperature, pulse, blood pressure. A normal reading yields nil.
func Evaluate(v model.VitalRecord) []string {
	var out []string
	if v.Temperature >= MaxTemperature {
		out = append(out, fmt.Sprintf("high temperature: %s°C", strconv.FormatFloat(v.Temperature, 'f', -1, 64)))
	}
	if v.Pulse > MaxPulse || v.Pulse < MinPulse {
		out = append(out, fmt.Sprintf("abnormal pulse: %d bpm", v.Pulse))
	}
	if v.BloodPressureSystolic > MaxSystolic || v.BloodPressureDiastolic > MaxDiastolic {
		out = append(out, fmt.Sprintf("high blood pressure: %d/%d mmHg",
			v.BloodPressureSystolic, v.BloodPressureDiastolic))
	}
	return out
}

// Message combines anomalies into the text sent to recipients.
func Message(patientID uint64, anomalies []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Alert for patient ID %d:", patientID)
	for _, a := range anomalies {
		b.WriteString("\n• ")
		b.WriteString(a)
	}
	return b.String()
}
