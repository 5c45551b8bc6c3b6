package model

import "time"

// Diagnosis mirrors the `diagnoses` table.  RecordedAt is stamped by the
// server at creation.
type Diagnosis struct {
	ID             uint64          `json:"id"`
	PatientID      uint64          `json:"patientId"`
	Symptoms       string          `json:"symptoms"`
	Recommendation string          `json:"recommendation"`
	RecordedAt     time.Time       `json:"recordedAt"`
	Patient        *PatientSummary `json:"patient,omitempty"`
}

// VitalRecord mirrors the `vital_records` table.  Temperature is in degrees
// Celsius, pressures in mmHg and pulse in beats per minute.
type VitalRecord struct {
	ID                     uint64          `json:"id"`
	PatientID              uint64          `json:"patientId"`
	Temperature            float64         `json:"temperature"`
	BloodPressureSystolic  int             `json:"bloodPressureSystolic"`
	BloodPressureDiastolic int             `json:"bloodPressureDiastolic"`
	Pulse                  int             `json:"pulse"`
	Notes                  string          `json:"notes"`
	RecordedAt             time.Time       `json:"recordedAt"`
	Patient                *PatientSummary `json:"patient,omitempty"`
}

// RehabilitationLog mirrors the `rehabilitation_logs` table.
type RehabilitationLog struct {
	ID         uint64          `json:"id"`
	PatientID  uint64          `json:"patientId"`
	Activities string          `json:"activities"`
	Notes      string          `json:"notes"`
	LoggedAt   time.Time       `json:"loggedAt"`
	Patient    *PatientSummary `json:"patient,omitempty"`
}

// AuditLog is one append-only row of the `audit_logs` table.
type AuditLog struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClinicalFilter narrows clinical record listings.
type ClinicalFilter struct {
	PatientID *uint64
}
