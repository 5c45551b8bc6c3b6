package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time of day.  It accepts both
// "2006-01-02" and RFC 3339 on input and always emits "2006-01-02".
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses either a plain date or an RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return NewDate(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return NewDate(t), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns (parseTime=true yields
// time.Time, otherwise the driver hands over bytes).
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.Time = time.Time{}
		return nil
	case time.Time:
		*d = NewDate(v)
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Format(DateLayout), nil
}

// Patient mirrors the `patients` table.  DoctorID is nullable and is
// cleared by the database when the referenced user disappears.
type Patient struct {
	ID            uint64       `json:"id"`
	FullName      string       `json:"fullName"`
	BirthDate     Date         `json:"birthDate"`
	ContactNumber string       `json:"contactNumber"`
	Address       string       `json:"address"`
	PhotoURL      *string      `json:"photoUrl"`
	DoctorID      *uint64      `json:"doctorId"`
	Doctor        *UserSummary `json:"doctor,omitempty"`
}

// PatientSummary is embedded in clinical records.
type PatientSummary struct {
	ID       uint64 `json:"id"`
	FullName string `json:"fullName"`
}

// PatientFilter narrows a patient listing.  Scope restrictions coming from
// the authorization policy are expressed through DoctorID so that they end
// up in the WHERE clause.
type PatientFilter struct {
	Search   string
	DoctorID *uint64
}
