// Package policy holds the per-resource authorization rules. Rules only look
// at the Principal decoded from the caller's token; they never touch the
// database. Visibility rules return predicates that repositories push into
// their queries instead of filtering results in memory.
package policy

import (
	"github.com/iliyamo/patient-recovery/internal/model"
)

// Principal is the authenticated caller as described by the token claims.
// Roles are a snapshot taken at login.
type Principal struct {
	UserID   uint64   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAny reports whether the principal holds at least one of roles.
func (p Principal) HasAny(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// Staff is every role allowed to manage patients.
var Staff = []string{model.RoleAdmin, model.RoleDoctor, model.RoleNurse}

// PatientScope returns the doctor id a patient query must be restricted to,
// or nil when the caller may see every patient. Admin and Nurse see all
// rows; a caller whose only staff role is Doctor sees their own patients.
func PatientScope(p Principal) *uint64 {
	if p.HasAny(model.RoleAdmin, model.RoleNurse) {
		return nil
	}
	if p.HasRole(model.RoleDoctor) {
		id := p.UserID
		return &id
	}
	// Not staff at all; route guards keep these callers out, but never
	// widen the scope if one gets through.
	none := uint64(0)
	return &none
}

// PatientFilter applies the caller's scope on top of the requested filter.
// A Doctor-scoped caller cannot override the doctor id.
func PatientFilter(p Principal, requested model.PatientFilter) model.PatientFilter {
	if scope := PatientScope(p); scope != nil {
		requested.DoctorID = scope
	}
	return requested
}

// CreateDoctorID decides the doctor a new patient is assigned to. Doctors
// always own what they create; Admin and Nurse keep the id they supplied.
func CreateDoctorID(p Principal, requested *uint64) *uint64 {
	if scope := PatientScope(p); scope != nil {
		return scope
	}
	return requested
}

// CanManagePatients reports whether p may create, update or delete patients.
func CanManagePatients(p Principal) bool {
	return p.HasAny(Staff...)
}

// CanAssignDoctor reports whether p may reassign a patient's doctor.
func CanAssignDoctor(p Principal) bool {
	return p.HasRole(model.RoleAdmin)
}

// CanReadDiagnoses reports whether a caller may read diagnoses. p is nil for
// anonymous callers, who are admitted only when publicRead is set.
func CanReadDiagnoses(p *Principal, publicRead bool) bool {
	if p == nil {
		return publicRead
	}
	return publicRead || p.HasAny(Staff...)
}

// CanWriteDiagnoses reports whether p may create, update or delete diagnoses.
func CanWriteDiagnoses(p Principal) bool {
	return p.HasRole(model.RoleDoctor)
}

// CanAdministerUsers covers the user listing, role changes and the doctors
// listing.
func CanAdministerUsers(p Principal) bool {
	return p.HasRole(model.RoleAdmin)
}
