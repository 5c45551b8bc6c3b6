package repository

import (
	"context"
	"database/sql"
	"strings"
)

// unknownActor is recorded when a mutation carries no username.
const unknownActor = "Unknown"

// AuditRepo appends rows to the audit trail. There is deliberately no
// update or delete path.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Log appends one entry stamped with the database clock.
func (r *AuditRepo) Log(ctx context.Context, username, action string) error {
	return appendAudit(ctx, r.DB, username, action)
}

// appendAudit is shared by the repositories that audit inside their own
// transaction so the trail and the mutation commit or fail together.
func appendAudit(ctx context.Context, ex execer, username, action string) error {
	if strings.TrimSpace(username) == "" {
		username = unknownActor
	}
	_, err := ex.ExecContext(ctx,
		"INSERT INTO audit_logs (username, action, created_at) VALUES (?, ?, UTC_TIMESTAMP())",
		username, action)
	return err
}
