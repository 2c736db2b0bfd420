package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scriptoria-app/scriptoria/internal/model"
)

// AuditRepo is the PostgreSQL implementation of repository.AuditRepository.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates an audit repository backed by the given pool.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append inserts one audit entry. Detail is serialized to JSON; an
// unserializable detail degrades to an empty object rather than losing the row.
func (r *AuditRepo) Append(ctx context.Context, entry *model.AuditEntry) error {
	detail := []byte("{}")
	if entry.Detail != nil {
		if b, err := json.Marshal(entry.Detail); err == nil {
			detail = b
		}
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO audit_log (id, account_id, action, resource, resource_id, outcome, detail, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AccountID, entry.Action, entry.Resource, entry.ResourceID,
		entry.Outcome, detail, entry.IP, entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
