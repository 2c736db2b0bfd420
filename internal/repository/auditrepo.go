package repository

import (
	"context"

	"github.com/scriptoria-app/scriptoria/internal/model"
)

// AuditRepository appends immutable audit entries.
type AuditRepository interface {
	// Append inserts one entry. The log is append-only; nothing updates or
	// deletes rows.
	Append(ctx context.Context, entry *model.AuditEntry) error
}
