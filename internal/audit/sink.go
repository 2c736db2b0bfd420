// Package audit appends security events to an append-only log.
package audit

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/repository"
)

// Sink records audit entries without ever failing the operation being audited.
// A write failure is logged and swallowed: losing one audit row is preferable
// to failing a login because the log table was briefly unavailable.
type Sink struct {
	repo repository.AuditRepository
	log  *zap.Logger
}

// NewSink creates a sink writing through the given repository.
func NewSink(repo repository.AuditRepository, log *zap.Logger) *Sink {
	return &Sink{repo: repo, log: log}
}

// Record assigns the entry an id and appends it. Errors are swallowed.
func (s *Sink) Record(ctx context.Context, entry *model.AuditEntry) {
	if entry.ID.IsNil() {
		entry.ID = uuid.Must(uuid.NewV4())
	}
	if entry.Outcome == "" {
		entry.Outcome = model.AuditSuccess
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed",
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.Error(err))
	}
}
