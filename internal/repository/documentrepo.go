package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/model"
)

// SaveFunc decides what a Save call writes, given the locked pre-write state.
// It returns the document to store and, when the pre-write state should be
// preserved, a revision snapshot to append alongside it.
type SaveFunc func(existing *model.Document, latest *model.Revision) (*model.Document, *model.Revision, error)

// DocumentRepository stores live story documents and their revision history.
type DocumentRepository interface {
	// Get loads the live document for a story; ErrNotFound when none exists yet.
	Get(ctx context.Context, storyID uuid.UUID) (*model.Document, error)
	// Save runs the safe-write cycle in one transaction: it loads the live
	// document (nil when the story has never been saved) and its latest
	// revision (nil when history is empty) under a row lock, asks decide for
	// the document to store plus an optional snapshot, then applies both. An
	// error from decide aborts the transaction without writing anything.
	Save(ctx context.Context, storyID uuid.UUID, decide SaveFunc) (*model.Document, error)
	// LatestRevision returns the most recent revision; ErrNotFound when history
	// is empty.
	LatestRevision(ctx context.Context, storyID uuid.UUID) (*model.Revision, error)
	// ListRevisions returns up to limit revisions ordered by recency.
	ListRevisions(ctx context.Context, storyID uuid.UUID, limit int) ([]model.Revision, error)
}
