package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/model"
)

// StoryRepository provides the catalog boundary the document engine needs:
// id+owner addressing, cover presence and publish status.
type StoryRepository interface {
	// Create inserts a new story owned by its author.
	Create(ctx context.Context, s *model.Story) error
	// GetOwned loads a story addressed by id+owner pair.
	GetOwned(ctx context.Context, id, ownerID uuid.UUID) (*model.Story, error)
	// UpdateStatus stores a new lifecycle status and word count.
	UpdateStatus(ctx context.Context, id, ownerID uuid.UUID, status model.StoryStatus, words int, at time.Time) error
	// Publish flips the story to published and stamps the document's publish
	// instant in one transaction.
	Publish(ctx context.Context, id, ownerID uuid.UUID, words int, at time.Time) error
}
