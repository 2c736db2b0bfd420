package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
)

// StoryRepo is the PostgreSQL implementation of repository.StoryRepository.
type StoryRepo struct {
	db *DB
}

// NewStoryRepo creates a story repository backed by the given pool.
func NewStoryRepo(db *DB) *StoryRepo {
	return &StoryRepo{db: db}
}

// Create inserts a new story owned by its author.
func (r *StoryRepo) Create(ctx context.Context, s *model.Story) error {
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO stories (id, owner_id, title, genre, status, cover_image, words, target_words)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		s.ID, s.OwnerID, s.Title, s.Genre, s.Status, s.CoverImage, s.Words, s.TargetWords,
	)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// GetOwned loads a story addressed by id+owner pair. Stories of other owners
// are indistinguishable from absent ones.
func (r *StoryRepo) GetOwned(ctx context.Context, id, ownerID uuid.UUID) (*model.Story, error) {
	var s model.Story
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, owner_id, title, genre, status, cover_image, words, target_words, created_at, updated_at
		FROM stories
		WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&s.ID, &s.OwnerID, &s.Title, &s.Genre, &s.Status, &s.CoverImage,
		&s.Words, &s.TargetWords, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select story: %w", err)
	}
	return &s, nil
}

// UpdateStatus stores a new lifecycle status and word count.
func (r *StoryRepo) UpdateStatus(ctx context.Context, id, ownerID uuid.UUID, status model.StoryStatus, words int, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE stories
		SET status = $3, words = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2`,
		id, ownerID, status, words, at,
	)
	if err != nil {
		return fmt.Errorf("update story status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Publish flips the story to published and stamps the live document's publish
// instant in one transaction, so the catalog and the document cannot disagree.
func (r *StoryRepo) Publish(ctx context.Context, id, ownerID uuid.UUID, words int, at time.Time) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE stories
		SET status = $3, words = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2`,
		id, ownerID, model.StatusPublished, words, at,
	)
	if err != nil {
		return fmt.Errorf("publish story: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}

	if _, err = tx.Exec(ctx, `
		UPDATE story_documents
		SET published_at = $2, updated_at = $2
		WHERE story_id = $1`,
		id, at,
	); err != nil {
		return fmt.Errorf("stamp document publish time: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
