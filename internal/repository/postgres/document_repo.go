package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/repository"
)

// DocumentRepo is the PostgreSQL implementation of repository.DocumentRepository.
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a document repository backed by the given pool.
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Get loads the live document for a story.
func (r *DocumentRepo) Get(ctx context.Context, storyID uuid.UUID) (*model.Document, error) {
	var (
		doc      model.Document
		chapters []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT story_id, chapters, published_at, updated_at
		FROM story_documents
		WHERE story_id = $1`,
		storyID,
	).Scan(&doc.StoryID, &chapters, &doc.PublishedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	if err := json.Unmarshal(chapters, &doc.Chapters); err != nil {
		return nil, fmt.Errorf("decode chapters: %w", err)
	}
	return &doc, nil
}

// Save runs the read-decide-write cycle in a single transaction. The live
// document row is locked with FOR UPDATE so concurrent saves of the same story
// serialize: the second writer sees the first one's state, not the shared
// pre-state. The upsert creates the row on a story's first save.
func (r *DocumentRepo) Save(ctx context.Context, storyID uuid.UUID, decide repository.SaveFunc) (doc *model.Document, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		existing    *model.Document
		rawChapters []byte
		cur         model.Document
	)
	err = tx.QueryRow(ctx, `
		SELECT story_id, chapters, published_at, updated_at
		FROM story_documents
		WHERE story_id = $1
		FOR UPDATE`,
		storyID,
	).Scan(&cur.StoryID, &rawChapters, &cur.PublishedAt, &cur.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	case err != nil:
		return nil, fmt.Errorf("lock document: %w", err)
	default:
		if err = json.Unmarshal(rawChapters, &cur.Chapters); err != nil {
			return nil, fmt.Errorf("decode chapters: %w", err)
		}
		existing = &cur
	}

	latest, err := scanRevision(tx.QueryRow(ctx, `
		SELECT `+revisionColumns+`
		FROM story_revisions
		WHERE story_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		storyID,
	))
	switch {
	case errors.Is(err, errs.ErrNotFound):
		latest, err = nil, nil
	case err != nil:
		return nil, err
	}

	doc, snapshot, err := decide(existing, latest)
	if err != nil {
		return nil, err
	}

	if snapshot != nil {
		var snapChapters []byte
		snapChapters, err = json.Marshal(snapshot.Chapters)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot chapters: %w", err)
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO story_revisions (id, story_id, chapters, chapter_count, word_count, created_by, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			snapshot.ID, snapshot.StoryID, snapChapters,
			snapshot.ChapterCount, snapshot.WordCount, snapshot.CreatedBy, snapshot.Note,
		); err != nil {
			return nil, fmt.Errorf("insert revision: %w", err)
		}
	}

	chapters, err := json.Marshal(doc.Chapters)
	if err != nil {
		return nil, fmt.Errorf("encode chapters: %w", err)
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO story_documents (story_id, chapters, published_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (story_id) DO UPDATE
		SET chapters = EXCLUDED.chapters,
			published_at = EXCLUDED.published_at,
			updated_at = EXCLUDED.updated_at`,
		doc.StoryID, chapters, doc.PublishedAt, doc.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return doc, nil
}

const revisionColumns = `id, story_id, chapters, chapter_count, word_count, created_by, note, created_at`

func scanRevision(row pgx.Row) (*model.Revision, error) {
	var (
		rev      model.Revision
		chapters []byte
	)
	err := row.Scan(&rev.ID, &rev.StoryID, &chapters, &rev.ChapterCount,
		&rev.WordCount, &rev.CreatedBy, &rev.Note, &rev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("scan revision: %w", err)
	}
	if err := json.Unmarshal(chapters, &rev.Chapters); err != nil {
		return nil, fmt.Errorf("decode revision chapters: %w", err)
	}
	return &rev, nil
}

// LatestRevision returns the most recent revision for a story.
func (r *DocumentRepo) LatestRevision(ctx context.Context, storyID uuid.UUID) (*model.Revision, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+revisionColumns+`
		FROM story_revisions
		WHERE story_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		storyID,
	)
	return scanRevision(row)
}

// ListRevisions returns up to limit revisions ordered from newest to oldest.
func (r *DocumentRepo) ListRevisions(ctx context.Context, storyID uuid.UUID, limit int) ([]model.Revision, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+revisionColumns+`
		FROM story_revisions
		WHERE story_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		storyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select revisions: %w", err)
	}
	defer rows.Close()

	var revs []model.Revision
	for rows.Next() {
		var (
			rev      model.Revision
			chapters []byte
		)
		if err := rows.Scan(&rev.ID, &rev.StoryID, &chapters, &rev.ChapterCount,
			&rev.WordCount, &rev.CreatedBy, &rev.Note, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		if err := json.Unmarshal(chapters, &rev.Chapters); err != nil {
			return nil, fmt.Errorf("decode revision chapters: %w", err)
		}
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return revs, nil
}
