package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/audit"
	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/repository"
)

// placeholderTitle is the default title a freshly materialized chapter gets.
// A single empty chapter with this title counts as a blank slate when it
// arrives as an overwrite.
const placeholderTitle = "Chapter 1"

// RiskPolicy tunes the risky-overwrite heuristic. The heuristic is advisory:
// false positives and negatives are acceptable, it only interposes a
// confirmation step before saves that look destructive.
type RiskPolicy struct {
	// GuardFloorWords is the existing-document size below which risk is
	// never flagged.
	GuardFloorWords int
	// ChapterDropMin is the minimum chapter-count drop for the content-loss
	// branch.
	ChapterDropMin int
	// RetainedWordFloor and RetainedRatio bound how few words the incoming
	// document may retain before the drop counts as content loss.
	RetainedWordFloor int
	RetainedRatio     float64
}

// DefaultRiskPolicy matches the thresholds the web editor was tuned against.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		GuardFloorWords:   200,
		ChapterDropMin:    3,
		RetainedWordFloor: 40,
		RetainedRatio:     0.2,
	}
}

// WordCount returns the whitespace-delimited token count over concatenated
// chapter titles and bodies.
func WordCount(chapters []model.Chapter) int {
	n := 0
	for _, ch := range chapters {
		n += len(strings.Fields(ch.Title)) + len(strings.Fields(ch.Content))
	}
	return n
}

// DocumentsService is the safe-write pipeline for story documents plus the
// minimal story catalog it guards.
type DocumentsService interface {
	// CreateStory inserts a new draft story owned by the actor.
	CreateStory(ctx context.Context, actor *model.Account, title, genre, cover string, targetWords int) (*model.Story, error)
	// GetStory loads a story the actor owns.
	GetStory(ctx context.Context, actor *model.Account, storyID uuid.UUID) (*model.Story, error)
	// Current returns the live document, materializing a one-chapter
	// placeholder if none has been saved yet.
	Current(ctx context.Context, actor *model.Account, storyID uuid.UUID) (*model.Document, error)
	// Commit snapshots the existing document, evaluates overwrite risk and
	// either rejects with a conflict or replaces the stored content.
	Commit(ctx context.Context, actor *model.Account, storyID uuid.UUID, incoming []model.Chapter, force bool, publishedAt model.TimePatch) (*model.Document, error)
	// Revisions lists the story's revision history, newest first.
	Revisions(ctx context.Context, actor *model.Account, storyID uuid.UUID, limit int) ([]model.Revision, error)
	// Publish transitions the story to published, stamping the document.
	Publish(ctx context.Context, actor *model.Account, storyID uuid.UUID) (*model.Story, error)
	// TransitionStatus moves the story along the publish lifecycle.
	TransitionStatus(ctx context.Context, actor *model.Account, storyID uuid.UUID, next model.StoryStatus) (*model.Story, error)
}

type DocumentsServiceImpl struct {
	stories repository.StoryRepository
	docs    repository.DocumentRepository
	sink    *audit.Sink
	policy  RiskPolicy
	now     func() time.Time
}

// NewDocumentsService constructs DocumentsService with required dependencies.
func NewDocumentsService(stories repository.StoryRepository, docs repository.DocumentRepository, sink *audit.Sink, policy RiskPolicy) *DocumentsServiceImpl {
	return &DocumentsServiceImpl{
		stories: stories,
		docs:    docs,
		sink:    sink,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *DocumentsServiceImpl) record(ctx context.Context, actor *model.Account, action string, storyID uuid.UUID, outcome model.AuditOutcome, detail map[string]any) {
	s.sink.Record(ctx, &model.AuditEntry{
		AccountID:  &actor.ID,
		Action:     action,
		Resource:   "story",
		ResourceID: storyID.String(),
		Outcome:    outcome,
		Detail:     detail,
	})
}

// sanitizeChapters guarantees the never-empty-document invariant: an empty
// list materializes the placeholder chapter, and chapters without ids get one.
func sanitizeChapters(chapters []model.Chapter) []model.Chapter {
	if len(chapters) == 0 {
		return []model.Chapter{{ID: uuid.Must(uuid.NewV4()).String(), Title: placeholderTitle}}
	}
	out := make([]model.Chapter, len(chapters))
	copy(out, chapters)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.Must(uuid.NewV4()).String()
		}
	}
	return out
}

func serializeChapters(chapters []model.Chapter) []byte {
	b, err := json.Marshal(chapters)
	if err != nil {
		// Chapters are plain strings; this cannot fail in practice.
		return nil
	}
	return b
}

// isBlankSlate reports whether the incoming chapters collapse to a single
// empty chapter with no title or the default placeholder title.
func isBlankSlate(chapters []model.Chapter) bool {
	if len(chapters) != 1 {
		return false
	}
	ch := chapters[0]
	return ch.Content == "" && (ch.Title == "" || ch.Title == placeholderTitle)
}

// EvaluateRisk flags overwrites that look like accidental destruction: a
// blank-slate submission over a substantial document, or a large simultaneous
// drop in chapters and words. Small documents are never guarded.
func (p RiskPolicy) EvaluateRisk(existing, incoming []model.Chapter) bool {
	existingWords := WordCount(existing)
	if existingWords < p.GuardFloorWords {
		return false
	}
	if isBlankSlate(incoming) {
		return true
	}
	chapterDrop := len(existing) - len(incoming)
	if chapterDrop < p.ChapterDropMin {
		return false
	}
	retainFloor := float64(p.RetainedWordFloor)
	if scaled := p.RetainedRatio * float64(existingWords); scaled > retainFloor {
		retainFloor = scaled
	}
	return float64(WordCount(incoming)) <= retainFloor
}

// CreateStory inserts a new draft story owned by the actor.
func (s *DocumentsServiceImpl) CreateStory(ctx context.Context, actor *model.Account, title, genre, cover string, targetWords int) (*model.Story, error) {
	if !actor.Role.CanWrite() {
		return nil, errs.ErrForbidden
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", errs.ErrInvalidInput)
	}
	story := &model.Story{
		ID:          uuid.Must(uuid.NewV4()),
		OwnerID:     actor.ID,
		Title:       title,
		Genre:       genre,
		Status:      model.StatusDraft,
		CoverImage:  cover,
		TargetWords: targetWords,
	}
	if err := s.stories.Create(ctx, story); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "story_create", story.ID, model.AuditSuccess, map[string]any{"title": title})
	return story, nil
}

// GetStory loads a story the actor owns.
func (s *DocumentsServiceImpl) GetStory(ctx context.Context, actor *model.Account, storyID uuid.UUID) (*model.Story, error) {
	return s.stories.GetOwned(ctx, storyID, actor.ID)
}

// Current returns the live document. A story that has never been saved gets a
// placeholder document materialized in memory, not persisted.
func (s *DocumentsServiceImpl) Current(ctx context.Context, actor *model.Account, storyID uuid.UUID) (*model.Document, error) {
	if _, err := s.stories.GetOwned(ctx, storyID, actor.ID); err != nil {
		return nil, err
	}
	doc, err := s.docs.Get(ctx, storyID)
	if errors.Is(err, errs.ErrNotFound) {
		return &model.Document{
			StoryID:   storyID,
			Chapters:  sanitizeChapters(nil),
			UpdatedAt: s.now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Commit is the safe-write path: snapshot what is there, refuse what looks
// destructive unless forced, then overwrite atomically.
func (s *DocumentsServiceImpl) Commit(ctx context.Context, actor *model.Account, storyID uuid.UUID, incoming []model.Chapter, force bool, publishedAt model.TimePatch) (*model.Document, error) {
	if !actor.Role.CanWrite() {
		return nil, errs.ErrForbidden
	}
	if _, err := s.stories.GetOwned(ctx, storyID, actor.ID); err != nil {
		return nil, err
	}
	now := s.now()
	incoming = sanitizeChapters(incoming)

	// The pre-write read, risk decision and write all happen inside one repo
	// transaction, under a lock on the document row, so two concurrent saves
	// cannot both snapshot the same pre-state.
	doc, err := s.docs.Save(ctx, storyID, func(existing *model.Document, latest *model.Revision) (*model.Document, *model.Revision, error) {
		if existing == nil {
			existing = &model.Document{StoryID: storyID, Chapters: sanitizeChapters(nil)}
		}

		// Snapshot the pre-write state unless history already ends with it.
		var snapshot *model.Revision
		existingRaw := serializeChapters(existing.Chapters)
		if latest == nil || string(serializeChapters(latest.Chapters)) != string(existingRaw) {
			note := "before_update"
			if force {
				note = "before_force_update"
			}
			snapshot = &model.Revision{
				ID:           uuid.Must(uuid.NewV4()),
				StoryID:      storyID,
				Chapters:     existing.Chapters,
				ChapterCount: len(existing.Chapters),
				WordCount:    WordCount(existing.Chapters),
				CreatedBy:    &actor.ID,
				Note:         note,
			}
		}

		if !force && s.policy.EvaluateRisk(existing.Chapters, incoming) {
			return nil, nil, &errs.OverwriteConflictError{
				ExistingChapters: len(existing.Chapters),
				IncomingChapters: len(incoming),
				ExistingWords:    WordCount(existing.Chapters),
				IncomingWords:    WordCount(incoming),
			}
		}

		doc := &model.Document{
			StoryID:     storyID,
			Chapters:    incoming,
			PublishedAt: existing.PublishedAt,
			UpdatedAt:   now,
		}
		if publishedAt.Present {
			doc.PublishedAt = publishedAt.Value
		}
		return doc, snapshot, nil
	})
	if err != nil {
		var conflict *errs.OverwriteConflictError
		if errors.As(err, &conflict) {
			s.record(ctx, actor, "document_commit", storyID, model.AuditFailed, map[string]any{
				"reason":            "risky_overwrite",
				"existing_chapters": conflict.ExistingChapters,
				"incoming_chapters": conflict.IncomingChapters,
				"existing_words":    conflict.ExistingWords,
				"incoming_words":    conflict.IncomingWords,
			})
		}
		return nil, err
	}
	s.record(ctx, actor, "document_commit", storyID, model.AuditSuccess, map[string]any{
		"chapters": len(incoming),
		"words":    WordCount(incoming),
		"forced":   force,
	})
	return doc, nil
}

// Revisions lists the story's revision history, newest first.
func (s *DocumentsServiceImpl) Revisions(ctx context.Context, actor *model.Account, storyID uuid.UUID, limit int) ([]model.Revision, error) {
	if _, err := s.stories.GetOwned(ctx, storyID, actor.ID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.docs.ListRevisions(ctx, storyID, limit)
}

// Publish moves the story to published. An empty document or a missing cover
// blocks the transition; the document's publish stamp and the catalog status
// change in one transaction.
func (s *DocumentsServiceImpl) Publish(ctx context.Context, actor *model.Account, storyID uuid.UUID) (*model.Story, error) {
	if !actor.Role.CanWrite() {
		return nil, errs.ErrForbidden
	}
	story, err := s.stories.GetOwned(ctx, storyID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !story.Status.CanTransition(model.StatusPublished) {
		return nil, fmt.Errorf("%w: cannot publish from status %q", errs.ErrConflict, story.Status)
	}
	if !story.HasCover() {
		return nil, fmt.Errorf("%w: a cover image is required to publish", errs.ErrInvalidInput)
	}
	doc, err := s.Current(ctx, actor, storyID)
	if err != nil {
		return nil, err
	}
	words := WordCount(doc.Chapters)
	// A never-saved placeholder carries its default title's words; treat it
	// as empty anyway.
	if words <= 0 || isBlankSlate(doc.Chapters) {
		return nil, fmt.Errorf("%w: cannot publish an empty document", errs.ErrInvalidInput)
	}

	now := s.now()
	if err := s.stories.Publish(ctx, storyID, actor.ID, words, now); err != nil {
		return nil, err
	}
	story.Status = model.StatusPublished
	story.Words = words
	story.UpdatedAt = now
	s.record(ctx, actor, "story_publish", storyID, model.AuditSuccess, map[string]any{"words": words})
	return story, nil
}

// TransitionStatus moves the story along the lifecycle. Completing a story
// re-validates that the document still has words; a publish request routes
// through Publish so its extra checks apply.
func (s *DocumentsServiceImpl) TransitionStatus(ctx context.Context, actor *model.Account, storyID uuid.UUID, next model.StoryStatus) (*model.Story, error) {
	if !actor.Role.CanWrite() {
		return nil, errs.ErrForbidden
	}
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrInvalidInput, next)
	}
	if next == model.StatusPublished {
		return s.Publish(ctx, actor, storyID)
	}
	story, err := s.stories.GetOwned(ctx, storyID, actor.ID)
	if err != nil {
		return nil, err
	}
	if story.Status == next {
		return story, nil
	}
	if !story.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: cannot move from %q to %q", errs.ErrConflict, story.Status, next)
	}

	words := story.Words
	if next == model.StatusCompleted {
		doc, err := s.Current(ctx, actor, storyID)
		if err != nil {
			return nil, err
		}
		words = WordCount(doc.Chapters)
		if words <= 0 || isBlankSlate(doc.Chapters) {
			return nil, fmt.Errorf("%w: cannot complete an empty story", errs.ErrInvalidInput)
		}
	}

	now := s.now()
	if err := s.stories.UpdateStatus(ctx, storyID, actor.ID, next, words, now); err != nil {
		return nil, err
	}
	prev := story.Status
	story.Status = next
	story.Words = words
	story.UpdatedAt = now
	s.record(ctx, actor, "story_status", storyID, model.AuditSuccess, map[string]any{"from": string(prev), "to": string(next)})
	return story, nil
}
