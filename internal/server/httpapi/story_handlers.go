package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/obs"
	"github.com/scriptoria-app/scriptoria/internal/service"
)

type createStoryRequest struct {
	Title       string `json:"title"`
	Genre       string `json:"genre,omitempty"`
	CoverImage  string `json:"cover_image,omitempty"`
	TargetWords int    `json:"target_words,omitempty"`
}

type patchStoryRequest struct {
	Status string `json:"status"`
}

type chapterPayload struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// putDocumentRequest distinguishes an absent published_at from an explicit
// null, which clears the stamp.
type putDocumentRequest struct {
	Chapters    []chapterPayload `json:"chapters"`
	Force       bool             `json:"force,omitempty"`
	PublishedAt json.RawMessage  `json:"published_at,omitempty"`
}

func (req *putDocumentRequest) publishedAtPatch() (model.TimePatch, error) {
	if len(req.PublishedAt) == 0 {
		return model.UnsetTime(), nil
	}
	if string(req.PublishedAt) == "null" {
		return model.ClearTime(), nil
	}
	var raw string
	if err := json.Unmarshal(req.PublishedAt, &raw); err != nil {
		return model.TimePatch{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return model.TimePatch{}, err
	}
	return model.SetTime(t.UTC()), nil
}

type storyView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Genre       string    `json:"genre,omitempty"`
	Status      string    `json:"status"`
	CoverImage  string    `json:"cover_image,omitempty"`
	Words       int       `json:"words"`
	TargetWords int       `json:"target_words,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type documentView struct {
	StoryID     string          `json:"story_id"`
	Chapters    []model.Chapter `json:"chapters"`
	WordCount   int             `json:"word_count"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type revisionView struct {
	ID           string    `json:"id"`
	ChapterCount int       `json:"chapter_count"`
	WordCount    int       `json:"word_count"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewStory(s *model.Story) storyView {
	return storyView{
		ID:          s.ID.String(),
		Title:       s.Title,
		Genre:       s.Genre,
		Status:      string(s.Status),
		CoverImage:  s.CoverImage,
		Words:       s.Words,
		TargetWords: s.TargetWords,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func viewDocument(d *model.Document) documentView {
	return documentView{
		StoryID:     d.StoryID.String(),
		Chapters:    d.Chapters,
		WordCount:   service.WordCount(d.Chapters),
		PublishedAt: d.PublishedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func storyIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, errs.ErrInvalidInput
	}
	return id, nil
}

func (a *API) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())

	var req createStoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	story, err := a.docs.CreateStory(r.Context(), account, req.Title, req.Genre, req.CoverImage, req.TargetWords)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewStory(story))
}

func (a *API) handleGetStory(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	id, err := storyIDFromPath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	story, err := a.docs.GetStory(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStory(story))
}

func (a *API) handlePatchStory(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	id, err := storyIDFromPath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req patchStoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	story, err := a.docs.TransitionStatus(r.Context(), account, id, model.StoryStatus(req.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStory(story))
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	id, err := storyIDFromPath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	doc, err := a.docs.Current(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDocument(doc))
}

func (a *API) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	id, err := storyIDFromPath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req putDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	patch, err := req.publishedAtPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "published_at must be RFC3339 or null", nil)
		return
	}
	chapters := make([]model.Chapter, len(req.Chapters))
	for i, ch := range req.Chapters {
		chapters[i] = model.Chapter{ID: ch.ID, Title: ch.Title, Content: ch.Content}
	}

	doc, err := a.docs.Commit(r.Context(), account, id, chapters, req.Force, patch)
	if err != nil {
		var conflict *errs.OverwriteConflictError
		if errors.As(err, &conflict) {
			obs.ObserveCommit("conflict")
		}
		writeServiceError(w, err)
		return
	}
	if req.Force {
		obs.ObserveCommit("forced")
	} else {
		obs.ObserveCommit("saved")
	}
	writeJSON(w, http.StatusOK, viewDocument(doc))
}

func (a *API) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	id, err := storyIDFromPath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	revs, err := a.docs.Revisions(r.Context(), account, id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]revisionView, len(revs))
	for i, rev := range revs {
		views[i] = revisionView{
			ID:           rev.ID.String(),
			ChapterCount: rev.ChapterCount,
			WordCount:    rev.WordCount,
			Note:         rev.Note,
			CreatedAt:    rev.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": views})
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	id, err := storyIDFromPath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	story, err := a.docs.Publish(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStory(story))
}
