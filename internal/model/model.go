// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is an account role drawn from a fixed set.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleEditor, RoleAuthor, RoleViewer}

// WriteRoles are roles permitted to mutate stories and documents.
var WriteRoles = []Role{RoleAdmin, RoleEditor, RoleAuthor}

// Valid reports whether the role belongs to the fixed set.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// CanWrite reports whether the role may mutate story content.
func (r Role) CanWrite() bool {
	for _, known := range WriteRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Account represents a workspace identity. The password digest is stored in
// encoded form; the plaintext never leaves the credential code.
type Account struct {
	ID             uuid.UUID
	Username       string // unique, case-normalized
	PasswordHash   string
	Role           Role
	IsActive       bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenKind distinguishes the two structurally identical bearer token kinds.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// SessionToken is a persisted bearer token record. Only the digest of the
// opaque secret is stored; the plaintext is returned to the client exactly once.
type SessionToken struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Kind      TokenKind
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	CreatedIP string
	UserAgent string
}

// Usable reports whether the token may still authenticate at the given instant.
func (t *SessionToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// TokenPair collects freshly issued plaintext secrets and their lifetimes.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  int // seconds
	RefreshExpiresIn int // seconds
}

// RequestMeta carries issuance metadata captured from the inbound request.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuditOutcome is the recorded result of an audited operation.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailed  AuditOutcome = "failed"
)

// AuditEntry is an append-only record of a security-relevant event.
type AuditEntry struct {
	ID         uuid.UUID
	AccountID  *uuid.UUID
	Action     string
	Resource   string
	ResourceID string
	Outcome    AuditOutcome
	Detail     map[string]any
	IP         string
	UserAgent  string
	CreatedAt  time.Time
}

// StoryStatus is a story's position in the publish lifecycle.
type StoryStatus string

const (
	StatusDraft     StoryStatus = "draft"
	StatusReview    StoryStatus = "review"
	StatusPublished StoryStatus = "published"
	StatusCompleted StoryStatus = "completed"
	StatusArchived  StoryStatus = "archived"
)

// Valid reports whether the status is a known lifecycle state.
func (s StoryStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusReview, StatusPublished, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// terminal states accept no further transitions.
func (s StoryStatus) terminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// CanTransition reports whether the lifecycle permits moving from s to next.
// The chain is draft -> review -> published -> completed; archived is reachable
// from any non-terminal state. Completed additionally requires a non-empty
// document, which callers re-validate at transition time.
func (s StoryStatus) CanTransition(next StoryStatus) bool {
	if s == next {
		return true
	}
	if next == StatusArchived {
		return !s.terminal()
	}
	switch s {
	case StatusDraft:
		return next == StatusReview
	case StatusReview:
		return next == StatusPublished
	case StatusPublished:
		return next == StatusCompleted
	}
	return false
}

// Story is the catalog row the document engine collaborates with. Only the
// boundary fields are modeled here: identity, ownership, cover presence and
// publish status.
type Story struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Genre       string
	Status      StoryStatus
	CoverImage  string
	Words       int
	TargetWords int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasCover reports whether a cover asset reference is present.
func (s *Story) HasCover() bool { return s.CoverImage != "" }

// Chapter is a single chapter of a story document.
type Chapter struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Document is a story's live content: an ordered, never-empty chapter list.
type Document struct {
	StoryID     uuid.UUID
	Chapters    []Chapter
	PublishedAt *time.Time
	UpdatedAt   time.Time
}

// Revision is an immutable snapshot of a document's chapters taken before an
// overwrite.
type Revision struct {
	ID           uuid.UUID
	StoryID      uuid.UUID
	Chapters     []Chapter
	ChapterCount int
	WordCount    int
	CreatedBy    *uuid.UUID
	Note         string
	CreatedAt    time.Time
}

// TimePatch is a three-state optional time: absent, explicitly cleared, or set.
// It distinguishes "publish date not supplied" from "publish date cleared".
type TimePatch struct {
	Present bool
	Value   *time.Time // nil while Present means clear
}

// UnsetTime is the absent patch.
func UnsetTime() TimePatch { return TimePatch{} }

// ClearTime is the explicit-null patch.
func ClearTime() TimePatch { return TimePatch{Present: true} }

// SetTime patches to a concrete instant.
func SetTime(t time.Time) TimePatch { return TimePatch{Present: true, Value: &t} }
