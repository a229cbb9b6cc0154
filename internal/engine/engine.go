// Package engine implements the signing core: document and version
// bookkeeping, the personal and group signing coordinators, and the public
// verification gateway. The HTTP layer and CLI are thin callers into this
// package.
package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"inktrail/internal/config"
	"inktrail/internal/domain"
	"inktrail/internal/events"
	"inktrail/internal/fault"
	"inktrail/internal/flight"
	"inktrail/internal/render"
	"inktrail/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Renderer render.Renderer
	Store    render.Store
	Locks    *flight.KeyedMutex
	Now      func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, renderer render.Renderer, store render.Store) *Engine {
	return &Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Events:   events.Writer{DB: conn},
		Config:   cfg,
		Renderer: renderer,
		Store:    store,
		Locks:    flight.NewKeyedMutex(),
		Now:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Placement is one requested signature mark.
type Placement struct {
	PositionX  float64
	PositionY  float64
	PageNumber int
	Width      float64
	Height     float64
	Method     string
}

// AuditMeta travels with every signing request and lands on the records it
// produces.
type AuditMeta struct {
	IPAddress string
	UserAgent string
}

type SignOptions struct {
	DisplayMark bool
}

func (e *Engine) isAdmin(userID string) bool {
	for _, id := range e.Config.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *Engine) canManage(doc domain.Document, userID string) bool {
	return doc.OwnerID == userID || e.isAdmin(userID)
}

// --- documents ---

// CreateDocument registers a document with its initial version. The raw
// content goes to the store; only its location and hash are persisted.
func (e *Engine) CreateDocument(ctx context.Context, ownerID, title string, groupID *string, content []byte) (domain.Document, domain.DocumentVersion, error) {
	if title == "" {
		return domain.Document{}, domain.DocumentVersion{}, fault.BadRequest("title is required")
	}
	if len(content) == 0 {
		return domain.Document{}, domain.DocumentVersion{}, fault.BadRequest("document content is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	doc := domain.Document{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    domain.DocumentDraft,
		OwnerID:   ownerID,
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ver := domain.DocumentVersion{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		OwnerID:    ownerID,
		CreatedAt:  now,
	}
	url, err := e.Store.Put(ctx, ver.ID, content)
	if err != nil {
		return domain.Document{}, domain.DocumentVersion{}, fault.Internal(err, "store document content")
	}
	ver.URL = url
	hash := contentHash(content)
	ver.ContentHash = &hash
	if err := e.Repo.InsertDocument(ctx, doc); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, fault.Database(err, "create document")
	}
	if err := e.Repo.InsertVersion(ctx, ver); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, fault.Database(err, "create document version")
	}
	e.Events.Record(ctx, "document.created", "document", doc.ID, ownerID, events.EventPayload{"title": title})
	return doc, ver, nil
}

func (e *Engine) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, err := e.Repo.GetDocument(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return doc, fault.NotFound("document %s not found", id)
	}
	if err != nil {
		return doc, fault.Database(err, "load document")
	}
	return doc, nil
}

func (e *Engine) ListDocuments(ctx context.Context, f repo.DocumentFilters) ([]domain.Document, error) {
	docs, err := e.Repo.ListDocuments(ctx, f)
	if err != nil {
		return nil, fault.Database(err, "list documents")
	}
	return docs, nil
}

func (e *Engine) ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error) {
	if _, err := e.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	vers, err := e.Repo.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fault.Database(err, "list document versions")
	}
	return vers, nil
}

// AddVersion appends a new version with fresh content. Not permitted once the
// document is completed; collected group signatures are invalidated by the
// caller through ResetSigners.
func (e *Engine) AddVersion(ctx context.Context, userID, documentID string, content []byte) (domain.DocumentVersion, error) {
	if len(content) == 0 {
		return domain.DocumentVersion{}, fault.BadRequest("document content is required")
	}
	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	if !e.canManage(doc, userID) {
		return domain.DocumentVersion{}, fault.Unauthorized("not the document owner")
	}
	if doc.Status == domain.DocumentCompleted || doc.Status == domain.DocumentArchived {
		return domain.DocumentVersion{}, fault.BadRequest("document %s is %s", doc.ID, doc.Status)
	}
	now := e.now().UTC().Format(time.RFC3339)
	ver := domain.DocumentVersion{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		OwnerID:    userID,
		CreatedAt:  now,
	}
	url, err := e.Store.Put(ctx, ver.ID, content)
	if err != nil {
		return domain.DocumentVersion{}, fault.Internal(err, "store document content")
	}
	ver.URL = url
	hash := contentHash(content)
	ver.ContentHash = &hash
	if err := e.Repo.InsertVersion(ctx, ver); err != nil {
		return domain.DocumentVersion{}, fault.Database(err, "create document version")
	}
	e.Events.Record(ctx, "document.version_added", "document", doc.ID, userID, events.EventPayload{"version_id": ver.ID})
	return ver, nil
}

func (e *Engine) ArchiveDocument(ctx context.Context, userID, id string) (domain.Document, error) {
	doc, err := e.GetDocument(ctx, id)
	if err != nil {
		return doc, err
	}
	if !e.canManage(doc, userID) {
		return doc, fault.Unauthorized("not the document owner")
	}
	if doc.Status == domain.DocumentArchived {
		return doc, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateDocumentStatus(ctx, id, domain.DocumentArchived, now); err != nil {
		return doc, fault.Database(err, "archive document")
	}
	doc.Status = domain.DocumentArchived
	doc.UpdatedAt = now
	e.Events.Record(ctx, "document.archived", "document", id, userID, nil)
	return doc, nil
}

// latestVersion returns the most recent version of a document.
func (e *Engine) latestVersion(ctx context.Context, documentID string) (domain.DocumentVersion, error) {
	vers, err := e.Repo.ListVersions(ctx, documentID)
	if err != nil {
		return domain.DocumentVersion{}, fault.Database(err, "list document versions")
	}
	if len(vers) == 0 {
		return domain.DocumentVersion{}, fault.BadRequest("document %s has no version", documentID)
	}
	return vers[0], nil
}
