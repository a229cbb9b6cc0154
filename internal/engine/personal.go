package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"inktrail/internal/domain"
	"inktrail/internal/events"
	"inktrail/internal/fault"
	"inktrail/internal/render"
	"inktrail/internal/repo"
)

// SignPersonal drives single-signer completion. It creates a placeholder
// version, records every placement as a finalized signature, renders the
// signed artifact, seals the version with its hash and flips the document to
// completed. If anything fails after the placeholder exists, the placeholder
// is deleted and the call fails as a single internal error wrapping the
// cause.
func (e *Engine) SignPersonal(ctx context.Context, userID, baseVersionID string, placements []Placement, meta AuditMeta, opts SignOptions) (domain.Document, error) {
	if len(placements) == 0 {
		return domain.Document{}, fault.BadRequest("at least one signature placement is required")
	}
	base, err := e.Repo.GetVersion(ctx, baseVersionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Document{}, fault.NotFound("version %s not found", baseVersionID)
	}
	if err != nil {
		return domain.Document{}, fault.Database(err, "load base version")
	}
	if base.OwnerID != userID {
		return domain.Document{}, fault.Unauthorized("version %s does not belong to the caller", baseVersionID)
	}

	unlock := e.Locks.Lock(base.DocumentID)
	defer unlock()

	doc, err := e.GetDocument(ctx, base.DocumentID)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status == domain.DocumentCompleted {
		return domain.Document{}, fault.BadRequest("document %s is already completed", doc.ID)
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	ver := domain.DocumentVersion{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		OwnerID:    userID,
		CreatedAt:  ts,
	}
	if err := e.Repo.InsertVersion(ctx, ver); err != nil {
		return domain.Document{}, fault.Database(err, "create signing version")
	}

	records := e.buildRecords(ver.ID, userID, domain.ScopePersonal, placements, meta, ts)
	if err := e.completeSigning(ctx, doc, base, ver, records, records, "", opts); err != nil {
		if delErr := e.Repo.DeleteVersion(ctx, ver.ID); delErr != nil {
			log.Printf("signing: rollback of version %s failed: %v", ver.ID, delErr)
		}
		return domain.Document{}, fault.Internal(err, "personal signing failed")
	}

	e.Events.Record(ctx, "personal.signed", "document", doc.ID, userID, events.EventPayload{
		"version_id": ver.ID,
		"placements": len(placements),
	})
	return e.GetDocument(ctx, doc.ID)
}

// buildRecords materializes finalized signature rows for a set of placements,
// filling the configured defaults where the request left fields empty.
func (e *Engine) buildRecords(versionID, signerID, scope string, placements []Placement, meta AuditMeta, ts string) []domain.SignatureRecord {
	records := make([]domain.SignatureRecord, 0, len(placements))
	for _, p := range placements {
		method := p.Method
		if method == "" {
			method = e.Config.Defaults.Method
		}
		r := domain.SignatureRecord{
			ID:                uuid.New().String(),
			DocumentVersionID: versionID,
			SignerID:          signerID,
			Scope:             scope,
			PositionX:         p.PositionX,
			PositionY:         p.PositionY,
			PageNumber:        p.PageNumber,
			Width:             p.Width,
			Height:            p.Height,
			Method:            method,
			Status:            "finalized",
			SignedAt:          ts,
		}
		if meta.IPAddress != "" {
			ip := meta.IPAddress
			r.IPAddress = &ip
		}
		if meta.UserAgent != "" {
			ua := meta.UserAgent
			r.UserAgent = &ua
		}
		records = append(records, r)
	}
	return records
}

// completeSigning runs the render-seal-finalize tail shared by the personal
// and group coordinators: render the signed artifact from the base version
// using placements, hash it, then persist any new records, the seal and the
// document completion atomically. The group path passes no new records since
// its signatures were persisted as they arrived.
func (e *Engine) completeSigning(ctx context.Context, doc domain.Document, base, ver domain.DocumentVersion, insert, placements []domain.SignatureRecord, accessCode string, opts SignOptions) error {
	res, err := e.Renderer.RenderSigned(ctx, base, placements, render.Options{DisplayMark: opts.DisplayMark})
	if err != nil {
		return err
	}
	hash := contentHash(res.SignedBytes)
	ts := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range insert {
		if err := e.Repo.InsertSignature(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := e.Repo.SealVersionTx(ctx, tx, ver.ID, res.PublicURL, hash); err != nil {
		return err
	}
	if accessCode != "" {
		if err := e.Repo.SetAccessCodeForVersionTx(ctx, tx, ver.ID, accessCode); err != nil {
			return err
		}
	}
	if err := e.Repo.FinalizeDocumentTx(ctx, tx, doc.ID, ver.ID, res.PublicURL, ts); err != nil {
		return err
	}
	return tx.Commit()
}
