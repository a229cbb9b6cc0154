package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"inktrail/internal/domain"
	"inktrail/internal/events"
	"inktrail/internal/fault"
	"inktrail/internal/repo"
)

// GroupSignResult reports the roster state immediately after one signature
// was recorded.
type GroupSignResult struct {
	Signature        domain.SignatureRecord `json:"signature"`
	IsComplete       bool                   `json:"is_complete"`
	RemainingSigners int                    `json:"remaining_signers"`
}

// RegisterSigners adds signer obligations to a document roster. The insert is
// idempotent; already-registered users keep their existing row and order.
func (e *Engine) RegisterSigners(ctx context.Context, actorID, documentID string, userIDs []string) ([]domain.GroupSigner, error) {
	if len(userIDs) == 0 {
		return nil, fault.BadRequest("at least one signer is required")
	}
	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !e.canManage(doc, actorID) {
		return nil, fault.Forbidden("only the document owner can manage signers")
	}
	if doc.Status == domain.DocumentCompleted || doc.Status == domain.DocumentArchived {
		return nil, fault.BadRequest("document %s is %s", doc.ID, doc.Status)
	}
	start, err := e.Repo.MaxSignOrder(ctx, documentID)
	if err != nil {
		return nil, fault.Database(err, "read signer order")
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fault.Database(err, "register signers")
	}
	defer tx.Rollback()
	for i, uid := range userIDs {
		g := domain.GroupSigner{
			DocumentID: documentID,
			UserID:     uid,
			Status:     domain.SignerPending,
			SignOrder:  start + i + 1,
			UpdatedAt:  now,
		}
		if err := e.Repo.InsertGroupSignerTx(ctx, tx, g); err != nil {
			return nil, fault.Database(err, "register signer %s", uid)
		}
	}
	if doc.Status == domain.DocumentDraft {
		if err := e.Repo.UpdateDocumentStatusTx(ctx, tx, documentID, domain.DocumentPending, now); err != nil {
			return nil, fault.Database(err, "mark document pending")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fault.Database(err, "register signers")
	}

	e.Events.Record(ctx, "group.signers_registered", "document", documentID, actorID, events.EventPayload{"signers": len(userIDs)})
	signers, err := e.Repo.ListGroupSigners(ctx, documentID)
	if err != nil {
		return nil, fault.Database(err, "list signers")
	}
	return signers, nil
}

// RecordGroupSignature records one signer's mark and transitions their roster
// row to SIGNED. IsComplete is true exactly when no row is left PENDING after
// the update.
func (e *Engine) RecordGroupSignature(ctx context.Context, userID, documentID string, p Placement, meta AuditMeta) (GroupSignResult, error) {
	signer, err := e.Repo.GetGroupSigner(ctx, documentID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return GroupSignResult{}, fault.NotFound("user %s is not a signer on document %s", userID, documentID)
	}
	if err != nil {
		return GroupSignResult{}, fault.Database(err, "load signer")
	}
	if signer.Status != domain.SignerPending {
		return GroupSignResult{}, fault.Forbidden("signer %s already resolved as %s", userID, signer.Status)
	}
	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return GroupSignResult{}, err
	}
	if doc.Status == domain.DocumentCompleted || doc.Status == domain.DocumentArchived {
		return GroupSignResult{}, fault.BadRequest("document %s is %s", doc.ID, doc.Status)
	}

	unlock := e.Locks.Lock(documentID)
	defer unlock()

	base, err := e.latestVersion(ctx, documentID)
	if err != nil {
		return GroupSignResult{}, err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	records := e.buildRecords(base.ID, userID, domain.ScopeGroup, []Placement{p}, meta, ts)
	record := records[0]

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GroupSignResult{}, fault.Database(err, "record signature")
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSignature(ctx, tx, record); err != nil {
		return GroupSignResult{}, fault.Database(err, "record signature")
	}
	if err := e.Repo.SetGroupSignerStatusTx(ctx, tx, documentID, userID, domain.SignerSigned, &record.ID, ts); err != nil {
		return GroupSignResult{}, fault.Database(err, "update signer state")
	}
	remaining, err := e.Repo.CountPendingSignersTx(ctx, tx, documentID)
	if err != nil {
		return GroupSignResult{}, fault.Database(err, "count pending signers")
	}
	if err := tx.Commit(); err != nil {
		return GroupSignResult{}, fault.Database(err, "record signature")
	}

	e.Events.Record(ctx, "group.signed", "document", documentID, userID, events.EventPayload{
		"signature_id": record.ID,
		"remaining":    remaining,
	})
	return GroupSignResult{Signature: record, IsComplete: remaining == 0, RemainingSigners: remaining}, nil
}

// DeclineSignature moves a PENDING roster row to REJECTED.
func (e *Engine) DeclineSignature(ctx context.Context, userID, documentID, reason string) error {
	signer, err := e.Repo.GetGroupSigner(ctx, documentID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return fault.NotFound("user %s is not a signer on document %s", userID, documentID)
	}
	if err != nil {
		return fault.Database(err, "load signer")
	}
	if signer.Status != domain.SignerPending {
		return fault.Forbidden("signer %s already resolved as %s", userID, signer.Status)
	}
	ts := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fault.Database(err, "decline signature")
	}
	defer tx.Rollback()
	if err := e.Repo.SetGroupSignerStatusTx(ctx, tx, documentID, userID, domain.SignerRejected, nil, ts); err != nil {
		return fault.Database(err, "update signer state")
	}
	if err := tx.Commit(); err != nil {
		return fault.Database(err, "decline signature")
	}
	e.Events.Record(ctx, "group.declined", "document", documentID, userID, events.EventPayload{"reason": reason})
	return nil
}

// FinalizeGroup renders the composite signed artifact once every signer has
// resolved, seals the current version and completes the document. The
// returned code is the PIN that gates public verification; when the caller
// supplies none a random one is generated.
func (e *Engine) FinalizeGroup(ctx context.Context, actorID, documentID, accessCode string, opts SignOptions) (domain.Document, string, error) {
	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, "", err
	}
	if !e.canManage(doc, actorID) {
		return domain.Document{}, "", fault.Forbidden("only the document owner can finalize")
	}

	unlock := e.Locks.Lock(documentID)
	defer unlock()

	doc, err = e.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, "", err
	}
	if doc.Status == domain.DocumentCompleted {
		return domain.Document{}, "", fault.BadRequest("document %s is already completed", doc.ID)
	}
	remaining, err := e.Repo.CountPendingSigners(ctx, documentID)
	if err != nil {
		return domain.Document{}, "", fault.Database(err, "count pending signers")
	}
	if remaining > 0 {
		return domain.Document{}, "", fault.BadRequest("%d signers still pending", remaining)
	}
	base, err := e.latestVersion(ctx, documentID)
	if err != nil {
		return domain.Document{}, "", err
	}
	placements, err := e.Repo.ListFinalizedSignatures(ctx, base.ID)
	if err != nil {
		return domain.Document{}, "", fault.Database(err, "list signatures")
	}
	if len(placements) == 0 {
		return domain.Document{}, "", fault.BadRequest("document %s has no recorded signatures", documentID)
	}
	if accessCode == "" {
		accessCode, err = newAccessCode()
		if err != nil {
			return domain.Document{}, "", fault.Internal(err, "generate access code")
		}
	}

	if err := e.completeSigning(ctx, doc, base, base, nil, placements, accessCode, opts); err != nil {
		return domain.Document{}, "", fault.Internal(err, "group finalize failed")
	}

	e.Events.Record(ctx, "group.finalized", "document", documentID, actorID, events.EventPayload{
		"version_id": base.ID,
		"signatures": len(placements),
	})
	doc, err = e.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, "", err
	}
	return doc, accessCode, nil
}

// RemoveSigner drops a roster row. Only PENDING signers can be removed;
// resolved rows keep their audit trail.
func (e *Engine) RemoveSigner(ctx context.Context, actorID, documentID, userID string) error {
	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !e.canManage(doc, actorID) {
		return fault.Forbidden("only the document owner can manage signers")
	}
	signer, err := e.Repo.GetGroupSigner(ctx, documentID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return fault.NotFound("user %s is not a signer on document %s", userID, documentID)
	}
	if err != nil {
		return fault.Database(err, "load signer")
	}
	if signer.Status != domain.SignerPending {
		return fault.Forbidden("signer %s already resolved as %s", userID, signer.Status)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fault.Database(err, "remove signer")
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteGroupSignerTx(ctx, tx, documentID, userID); err != nil {
		return fault.Database(err, "remove signer")
	}
	if err := tx.Commit(); err != nil {
		return fault.Database(err, "remove signer")
	}
	e.Events.Record(ctx, "group.signer_removed", "document", documentID, actorID, events.EventPayload{"user_id": userID})
	return nil
}

// ResetSigners returns every roster row to PENDING and clears collected
// signature links. Used after a document edit invalidates prior signatures.
func (e *Engine) ResetSigners(ctx context.Context, actorID, documentID string) ([]domain.GroupSigner, error) {
	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !e.canManage(doc, actorID) {
		return nil, fault.Forbidden("only the document owner can manage signers")
	}
	if doc.Status == domain.DocumentCompleted {
		return nil, fault.BadRequest("document %s is already completed", doc.ID)
	}
	ts := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fault.Database(err, "reset signers")
	}
	defer tx.Rollback()
	if err := e.Repo.ResetGroupSignersTx(ctx, tx, documentID, ts); err != nil {
		return nil, fault.Database(err, "reset signers")
	}
	if err := tx.Commit(); err != nil {
		return nil, fault.Database(err, "reset signers")
	}
	e.Events.Record(ctx, "group.signers_reset", "document", documentID, actorID, nil)
	signers, err := e.Repo.ListGroupSigners(ctx, documentID)
	if err != nil {
		return nil, fault.Database(err, "list signers")
	}
	return signers, nil
}

// newAccessCode returns a random 6-digit verification PIN.
func newAccessCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
