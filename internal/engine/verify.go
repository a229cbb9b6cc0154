package engine

import (
	"context"
	"errors"
	"time"

	"inktrail/internal/domain"
	"inktrail/internal/events"
	"inktrail/internal/fault"
	"inktrail/internal/repo"
)

const (
	VerificationRegistered = "REGISTERED"
	VerificationValid      = "VALID"
	VerificationInvalid    = "INVALID"
)

// VerificationView is the public read model for one signature. Locked views
// expose only the document title and the signature type; the signer identity
// stays withheld until the uploaded file's hash has been checked.
type VerificationView struct {
	IsLocked           bool    `json:"is_locked"`
	RequireUpload      bool    `json:"require_upload,omitempty"`
	DocumentTitle      string  `json:"document_title"`
	Type               string  `json:"type"`
	SignerName         *string `json:"signer_name"`
	SignerEmail        *string `json:"signer_email,omitempty"`
	SignedAt           string  `json:"signed_at,omitempty"`
	StoredHash         string  `json:"stored_hash,omitempty"`
	OriginalURL        string  `json:"original_url,omitempty"`
	VerificationStatus string  `json:"verification_status,omitempty"`
}

// FileVerification is the outcome of checking an uploaded file against the
// sealed hash. Signer identity is released here, bound to possession of the
// file.
type FileVerification struct {
	IsHashMatch          bool   `json:"is_hash_match"`
	VerificationStatus   string `json:"verification_status"`
	SignerName           string `json:"signer_name"`
	SignerEmail          string `json:"signer_email"`
	DocumentTitle        string `json:"document_title"`
	IPAddress            string `json:"ip_address"`
	StoredFileHash       string `json:"stored_file_hash"`
	RecalculatedFileHash string `json:"recalculated_file_hash"`
}

// signatureRelations loads the version and document behind a signature. A
// missing relation is a data-consistency bug, surfaced as internal rather
// than not-found.
func (e *Engine) signatureRelations(ctx context.Context, sig domain.SignatureRecord) (domain.DocumentVersion, domain.Document, error) {
	ver, err := e.Repo.GetVersion(ctx, sig.DocumentVersionID)
	if errors.Is(err, repo.ErrNotFound) {
		return ver, domain.Document{}, fault.Internal(err, "signature %s integrity incomplete", sig.ID)
	}
	if err != nil {
		return ver, domain.Document{}, fault.Database(err, "load signature version")
	}
	doc, err := e.Repo.GetDocument(ctx, ver.DocumentID)
	if errors.Is(err, repo.ErrNotFound) {
		return ver, doc, fault.Internal(err, "signature %s integrity incomplete", sig.ID)
	}
	if err != nil {
		return ver, doc, fault.Database(err, "load signature document")
	}
	return ver, doc, nil
}

// signerIdentity resolves the display identity of a signer, falling back to
// the configured defaults for signers the user store does not know.
func (e *Engine) signerIdentity(ctx context.Context, signerID string) (string, string) {
	u, err := e.Repo.GetUser(ctx, signerID)
	if err != nil {
		return e.Config.Defaults.SignerName, e.Config.Defaults.SignerEmail
	}
	return u.Name, u.Email
}

// VerificationDetails returns the public view of a signature. Records with an
// access code yield a locked view until unlocked.
func (e *Engine) VerificationDetails(ctx context.Context, signatureID string) (*VerificationView, error) {
	sig, err := e.Repo.GetSignature(ctx, signatureID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fault.NotFound("signature %s not found", signatureID)
	}
	if err != nil {
		return nil, fault.Database(err, "load signature")
	}
	ver, doc, err := e.signatureRelations(ctx, sig)
	if err != nil {
		return nil, err
	}
	if sig.AccessCode != nil {
		return &VerificationView{
			IsLocked:      true,
			DocumentTitle: doc.Title,
			Type:          sig.Scope,
		}, nil
	}
	name, email := e.signerIdentity(ctx, sig.SignerID)
	view := &VerificationView{
		IsLocked:           false,
		DocumentTitle:      doc.Title,
		Type:               sig.Scope,
		SignerName:         &name,
		SignerEmail:        &email,
		SignedAt:           sig.SignedAt,
		OriginalURL:        ver.URL,
		VerificationStatus: VerificationRegistered,
	}
	if ver.SignedContentHash != nil {
		view.StoredHash = *ver.SignedContentHash
	}
	return view, nil
}

// Unlock checks a verification PIN against a signature's access code.
// Absent signatures return (nil, nil) so callers can tell "no such
// signature" apart from "locked". Wrong codes count toward the lockout
// threshold; reaching it locks the record for the configured window. A
// correct code resets the retry state and returns an unlocked view that
// still withholds the signer identity until a file upload proves possession.
func (e *Engine) Unlock(ctx context.Context, signatureID, inputCode string) (*VerificationView, error) {
	sig, err := e.Repo.GetSignature(ctx, signatureID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Database(err, "load signature")
	}
	now := e.now().UTC()
	if sig.LockedUntil != nil {
		until, perr := time.Parse(time.RFC3339, *sig.LockedUntil)
		if perr == nil && now.Before(until) {
			return nil, fault.Forbidden("temporarily locked")
		}
	}

	// An absent access code never matches: an open record still requires
	// some code to unlock.
	match := sig.AccessCode != nil && inputCode != "" && *sig.AccessCode == inputCode
	if !match {
		// The counter only resets on a correct code. A wrong attempt after
		// an expired lockout window re-locks the record immediately.
		newCount := sig.RetryCount + 1
		var lockedUntil *string
		if newCount >= e.Config.Verification.MaxAttempts {
			ts := now.Add(e.Config.Verification.Lockout()).Format(time.RFC3339)
			lockedUntil = &ts
		}
		if err := e.Repo.IncrementRetryCount(ctx, sig.ID, lockedUntil); err != nil {
			return nil, fault.Database(err, "record failed attempt")
		}
		if lockedUntil != nil {
			return nil, fault.Forbidden("locked for %d minutes", e.Config.Verification.LockoutMinutes)
		}
		return nil, fault.BadRequest("wrong PIN")
	}

	if sig.RetryCount > 0 || sig.LockedUntil != nil {
		if err := e.Repo.ResetRetryState(ctx, sig.ID); err != nil {
			return nil, fault.Database(err, "reset retry state")
		}
	}
	_, doc, err := e.signatureRelations(ctx, sig)
	if err != nil {
		return nil, err
	}
	e.Events.Record(ctx, "verify.unlocked", "signature", sig.ID, "public", nil)
	return &VerificationView{
		IsLocked:           false,
		RequireUpload:      true,
		DocumentTitle:      doc.Title,
		Type:               sig.Scope,
		SignerName:         nil,
		SignedAt:           sig.SignedAt,
		VerificationStatus: VerificationRegistered,
	}, nil
}

// VerifyUploadedFile recomputes the hash of an uploaded file and compares it
// to the hash sealed onto the signature's version.
func (e *Engine) VerifyUploadedFile(ctx context.Context, signatureID string, file []byte) (*FileVerification, error) {
	sig, err := e.Repo.GetSignature(ctx, signatureID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fault.NotFound("signature %s not found", signatureID)
	}
	if err != nil {
		return nil, fault.Database(err, "load signature")
	}
	ver, doc, err := e.signatureRelations(ctx, sig)
	if err != nil {
		return nil, err
	}
	if ver.SignedContentHash == nil {
		return nil, fault.Internal(errors.New("version not sealed"), "signature %s integrity incomplete", sig.ID)
	}
	recalculated := contentHash(file)
	match := recalculated == *ver.SignedContentHash
	status := VerificationValid
	if !match {
		status = VerificationInvalid
	}
	name, email := e.signerIdentity(ctx, sig.SignerID)
	ip := e.Config.Defaults.IPAddress
	if sig.IPAddress != nil {
		ip = *sig.IPAddress
	}
	e.Events.Record(ctx, "verify.file_checked", "signature", sig.ID, "public", events.EventPayload{"match": match})
	return &FileVerification{
		IsHashMatch:          match,
		VerificationStatus:   status,
		SignerName:           name,
		SignerEmail:          email,
		DocumentTitle:        doc.Title,
		IPAddress:            ip,
		StoredFileHash:       *ver.SignedContentHash,
		RecalculatedFileHash: recalculated,
	}, nil
}
