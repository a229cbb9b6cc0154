package engine

import (
	"context"
	"regexp"
	"testing"
	"time"

	"inktrail/internal/domain"
	"inktrail/internal/fault"
)

func TestGroupSigningLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, _ := env.createDocument("u-owner", "partnership agreement", []byte("agreement body"))

	signers, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a", "u-b"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(signers) != 2 {
		t.Fatalf("expected 2 signers, got %d", len(signers))
	}
	reloaded, err := env.eng.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != domain.DocumentPending {
		t.Fatalf("expected pending after roster creation, got %s", reloaded.Status)
	}

	env.advance(time.Minute)
	resA, err := env.eng.RecordGroupSignature(ctx, "u-a", doc.ID, Placement{PageNumber: 1}, AuditMeta{})
	if err != nil {
		t.Fatalf("sign A: %v", err)
	}
	if resA.IsComplete || resA.RemainingSigners != 1 {
		t.Fatalf("after A: complete=%v remaining=%d", resA.IsComplete, resA.RemainingSigners)
	}

	env.advance(time.Minute)
	resB, err := env.eng.RecordGroupSignature(ctx, "u-b", doc.ID, Placement{PageNumber: 2}, AuditMeta{})
	if err != nil {
		t.Fatalf("sign B: %v", err)
	}
	if !resB.IsComplete || resB.RemainingSigners != 0 {
		t.Fatalf("after B: complete=%v remaining=%d", resB.IsComplete, resB.RemainingSigners)
	}

	env.advance(time.Minute)
	completed, code, err := env.eng.FinalizeGroup(ctx, "u-owner", doc.ID, "", SignOptions{DisplayMark: true})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if completed.Status != domain.DocumentCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Fatalf("expected a 6-digit access code, got %q", code)
	}

	ver, err := env.eng.Repo.GetVersion(ctx, *completed.CurrentVersionID)
	if err != nil {
		t.Fatalf("load sealed version: %v", err)
	}
	if ver.SignedContentHash == nil {
		t.Fatal("expected sealed version after finalize")
	}
	artifact, err := env.eng.Store.Get(ctx, ver.URL)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	if contentHash(artifact) != *ver.SignedContentHash {
		t.Fatal("sealed hash does not match composite artifact")
	}

	sigs, err := env.eng.Repo.ListFinalizedSignatures(ctx, ver.ID)
	if err != nil {
		t.Fatalf("list signatures: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures on the sealed version, got %d", len(sigs))
	}
	// Composite ordering follows signing time, A before B.
	if sigs[0].SignerID != "u-a" || sigs[1].SignerID != "u-b" {
		t.Fatalf("unexpected composite order: %s, %s", sigs[0].SignerID, sigs[1].SignerID)
	}
	for _, s := range sigs {
		if s.AccessCode == nil || *s.AccessCode != code {
			t.Fatal("expected the access code stamped on every record")
		}
	}
}

func TestRegisterSignersIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, _ := env.createDocument("u-owner", "agreement", []byte("body"))

	if _, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	signers, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a", "u-b"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if len(signers) != 2 {
		t.Fatalf("expected 2 signers after duplicate registration, got %d", len(signers))
	}
	for _, s := range signers {
		if s.UserID == "u-a" && s.SignOrder != 1 {
			t.Fatalf("duplicate registration changed existing order to %d", s.SignOrder)
		}
	}
}

func TestRegisterSignersPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, _ := env.createDocument("u-owner", "agreement", []byte("body"))

	if _, err := env.eng.RegisterSigners(ctx, "u-intruder", doc.ID, []string{"u-a"}); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	env.eng.Config.Admins = []string{"u-admin"}
	if _, err := env.eng.RegisterSigners(ctx, "u-admin", doc.ID, []string{"u-a"}); err != nil {
		t.Fatalf("admin register: %v", err)
	}
}

func TestRecordSignatureRequiresPendingRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, _ := env.createDocument("u-owner", "agreement", []byte("body"))
	if _, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := env.eng.RecordGroupSignature(ctx, "u-stranger", doc.ID, Placement{}, AuditMeta{}); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("expected not_found for stranger, got %v", err)
	}
	if _, err := env.eng.RecordGroupSignature(ctx, "u-a", doc.ID, Placement{}, AuditMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := env.eng.RecordGroupSignature(ctx, "u-a", doc.ID, Placement{}, AuditMeta{}); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden for double sign, got %v", err)
	}
}

func TestFinalizeRequiresAllResolved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, _ := env.createDocument("u-owner", "agreement", []byte("body"))
	if _, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a", "u-b"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.eng.RecordGroupSignature(ctx, "u-a", doc.ID, Placement{}, AuditMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, _, err := env.eng.FinalizeGroup(ctx, "u-owner", doc.ID, "123456", SignOptions{}); !fault.IsKind(err, fault.KindBadRequest) {
		t.Fatalf("expected bad_request with pending signers, got %v", err)
	}
	if _, _, err := env.eng.FinalizeGroup(ctx, "u-b", doc.ID, "123456", SignOptions{}); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
}

func TestFinalizeFailureLeavesDocumentUnfinished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, base := env.createDocument("u-owner", "agreement", []byte("body"))
	if _, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.eng.RecordGroupSignature(ctx, "u-a", doc.ID, Placement{}, AuditMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	env.eng.Renderer = failingRenderer{}
	if _, _, err := env.eng.FinalizeGroup(ctx, "u-owner", doc.ID, "123456", SignOptions{}); !fault.IsKind(err, fault.KindInternal) {
		t.Fatalf("expected internal_error, got %v", err)
	}
	after, err := env.eng.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.Status == domain.DocumentCompleted {
		t.Fatal("document must not be completed after a failed finalize")
	}
	ver, err := env.eng.Repo.GetVersion(ctx, base.ID)
	if err != nil {
		t.Fatalf("reload version: %v", err)
	}
	if ver.SignedContentHash != nil {
		t.Fatal("version must not be sealed after a failed finalize")
	}
}

func TestDeclineRemoveAndResetSigners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, _ := env.createDocument("u-owner", "agreement", []byte("body"))
	if _, err := env.eng.RegisterSigners(ctx, "u-owner", doc.ID, []string{"u-a", "u-b", "u-c"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := env.eng.DeclineSignature(ctx, "u-b", doc.ID, "terms unacceptable"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if err := env.eng.DeclineSignature(ctx, "u-b", doc.ID, "again"); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden for resolved signer, got %v", err)
	}

	if _, err := env.eng.RecordGroupSignature(ctx, "u-a", doc.ID, Placement{}, AuditMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := env.eng.RemoveSigner(ctx, "u-owner", doc.ID, "u-a"); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden removing a signed row, got %v", err)
	}
	if err := env.eng.RemoveSigner(ctx, "u-owner", doc.ID, "u-c"); err != nil {
		t.Fatalf("remove pending signer: %v", err)
	}

	signers, err := env.eng.ResetSigners(ctx, "u-owner", doc.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(signers) != 2 {
		t.Fatalf("expected 2 signers after removal, got %d", len(signers))
	}
	for _, s := range signers {
		if s.Status != domain.SignerPending {
			t.Fatalf("expected PENDING after reset, got %s for %s", s.Status, s.UserID)
		}
		if s.SignatureID != nil {
			t.Fatalf("expected signature link cleared for %s", s.UserID)
		}
	}
}
