package engine

import (
	"context"
	"testing"
	"time"

	"inktrail/internal/domain"
	"inktrail/internal/fault"
)

func TestSignPersonalCompletesDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, base := env.createDocument("u-owner", "NDA", []byte("nda body"))

	env.advance(time.Minute)
	placements := []Placement{{PositionX: 10, PositionY: 20, PageNumber: 1, Width: 120, Height: 40}}
	signed, err := env.eng.SignPersonal(ctx, "u-owner", base.ID, placements, AuditMeta{IPAddress: "10.0.0.1"}, SignOptions{DisplayMark: true})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.Status != domain.DocumentCompleted {
		t.Fatalf("expected completed, got %s", signed.Status)
	}
	if signed.CurrentVersionID == nil || signed.SignedURL == nil {
		t.Fatal("expected current version and signed url on the document")
	}

	ver, err := env.eng.Repo.GetVersion(ctx, *signed.CurrentVersionID)
	if err != nil {
		t.Fatalf("load signed version: %v", err)
	}
	if ver.SignedContentHash == nil {
		t.Fatal("expected sealed version")
	}
	artifact, err := env.eng.Store.Get(ctx, ver.URL)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	if contentHash(artifact) != *ver.SignedContentHash {
		t.Fatal("sealed hash does not match stored artifact")
	}

	sigs, err := env.eng.Repo.ListFinalizedSignatures(ctx, ver.ID)
	if err != nil {
		t.Fatalf("list signatures: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signature record, got %d", len(sigs))
	}
	if sigs[0].Method != env.eng.Config.Defaults.Method {
		t.Fatalf("expected default method, got %s", sigs[0].Method)
	}
	if sigs[0].IPAddress == nil || *sigs[0].IPAddress != "10.0.0.1" {
		t.Fatal("expected audit ip on record")
	}
}

func TestSignPersonalBatchIsAtomicOnRenderFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, base := env.createDocument("u-owner", "NDA", []byte("nda body"))
	env.eng.Renderer = failingRenderer{}

	_, err := env.eng.SignPersonal(ctx, "u-owner", base.ID, []Placement{{PageNumber: 1}, {PageNumber: 2}}, AuditMeta{}, SignOptions{})
	if !fault.IsKind(err, fault.KindInternal) {
		t.Fatalf("expected internal_error, got %v", err)
	}

	vers, lerr := env.eng.ListVersions(ctx, doc.ID)
	if lerr != nil {
		t.Fatalf("list versions: %v", lerr)
	}
	if len(vers) != 1 || vers[0].ID != base.ID {
		t.Fatalf("expected only the base version to survive rollback, got %d", len(vers))
	}
	after, gerr := env.eng.GetDocument(ctx, doc.ID)
	if gerr != nil {
		t.Fatalf("reload document: %v", gerr)
	}
	if after.Status != doc.Status {
		t.Fatalf("document status changed across failed sign: %s", after.Status)
	}
	sigs, serr := env.eng.Repo.ListFinalizedSignatures(ctx, base.ID)
	if serr != nil {
		t.Fatalf("list signatures: %v", serr)
	}
	if len(sigs) != 0 {
		t.Fatalf("expected no signature records after rollback, got %d", len(sigs))
	}
}

func TestSignPersonalPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, base := env.createDocument("u-owner", "NDA", []byte("nda body"))
	placement := []Placement{{PageNumber: 1}}

	if _, err := env.eng.SignPersonal(ctx, "u-owner", "missing", placement, AuditMeta{}, SignOptions{}); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("expected not_found for missing version, got %v", err)
	}
	if _, err := env.eng.SignPersonal(ctx, "u-intruder", base.ID, placement, AuditMeta{}, SignOptions{}); !fault.IsKind(err, fault.KindUnauthorized) {
		t.Fatalf("expected unauthorized for foreign version, got %v", err)
	}
	if _, err := env.eng.SignPersonal(ctx, "u-owner", base.ID, nil, AuditMeta{}, SignOptions{}); !fault.IsKind(err, fault.KindBadRequest) {
		t.Fatalf("expected bad_request for empty placements, got %v", err)
	}

	if _, err := env.eng.SignPersonal(ctx, "u-owner", base.ID, placement, AuditMeta{}, SignOptions{}); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if _, err := env.eng.SignPersonal(ctx, "u-owner", base.ID, placement, AuditMeta{}, SignOptions{}); !fault.IsKind(err, fault.KindBadRequest) {
		t.Fatalf("expected bad_request on completed document, got %v", err)
	}
}
