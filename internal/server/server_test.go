package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"testing"

	"inktrail/internal/config"
	"inktrail/internal/db"
	"inktrail/internal/engine"
	"inktrail/internal/migrate"
	"inktrail/internal/render"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	close  func()
}

func (s *testServer) Close() { s.close() }

// Client returns a fresh cookie-jar client, one session per caller.
func (s *testServer) Client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("inktrail")
	cfg.Session.JWTSecret = "test-secret"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := render.NewLocalStore(workspace, cfg.Service.PublicURL)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	e := engine.New(conn, cfg, render.Local{Store: store}, store)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Files: store})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, client *http.Client, name, email string) SessionResponse {
	t.Helper()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"name":  name,
		"email": email,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var session SessionResponse
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return session
}

func createDocument(t *testing.T, srv *testServer, client *http.Client, title string, content []byte) (string, string) {
	t.Helper()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents", map[string]any{
		"title":   title,
		"content": content,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create document status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Document DocumentResponse `json:"document"`
		Version  VersionResponse  `json:"version"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	return out.Document.ID, out.Version.ID
}

func TestRequiresSession(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client(t)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// Health and verification stay public.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/verify/unknown", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("verify unknown status %d", res.StatusCode)
	}
}

func TestPersonalSignAndPublicVerify(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client(t)
	login(t, srv, client, "Olive Owner", "olive@example.com")

	content := []byte("employment agreement")
	_, versionID := createDocument(t, srv, client, "Employment agreement", content)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sign/personal", map[string]any{
		"base_version_id": versionID,
		"placements": []map[string]any{
			{"position_x": 10, "position_y": 20, "page_number": 1, "width": 100, "height": 40},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign status %d: %s", res.StatusCode, string(data))
	}
	var doc DocumentResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if doc.Status != "completed" || doc.CurrentVersionID == nil {
		t.Fatalf("unexpected document after sign: %+v", doc)
	}

	ctx := context.Background()
	sigs, err := srv.Engine.Repo.ListFinalizedSignatures(ctx, *doc.CurrentVersionID)
	if err != nil || len(sigs) != 1 {
		t.Fatalf("list signatures: %v (%d)", err, len(sigs))
	}
	sigID := sigs[0].ID

	public := srv.Client(t)
	res, data = doJSON(t, public, http.MethodGet, srv.URL+"/v0/verify/"+sigID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	var view engine.VerificationView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.IsLocked {
		t.Fatal("personal signature without access code must be open")
	}
	if view.SignerName == nil || *view.SignerName != "Olive Owner" {
		t.Fatalf("expected signer name, got %+v", view.SignerName)
	}

	ver, err := srv.Engine.Repo.GetVersion(ctx, *doc.CurrentVersionID)
	if err != nil {
		t.Fatalf("load version: %v", err)
	}
	artifact, err := srv.Engine.Store.Get(ctx, ver.URL)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}

	check := postVerifyFile(t, public, srv.URL, sigID, "", artifact)
	if !check.IsHashMatch || check.VerificationStatus != engine.VerificationValid {
		t.Fatalf("expected valid file, got %+v", check)
	}

	artifact[0] ^= 0x01
	check = postVerifyFile(t, public, srv.URL, sigID, "", artifact)
	if check.IsHashMatch || check.VerificationStatus != engine.VerificationInvalid {
		t.Fatalf("expected invalid file, got %+v", check)
	}
}

func postVerifyFile(t *testing.T, client *http.Client, baseURL, signatureID, accessCode string, file []byte) engine.FileVerification {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("signature_id", signatureID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if accessCode != "" {
		if err := mw.WriteField("access_code", accessCode); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "document.signed")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(file); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v0/verify-file", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify-file status %d: %s", res.StatusCode, string(data))
	}
	var out engine.FileVerification
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal verification: %v", err)
	}
	return out
}

func TestGroupFlowWithPINUnlock(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	owner := srv.Client(t)
	login(t, srv, owner, "Olive Owner", "olive@example.com")
	clientA := srv.Client(t)
	sessionA := login(t, srv, clientA, "Ada", "ada@example.com")
	clientB := srv.Client(t)
	sessionB := login(t, srv, clientB, "Ben", "ben@example.com")

	docID, _ := createDocument(t, srv, owner, "Partnership agreement", []byte("terms"))

	res, data := doJSON(t, owner, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/signers", map[string]any{
		"user_ids": []string{sessionA.UserID, sessionB.UserID},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register signers status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, clientA, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/sign", map[string]any{
		"placement": map[string]any{"page_number": 1},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign A status %d: %s", res.StatusCode, string(data))
	}
	var signA GroupSignResponse
	if err := json.Unmarshal(data, &signA); err != nil {
		t.Fatalf("unmarshal sign A: %v", err)
	}
	if signA.IsComplete || signA.RemainingSigners != 1 {
		t.Fatalf("after A: %+v", signA)
	}

	res, data = doJSON(t, clientB, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/sign", map[string]any{
		"placement": map[string]any{"page_number": 2},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign B status %d: %s", res.StatusCode, string(data))
	}
	var signB GroupSignResponse
	if err := json.Unmarshal(data, &signB); err != nil {
		t.Fatalf("unmarshal sign B: %v", err)
	}
	if !signB.IsComplete || signB.RemainingSigners != 0 {
		t.Fatalf("after B: %+v", signB)
	}

	res, data = doJSON(t, owner, http.MethodPost, srv.URL+"/v0/documents/"+docID+"/finalize", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, string(data))
	}
	var fin FinalizeResponse
	if err := json.Unmarshal(data, &fin); err != nil {
		t.Fatalf("unmarshal finalize: %v", err)
	}
	if fin.Document.Status != "completed" || fin.AccessCode == "" {
		t.Fatalf("unexpected finalize result: %+v", fin)
	}

	sigID := signA.Signature.ID
	public := srv.Client(t)

	res, data = doJSON(t, public, http.MethodGet, srv.URL+"/v0/verify/"+sigID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	var view engine.VerificationView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if !view.IsLocked {
		t.Fatal("expected locked view before unlock")
	}

	res, _ = doJSON(t, public, http.MethodPost, srv.URL+"/v0/verify/"+sigID+"/unlock", map[string]any{
		"access_code": "000000",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong pin status %d", res.StatusCode)
	}

	res, data = doJSON(t, public, http.MethodPost, srv.URL+"/v0/verify/"+sigID+"/unlock", map[string]any{
		"access_code": fin.AccessCode,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unlock status %d: %s", res.StatusCode, string(data))
	}
	var unlocked engine.VerificationView
	if err := json.Unmarshal(data, &unlocked); err != nil {
		t.Fatalf("unmarshal unlocked: %v", err)
	}
	if unlocked.IsLocked || !unlocked.RequireUpload || unlocked.SignerName != nil {
		t.Fatalf("unexpected unlocked view: %+v", unlocked)
	}

	// Unlock on a missing signature responds with a null body, not 404.
	res, data = doJSON(t, public, http.MethodPost, srv.URL+"/v0/verify/unknown/unlock", map[string]any{
		"access_code": "123456",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unlock unknown status %d", res.StatusCode)
	}
	if s := string(bytes.TrimSpace(data)); s != "null" {
		t.Fatalf("expected null body, got %s", s)
	}
}

func TestRefreshCookieRecoversSession(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client(t)
	session := login(t, srv, client, "Olive Owner", "olive@example.com")

	// Only the refresh cookie survives; the middleware must rotate and
	// let the request through.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/me", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{
		Name:  srv.Engine.Config.Session.RefreshCookieName,
		Value: session.RefreshToken,
	})
	res, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.UserID != session.UserID {
		t.Fatalf("expected user %s, got %s", session.UserID, who.UserID)
	}
	found := false
	for _, c := range res.Cookies() {
		if c.Name == srv.Engine.Config.Session.AccessCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a fresh access cookie after transparent refresh")
	}

	// A straggler arriving inside the grace window shares the same rotation
	// instead of failing on the now-stale token.
	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/me", nil)
	req2.AddCookie(&http.Cookie{
		Name:  srv.Engine.Config.Session.RefreshCookieName,
		Value: session.RefreshToken,
	})
	res2, err := (&http.Client{}).Do(req2)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("expected straggler to share the refresh, got %d", res2.StatusCode)
	}
}
