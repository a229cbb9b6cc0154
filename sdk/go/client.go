package inktrailsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Inktrail HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Document represents the API document model (partial).
type Document struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	OwnerID          string  `json:"owner_id"`
	CurrentVersionID *string `json:"current_version_id,omitempty"`
	SignedURL        *string `json:"signed_url,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// Version represents one immutable document revision.
type Version struct {
	ID                string  `json:"id"`
	DocumentID        string  `json:"document_id"`
	URL               string  `json:"url"`
	ContentHash       *string `json:"content_hash,omitempty"`
	SignedContentHash *string `json:"signed_content_hash,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Signature represents a recorded signature.
type Signature struct {
	ID                string `json:"id"`
	DocumentVersionID string `json:"document_version_id"`
	SignerID          string `json:"signer_id"`
	Scope             string `json:"scope"`
	SignedAt          string `json:"signed_at"`
}

// GroupSigner is one roster entry on a group document.
type GroupSigner struct {
	DocumentID  string  `json:"document_id"`
	UserID      string  `json:"user_id"`
	Status      string  `json:"status"`
	SignOrder   int     `json:"sign_order"`
	SignatureID *string `json:"signature_id,omitempty"`
}

// Placement positions a signature mark on a page.
type Placement struct {
	PositionX  float64 `json:"position_x"`
	PositionY  float64 `json:"position_y"`
	PageNumber int     `json:"page_number"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Method     string  `json:"method,omitempty"`
}

// GroupSignResult reports roster progress after one signature.
type GroupSignResult struct {
	Signature        Signature `json:"signature"`
	IsComplete       bool      `json:"is_complete"`
	RemainingSigners int       `json:"remaining_signers"`
}

// FinalizeResult carries the sealed document and its access code.
type FinalizeResult struct {
	Document   Document `json:"document"`
	AccessCode string   `json:"access_code"`
}

// VerificationView is the public verification payload. Locked views carry
// only the title and type.
type VerificationView struct {
	IsLocked           bool    `json:"is_locked"`
	RequireUpload      bool    `json:"require_upload"`
	DocumentTitle      string  `json:"document_title"`
	Type               string  `json:"type"`
	SignerName         *string `json:"signer_name,omitempty"`
	SignerEmail        *string `json:"signer_email,omitempty"`
	SignedAt           *string `json:"signed_at,omitempty"`
	StoredHash         *string `json:"stored_hash,omitempty"`
	OriginalURL        *string `json:"original_url,omitempty"`
	VerificationStatus string  `json:"verification_status,omitempty"`
}

// FileVerification reports an uploaded-file integrity check.
type FileVerification struct {
	IsHashMatch          bool    `json:"is_hash_match"`
	VerificationStatus   string  `json:"verification_status"`
	SignerName           string  `json:"signer_name"`
	SignerEmail          string  `json:"signer_email"`
	DocumentTitle        string  `json:"document_title"`
	IPAddress            *string `json:"ip_address,omitempty"`
	StoredFileHash       string  `json:"stored_file_hash"`
	RecalculatedFileHash string  `json:"recalculated_file_hash"`
}

// Session is the response to a login or refresh.
type Session struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin opens a session and stores its bearer token on the client.
func (c *Client) DevLogin(ctx context.Context, name, email string) (Session, error) {
	body := map[string]any{
		"name":  name,
		"email": email,
	}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return Session{}, err
	}
	c.BearerToken = resp.AccessToken
	return resp, nil
}

// Refresh rotates the session credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	body := map[string]any{"refresh_token": refreshToken}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v0/auth/refresh", body, &resp); err != nil {
		return Session{}, err
	}
	c.BearerToken = resp.AccessToken
	return resp, nil
}

// CreateDocument uploads content and opens version history.
func (c *Client) CreateDocument(ctx context.Context, title string, content []byte) (Document, Version, error) {
	body := map[string]any{
		"title":   title,
		"content": content,
	}
	var resp struct {
		Document Document `json:"document"`
		Version  Version  `json:"version"`
	}
	err := c.do(ctx, http.MethodPost, "v0/documents", body, &resp)
	return resp.Document, resp.Version, err
}

// Documents lists the caller's documents, optionally filtered by status.
func (c *Client) Documents(ctx context.Context, status string) ([]Document, error) {
	endpoint := "v0/documents"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Document
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Versions lists a document's revisions, newest first.
func (c *Client) Versions(ctx context.Context, documentID string) ([]Version, error) {
	var resp []Version
	endpoint := fmt.Sprintf("v0/documents/%s/versions", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SignPersonal signs a version alone and seals the document.
func (c *Client) SignPersonal(ctx context.Context, baseVersionID string, placements []Placement) (Document, error) {
	body := map[string]any{
		"base_version_id": baseVersionID,
		"placements":      placements,
	}
	var resp Document
	err := c.do(ctx, http.MethodPost, "v0/sign/personal", body, &resp)
	return resp, err
}

// RegisterSigners enrolls the given users on a document roster.
func (c *Client) RegisterSigners(ctx context.Context, documentID string, userIDs []string) ([]GroupSigner, error) {
	body := map[string]any{"user_ids": userIDs}
	var resp []GroupSigner
	endpoint := fmt.Sprintf("v0/documents/%s/signers", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GroupSign records the caller's signature on a group document.
func (c *Client) GroupSign(ctx context.Context, documentID string, placement Placement) (GroupSignResult, error) {
	body := map[string]any{"placement": placement}
	var resp GroupSignResult
	endpoint := fmt.Sprintf("v0/documents/%s/sign", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Decline marks the caller's roster entry REJECTED.
func (c *Client) Decline(ctx context.Context, documentID, reason string) error {
	body := map[string]any{"reason": reason}
	endpoint := fmt.Sprintf("v0/documents/%s/decline", url.PathEscape(documentID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Finalize seals a fully signed group document. An empty accessCode asks the
// server to generate one.
func (c *Client) Finalize(ctx context.Context, documentID, accessCode string) (FinalizeResult, error) {
	body := map[string]any{"access_code": accessCode}
	var resp FinalizeResult
	endpoint := fmt.Sprintf("v0/documents/%s/finalize", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// VerificationDetails fetches the public view for a signature.
func (c *Client) VerificationDetails(ctx context.Context, signatureID string) (VerificationView, error) {
	var resp VerificationView
	endpoint := fmt.Sprintf("v0/verify/%s", url.PathEscape(signatureID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Unlock submits an access code for a PIN-gated signature. A nil view means
// the signature does not exist.
func (c *Client) Unlock(ctx context.Context, signatureID, accessCode string) (*VerificationView, error) {
	body := map[string]any{"access_code": accessCode}
	var resp *VerificationView
	endpoint := fmt.Sprintf("v0/verify/%s/unlock", url.PathEscape(signatureID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// VerifyFile uploads candidate bytes and checks them against the stored hash.
func (c *Client) VerifyFile(ctx context.Context, signatureID, accessCode string, file []byte) (FileVerification, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("signature_id", signatureID); err != nil {
		return FileVerification{}, err
	}
	if accessCode != "" {
		if err := mw.WriteField("access_code", accessCode); err != nil {
			return FileVerification{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", "document.signed")
	if err != nil {
		return FileVerification{}, err
	}
	if _, err := fw.Write(file); err != nil {
		return FileVerification{}, err
	}
	if err := mw.Close(); err != nil {
		return FileVerification{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/v0/verify-file", &buf)
	if err != nil {
		return FileVerification{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp FileVerification
	err = c.send(req, &resp)
	return resp, err
}

// Events returns recent audit entries.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
