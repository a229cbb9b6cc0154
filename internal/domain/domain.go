package domain

// Document statuses move forward only: draft -> pending -> completed -> archived.
const (
	DocumentDraft     = "draft"
	DocumentPending   = "pending"
	DocumentCompleted = "completed"
	DocumentArchived  = "archived"
)

// Signature record scopes.
const (
	ScopePersonal = "personal"
	ScopeGroup    = "group"
	ScopePackage  = "package"
)

// Group signer states.
const (
	SignerPending  = "PENDING"
	SignerSigned   = "SIGNED"
	SignerRejected = "REJECTED"
)

type Document struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Status           string  `json:"status" enum:"draft,pending,completed,archived"`
	OwnerID          string  `json:"owner_id"`
	GroupID          *string `json:"group_id,omitempty"`
	CurrentVersionID *string `json:"current_version_id,omitempty"`
	SignedURL        *string `json:"signed_url,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// DocumentVersion is immutable once SignedContentHash is set. A version row is
// deleted only as a compensating action when the coordinator invocation that
// created it fails before finalizing.
type DocumentVersion struct {
	ID                string  `json:"id"`
	DocumentID        string  `json:"document_id"`
	URL               string  `json:"url"`
	ContentHash       *string `json:"content_hash,omitempty"`
	SignedContentHash *string `json:"signed_content_hash,omitempty"`
	OwnerID           string  `json:"owner_id"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

// SignatureRecord is one recorded mark by one signer on one version.
// AccessCode, RetryCount and LockedUntil gate public verification of the record.
type SignatureRecord struct {
	ID                string  `json:"id"`
	DocumentVersionID string  `json:"document_version_id"`
	SignerID          string  `json:"signer_id"`
	Scope             string  `json:"scope" enum:"personal,group,package"`
	PositionX         float64 `json:"position_x"`
	PositionY         float64 `json:"position_y"`
	PageNumber        int     `json:"page_number"`
	Width             float64 `json:"width"`
	Height            float64 `json:"height"`
	Method            string  `json:"method"`
	Status            string  `json:"status" enum:"draft,finalized"`
	AccessCode        *string `json:"-"`
	RetryCount        int     `json:"retry_count"`
	LockedUntil       *string `json:"locked_until,omitempty" format:"date-time"`
	SignedAt          string  `json:"signed_at" format:"date-time"`
	IPAddress         *string `json:"ip_address,omitempty"`
	UserAgent         *string `json:"user_agent,omitempty"`
}

// GroupSigner is one per-user signing obligation on a group document.
// A document is complete when no row is PENDING.
type GroupSigner struct {
	DocumentID  string  `json:"document_id"`
	UserID      string  `json:"user_id"`
	Status      string  `json:"status" enum:"PENDING,SIGNED,REJECTED"`
	SignOrder   int     `json:"sign_order"`
	SignatureID *string `json:"signature_id,omitempty"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Session holds one refresh credential. RefreshHash is the SHA-256 hex digest
// of the refresh token; the raw token is never stored.
type Session struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	RefreshHash string `json:"refresh_hash"`
	ExpiresAt   string `json:"expires_at" format:"date-time"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
