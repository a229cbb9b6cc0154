package server

import (
	"inktrail/internal/domain"
	"inktrail/internal/engine"
)

type DocumentResponse struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Status           string  `json:"status" enum:"draft,pending,completed,archived"`
	OwnerID          string  `json:"owner_id"`
	GroupID          *string `json:"group_id,omitempty"`
	CurrentVersionID *string `json:"current_version_id,omitempty"`
	SignedURL        *string `json:"signed_url,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type VersionResponse struct {
	ID                string  `json:"id"`
	DocumentID        string  `json:"document_id"`
	URL               string  `json:"url"`
	ContentHash       *string `json:"content_hash,omitempty"`
	SignedContentHash *string `json:"signed_content_hash,omitempty"`
	OwnerID           string  `json:"owner_id"`
	CreatedAt         string  `json:"created_at"`
}

type SignatureResponse struct {
	ID                string  `json:"id"`
	DocumentVersionID string  `json:"document_version_id"`
	SignerID          string  `json:"signer_id"`
	Scope             string  `json:"scope"`
	PageNumber        int     `json:"page_number"`
	Method            string  `json:"method"`
	SignedAt          string  `json:"signed_at"`
	IPAddress         *string `json:"ip_address,omitempty"`
}

type GroupSignerResponse struct {
	DocumentID  string  `json:"document_id"`
	UserID      string  `json:"user_id"`
	Status      string  `json:"status" enum:"PENDING,SIGNED,REJECTED"`
	SignOrder   int     `json:"sign_order"`
	SignatureID *string `json:"signature_id,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

type CreateDocumentRequest struct {
	Title   string  `json:"title"`
	GroupID *string `json:"group_id,omitempty"`
	Content []byte  `json:"content"`
}

type AddVersionRequest struct {
	Content []byte `json:"content"`
}

type PlacementRequest struct {
	PositionX  float64 `json:"position_x,omitempty"`
	PositionY  float64 `json:"position_y,omitempty"`
	PageNumber int     `json:"page_number"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
	Method     string  `json:"method,omitempty"`
}

type PersonalSignRequest struct {
	BaseVersionID string             `json:"base_version_id"`
	Placements    []PlacementRequest `json:"placements"`
	DisplayMark   *bool              `json:"display_mark,omitempty"`
}

type GroupSignRequest struct {
	Placement PlacementRequest `json:"placement"`
}

type DeclineRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RegisterSignersRequest struct {
	UserIDs []string `json:"user_ids"`
}

type FinalizeRequest struct {
	AccessCode  string `json:"access_code,omitempty"`
	DisplayMark *bool  `json:"display_mark,omitempty"`
}

type FinalizeResponse struct {
	Document   DocumentResponse `json:"document"`
	AccessCode string           `json:"access_code"`
}

type GroupSignResponse struct {
	Signature        SignatureResponse `json:"signature"`
	IsComplete       bool              `json:"is_complete"`
	RemainingSigners int               `json:"remaining_signers"`
}

type UnlockRequest struct {
	AccessCode string `json:"access_code"`
}

type DevLoginRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SessionResponse struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:               d.ID,
		Title:            d.Title,
		Status:           d.Status,
		OwnerID:          d.OwnerID,
		GroupID:          d.GroupID,
		CurrentVersionID: d.CurrentVersionID,
		SignedURL:        d.SignedURL,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func mapDocuments(items []domain.Document) []DocumentResponse {
	res := make([]DocumentResponse, 0, len(items))
	for _, d := range items {
		res = append(res, documentResponse(d))
	}
	return res
}

func versionResponse(v domain.DocumentVersion) VersionResponse {
	return VersionResponse{
		ID:                v.ID,
		DocumentID:        v.DocumentID,
		URL:               v.URL,
		ContentHash:       v.ContentHash,
		SignedContentHash: v.SignedContentHash,
		OwnerID:           v.OwnerID,
		CreatedAt:         v.CreatedAt,
	}
}

func mapVersions(items []domain.DocumentVersion) []VersionResponse {
	res := make([]VersionResponse, 0, len(items))
	for _, v := range items {
		res = append(res, versionResponse(v))
	}
	return res
}

func signatureResponse(s domain.SignatureRecord) SignatureResponse {
	return SignatureResponse{
		ID:                s.ID,
		DocumentVersionID: s.DocumentVersionID,
		SignerID:          s.SignerID,
		Scope:             s.Scope,
		PageNumber:        s.PageNumber,
		Method:            s.Method,
		SignedAt:          s.SignedAt,
		IPAddress:         s.IPAddress,
	}
}

func groupSignerResponse(g domain.GroupSigner) GroupSignerResponse {
	return GroupSignerResponse{
		DocumentID:  g.DocumentID,
		UserID:      g.UserID,
		Status:      g.Status,
		SignOrder:   g.SignOrder,
		SignatureID: g.SignatureID,
		UpdatedAt:   g.UpdatedAt,
	}
}

func mapGroupSigners(items []domain.GroupSigner) []GroupSignerResponse {
	res := make([]GroupSignerResponse, 0, len(items))
	for _, g := range items {
		res = append(res, groupSignerResponse(g))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}

func toPlacement(p PlacementRequest) engine.Placement {
	return engine.Placement{
		PositionX:  p.PositionX,
		PositionY:  p.PositionY,
		PageNumber: p.PageNumber,
		Width:      p.Width,
		Height:     p.Height,
		Method:     p.Method,
	}
}
