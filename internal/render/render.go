// Package render produces signed document artifacts. The renderer consumes a
// base version plus signature placements and returns the composed bytes
// together with the public location the store assigned to them.
package render

import (
	"context"
	"encoding/json"
	"fmt"

	"inktrail/internal/domain"
)

type Options struct {
	DisplayMark bool
}

type Result struct {
	SignedBytes []byte
	PublicURL   string
}

// Renderer composes a signed artifact. Implementations must be safe for the
// caller to retry; the coordinators never retry automatically.
type Renderer interface {
	RenderSigned(ctx context.Context, base domain.DocumentVersion, placements []domain.SignatureRecord, opts Options) (Result, error)
}

// placementMark is the serialized form of one signature mark inside the
// signed artifact trailer.
type placementMark struct {
	SignerID   string  `json:"signer_id"`
	PageNumber int     `json:"page_number"`
	PositionX  float64 `json:"position_x"`
	PositionY  float64 `json:"position_y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Method     string  `json:"method"`
	SignedAt   string  `json:"signed_at"`
	Visible    bool    `json:"visible"`
}

const trailerMarker = "\n--inktrail:signatures--\n"

// Local renders by appending a deterministic signature trailer to the base
// bytes and storing the result. Placement order is preserved, so rendering
// the same inputs always yields the same bytes and hash.
type Local struct {
	Store Store
}

func (l Local) RenderSigned(ctx context.Context, base domain.DocumentVersion, placements []domain.SignatureRecord, opts Options) (Result, error) {
	if len(placements) == 0 {
		return Result{}, fmt.Errorf("render: no placements for version %s", base.ID)
	}
	data, err := l.Store.Get(ctx, base.URL)
	if err != nil {
		return Result{}, fmt.Errorf("render: read base version %s: %w", base.ID, err)
	}
	marks := make([]placementMark, 0, len(placements))
	for _, p := range placements {
		marks = append(marks, placementMark{
			SignerID:   p.SignerID,
			PageNumber: p.PageNumber,
			PositionX:  p.PositionX,
			PositionY:  p.PositionY,
			Width:      p.Width,
			Height:     p.Height,
			Method:     p.Method,
			SignedAt:   p.SignedAt,
			Visible:    opts.DisplayMark,
		})
	}
	trailer, err := json.Marshal(marks)
	if err != nil {
		return Result{}, fmt.Errorf("render: marshal placements: %w", err)
	}
	signed := make([]byte, 0, len(data)+len(trailerMarker)+len(trailer))
	signed = append(signed, data...)
	signed = append(signed, []byte(trailerMarker)...)
	signed = append(signed, trailer...)

	url, err := l.Store.Put(ctx, base.ID+".signed", signed)
	if err != nil {
		return Result{}, fmt.Errorf("render: store signed artifact: %w", err)
	}
	return Result{SignedBytes: signed, PublicURL: url}, nil
}
