package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"inktrail/internal/engine"
)

// Public verification surface. No authentication; error messages stay coarse
// so callers cannot probe beyond the documented not-found/locked distinction.
func registerVerification(api huma.API, router chi.Router, basePath string, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verification-details",
		Method:      http.MethodGet,
		Path:        "/verify/{signature_id}",
		Summary:     "Public signature details",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SignatureID string `path:"signature_id"`
	}) (*struct {
		Body *engine.VerificationView `json:"body"`
	}, error) {
		view, err := e.VerificationDetails(ctx, input.SignatureID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *engine.VerificationView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlock-verification",
		Method:      http.MethodPost,
		Path:        "/verify/{signature_id}/unlock",
		Summary:     "Unlock a PIN-gated signature",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		SignatureID string        `path:"signature_id"`
		Body        UnlockRequest `json:"body"`
	}) (*struct {
		Body *engine.VerificationView `json:"body"`
	}, error) {
		view, err := e.Unlock(ctx, input.SignatureID, input.Body.AccessCode)
		if err != nil {
			return nil, handleError(err)
		}
		// A missing signature yields a null body, not an error.
		return &struct {
			Body *engine.VerificationView `json:"body"`
		}{Body: view}, nil
	})

	registerVerifyFile(router, basePath, e)
}

// registerVerifyFile handles the multipart upload check as a plain chi route;
// the file lands in memory and never touches the schema layer.
func registerVerifyFile(router chi.Router, basePath string, e *engine.Engine) {
	router.Post(path.Join(basePath, "verify-file"), func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required", nil))
			return
		}
		signatureID := r.FormValue("signature_id")
		if signatureID == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "signature_id is required", nil))
			return
		}
		if code := r.FormValue("access_code"); code != "" {
			if _, err := e.Unlock(r.Context(), signatureID, code); err != nil {
				respondStatusError(w, handleError(err))
				return
			}
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file", nil))
			return
		}
		res, err := e.VerifyUploadedFile(r.Context(), signatureID, data)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
}
