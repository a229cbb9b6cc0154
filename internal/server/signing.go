package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"inktrail/internal/engine"
)

func signMeta(ctx context.Context) engine.AuditMeta {
	meta := engine.AuditMeta{}
	if r := request(ctx); r != nil {
		meta.IPAddress = r.RemoteAddr
		meta.UserAgent = r.UserAgent()
	}
	return meta
}

func registerSigning(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sign-personal",
		Method:      http.MethodPost,
		Path:        "/sign/personal",
		Summary:     "Sign a document alone",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body PersonalSignRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.BaseVersionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "base_version_id is required", nil)
		}
		placements := make([]engine.Placement, 0, len(input.Body.Placements))
		for _, p := range input.Body.Placements {
			placements = append(placements, toPlacement(p))
		}
		opts := engine.SignOptions{DisplayMark: true}
		if input.Body.DisplayMark != nil {
			opts.DisplayMark = *input.Body.DisplayMark
		}
		doc, err := e.SignPersonal(ctx, u.ID, input.Body.BaseVersionID, placements, signMeta(ctx), opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-signers",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/signers",
		Summary:     "Register group signers",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RegisterSignersRequest `json:"body"`
	}) (*struct {
		Body []GroupSignerResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		signers, err := e.RegisterSigners(ctx, u.ID, input.ID, input.Body.UserIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GroupSignerResponse `json:"body"`
		}{Body: mapGroupSigners(signers)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signers",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/signers",
		Summary:     "List group signers",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []GroupSignerResponse `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetDocument(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		signers, err := e.Repo.ListGroupSigners(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GroupSignerResponse `json:"body"`
		}{Body: mapGroupSigners(signers)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "group-sign",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/sign",
		Summary:     "Record a group signature",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body GroupSignRequest `json:"body"`
	}) (*struct {
		Body GroupSignResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		res, err := e.RecordGroupSignature(ctx, u.ID, input.ID, toPlacement(input.Body.Placement), signMeta(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupSignResponse `json:"body"`
		}{Body: GroupSignResponse{
			Signature:        signatureResponse(res.Signature),
			IsComplete:       res.IsComplete,
			RemainingSigners: res.RemainingSigners,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-signature",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/decline",
		Summary:     "Decline to sign",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body DeclineRequest `json:"body"`
	}) (*struct{}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeclineSignature(ctx, u.ID, input.ID, input.Body.Reason); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/finalize",
		Summary:     "Finalize a fully signed document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FinalizeRequest `json:"body"`
	}) (*struct {
		Body FinalizeResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SignOptions{DisplayMark: true}
		if input.Body.DisplayMark != nil {
			opts.DisplayMark = *input.Body.DisplayMark
		}
		doc, code, err := e.FinalizeGroup(ctx, u.ID, input.ID, input.Body.AccessCode, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FinalizeResponse `json:"body"`
		}{Body: FinalizeResponse{Document: documentResponse(doc), AccessCode: code}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-signer",
		Method:      http.MethodDelete,
		Path:        "/documents/{id}/signers/{user_id}",
		Summary:     "Remove a pending signer",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveSigner(ctx, u.ID, input.ID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-signers",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/signers/reset",
		Summary:     "Reset the signer roster to PENDING",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []GroupSignerResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		signers, err := e.ResetSigners(ctx, u.ID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GroupSignerResponse `json:"body"`
		}{Body: mapGroupSigners(signers)}, nil
	})
}
