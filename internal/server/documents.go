package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"inktrail/internal/engine"
	"inktrail/internal/repo"
)

func registerDocuments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Create document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body struct {
			Document DocumentResponse `json:"document"`
			Version  VersionResponse  `json:"version"`
		} `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		doc, ver, err := e.CreateDocument(ctx, u.ID, input.Body.Title, input.Body.GroupID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Document DocumentResponse `json:"document"`
				Version  VersionResponse  `json:"version"`
			} `json:"body"`
		}{}
		out.Body.Document = documentResponse(doc)
		out.Body.Version = versionResponse(ver)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDocuments(ctx, repo.DocumentFilters{
			OwnerID: u.ID,
			Status:  input.Status,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		doc, err := e.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-document-versions",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/versions",
		Summary:     "List document versions",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []VersionResponse `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListVersions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VersionResponse `json:"body"`
		}{Body: mapVersions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-document-version",
		Method:        http.MethodPost,
		Path:          "/documents/{id}/versions",
		Summary:       "Append a new version",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AddVersionRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		ver, err := e.AddVersion(ctx, u.ID, input.ID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(ver)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/archive",
		Summary:     "Archive document",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := e.ArchiveDocument(ctx, u.ID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(doc)}, nil
	})
}
