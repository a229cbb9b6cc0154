package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"inktrail/internal/domain"
	"inktrail/internal/fault"
	"inktrail/internal/repo"
	"inktrail/internal/session"
)

type userKey struct{}

func withUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFromContext(ctx context.Context) (domain.User, huma.StatusError) {
	if u, ok := ctx.Value(userKey{}).(domain.User); ok && u.ID != "" {
		return u, nil
	}
	return domain.User{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookies writes both httpOnly session cookies for a freshly issued
// pair.
func setSessionCookies(w http.ResponseWriter, cfg Config, tokens session.TokenPair) {
	policy := cfg.Engine.Config.Session
	http.SetCookie(w, &http.Cookie{
		Name:     policy.AccessCookieName,
		Value:    tokens.AccessToken,
		Path:     "/",
		Expires:  tokens.AccessExpires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     policy.RefreshCookieName,
		Value:    tokens.RefreshToken,
		Path:     "/",
		Expires:  tokens.RefreshExpires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookies expires both cookies immediately. Used on logout and on
// failed refresh.
func clearSessionCookies(w http.ResponseWriter, cfg Config) {
	policy := cfg.Engine.Config.Session
	for _, name := range []string{policy.AccessCookieName, policy.RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func isPublicPath(basePath, p string) bool {
	public := []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "openapi"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "auth/dev/login"),
		path.Join(basePath, "auth/refresh"),
	}
	for _, pub := range public {
		if p == pub {
			return true
		}
	}
	return strings.HasPrefix(p, path.Join(basePath, "verify"))
}

// newSessionMiddleware authenticates requests under the API base path. A
// valid access token passes through; an expired one is transparently
// refreshed through the guard so concurrent requests on the same refresh
// token trigger a single rotation. Failed refreshes clear both cookies.
func newSessionMiddleware(basePath string, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if isPublicPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			policy := cfg.Engine.Config.Session

			accessToken := cookieValue(req, policy.AccessCookieName)
			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				accessToken = token
			}

			if accessToken != "" {
				u, err := cfg.Sessions.ValidateAccessToken(accessToken)
				if err == nil {
					next.ServeHTTP(w, req.WithContext(withUser(req.Context(), u)))
					return
				}
				if !fault.IsKind(err, fault.KindSessionExpired) {
					respondStatusError(w, handleError(err))
					return
				}
			}

			refreshToken := cookieValue(req, policy.RefreshCookieName)
			if refreshToken == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			res, err := cfg.Guard.RefreshWithLock(req.Context(), refreshToken)
			if err != nil {
				clearSessionCookies(w, cfg)
				respondStatusError(w, handleError(err))
				return
			}
			setSessionCookies(w, cfg, res.Tokens)
			next.ServeHTTP(w, req.WithContext(withUser(req.Context(), res.User)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func responseWriter(ctx context.Context) http.ResponseWriter {
	w, _ := ctx.Value(responseKey{}).(http.ResponseWriter)
	return w
}

func request(ctx context.Context) *http.Request {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	return r
}

func registerAuth(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: open a session for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		email := strings.TrimSpace(input.Body.Email)
		if email == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		u, err := e.Repo.GetUserByEmail(ctx, email)
		if errors.Is(err, repo.ErrNotFound) {
			name := strings.TrimSpace(input.Body.Name)
			if name == "" {
				name = e.Config.Defaults.SignerName
			}
			u = domain.User{
				ID:        uuid.New().String(),
				Name:      name,
				Email:     email,
				CreatedAt: e.Now().UTC().Format(time.RFC3339),
			}
			if err := e.Repo.InsertUser(ctx, u); err != nil {
				return nil, handleError(fault.Database(err, "create user"))
			}
		} else if err != nil {
			return nil, handleError(fault.Database(err, "load user"))
		}
		tokens, err := cfg.Sessions.Login(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		if w := responseWriter(ctx); w != nil {
			setSessionCookies(w, cfg, tokens)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{
			UserID:       u.ID,
			Name:         u.Name,
			Email:        u.Email,
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-session",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Rotate the session credential",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body struct {
			RefreshToken string `json:"refresh_token,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		refreshToken := strings.TrimSpace(input.Body.RefreshToken)
		if refreshToken == "" {
			if r := request(ctx); r != nil {
				refreshToken = cookieValue(r, e.Config.Session.RefreshCookieName)
			}
		}
		if refreshToken == "" {
			return nil, newAPIError(http.StatusUnauthorized, "session_expired", "session expired", nil)
		}
		res, err := cfg.Guard.RefreshWithLock(ctx, refreshToken)
		if err != nil {
			if w := responseWriter(ctx); w != nil {
				clearSessionCookies(w, cfg)
			}
			return nil, handleError(err)
		}
		if w := responseWriter(ctx); w != nil {
			setSessionCookies(w, cfg, res.Tokens)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{
			UserID:       res.User.ID,
			Name:         res.User.Name,
			Email:        res.User.Email,
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "Close the current session",
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if r := request(ctx); r != nil {
			if refreshToken := cookieValue(r, e.Config.Session.RefreshCookieName); refreshToken != "" {
				if err := cfg.Sessions.Logout(ctx, refreshToken); err != nil {
					return nil, handleError(err)
				}
			}
		}
		if w := responseWriter(ctx); w != nil {
			clearSessionCookies(w, cfg)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		u, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{UserID: u.ID, Name: u.Name, Email: u.Email}}, nil
	})
}
