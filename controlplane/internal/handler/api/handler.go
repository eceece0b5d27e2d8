package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"wg-sso-gateway/controlplane/internal/model"
	"wg-sso-gateway/controlplane/internal/repository"
	"wg-sso-gateway/controlplane/internal/service"
	"wg-sso-gateway/internal/protocol"
)

const apiTitle = "WireGuard SSO Gateway API"

type LoginFlow interface {
	Start(ctx context.Context, req protocol.StartLoginRequest) (protocol.StartLoginResponse, error)
	Finish(ctx context.Context, req protocol.FinishLoginRequest) (protocol.FinishLoginResponse, error)
}

type LeaseLister interface {
	Leases() []model.Lease
}

type Handler struct {
	logins   LoginFlow
	sessions LeaseLister
	repo     repository.Repository
	logger   *slog.Logger
}

func NewHandler(logins LoginFlow, sessions LeaseLister, repo repository.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logins: logins, sessions: sessions, repo: repo, logger: logger}
}

// Options carries the middleware wrapped around each route group.
type Options struct {
	LoginMiddleware []func(http.Handler) http.Handler
	// AdminAuth guards the admin endpoints; nil leaves them unregistered.
	AdminAuth func(http.Handler) http.Handler
}

// --- Request/Response types ---

type StartLoginInput struct {
	Body protocol.StartLoginRequest
}

type StartLoginOutput struct {
	Body protocol.StartLoginResponse
}

type FinishLoginInput struct {
	Body protocol.FinishLoginRequest
}

type FinishLoginOutput struct {
	Body protocol.FinishLoginResponse
}

type Session struct {
	IdentityKey     string    `json:"identity_key"`
	Email           string    `json:"email,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	ClientPublicKey string    `json:"client_public_key"`
	ClientAddress   string    `json:"client_address"`
	EndsAt          time.Time `json:"ends_at"`
}

type ListSessionsOutput struct {
	Body []Session
}

type ListLoginsInput struct {
	Email string `query:"email" doc:"Only logins by this email"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

type ListLoginsOutput struct {
	Body []model.LoginRecord
}

type GetLoginInput struct {
	ID string `path:"id"`
}

type GetLoginOutput struct {
	Body model.LoginRecord
}

// --- Register routes ---

func (h *Handler) RegisterRoutes(r chi.Router, opts Options) {
	r.Group(func(r chi.Router) {
		for _, mw := range opts.LoginMiddleware {
			r.Use(mw)
		}
		api := humachi.New(r, huma.DefaultConfig(apiTitle, "1.0.0"))
		huma.Register(api, huma.Operation{
			OperationID: "login-start",
			Method:      http.MethodPost,
			Path:        protocol.PathLoginStart,
			Summary:     "Start a login",
			Description: "Returns the identity provider URL and a short-lived login token bound to the client key.",
		}, h.loginStart)
		huma.Register(api, huma.Operation{
			OperationID: "login-finish",
			Method:      http.MethodPost,
			Path:        protocol.PathLoginFinish,
			Summary:     "Finish a login",
			Description: "Verifies the authorization code and grants a session lease.",
		}, h.loginFinish)
	})

	if opts.AdminAuth == nil {
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(opts.AdminAuth)
		cfg := huma.DefaultConfig(apiTitle+" (admin)", "1.0.0")
		cfg.OpenAPIPath = ""
		cfg.DocsPath = ""
		cfg.SchemasPath = ""
		api := humachi.New(r, cfg)
		huma.Register(api, huma.Operation{
			OperationID: "list-sessions",
			Method:      http.MethodGet,
			Path:        "/api/v1/admin/sessions",
			Summary:     "List live session leases",
		}, h.listSessions)
		huma.Register(api, huma.Operation{
			OperationID: "list-logins",
			Method:      http.MethodGet,
			Path:        "/api/v1/admin/logins",
			Summary:     "List recorded logins, newest first",
		}, h.listLogins)
		huma.Register(api, huma.Operation{
			OperationID: "get-login",
			Method:      http.MethodGet,
			Path:        "/api/v1/admin/logins/{id}",
			Summary:     "Get a recorded login",
		}, h.getLogin)
	})
}

// --- Handlers ---

func (h *Handler) loginStart(ctx context.Context, input *StartLoginInput) (*StartLoginOutput, error) {
	resp, err := h.logins.Start(ctx, input.Body)
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &StartLoginOutput{Body: resp}, nil
}

func (h *Handler) loginFinish(ctx context.Context, input *FinishLoginInput) (*FinishLoginOutput, error) {
	resp, err := h.logins.Finish(ctx, input.Body)
	if err != nil {
		return nil, h.toHumaError(err)
	}
	h.logger.Info("session granted",
		"client_address", firstOrEmpty(resp.Interface.Address),
		"ends_at", resp.SessionEndsAt,
	)
	return &FinishLoginOutput{Body: resp}, nil
}

func (h *Handler) listSessions(ctx context.Context, input *struct{}) (*ListSessionsOutput, error) {
	leases := h.sessions.Leases()
	out := make([]Session, 0, len(leases))
	for _, l := range leases {
		out = append(out, Session{
			IdentityKey:     l.IdentityKey,
			Email:           l.Identity.Email,
			Subject:         l.Identity.Subject,
			ClientPublicKey: l.ClientPublicKey,
			ClientAddress:   l.ClientAddress.String(),
			EndsAt:          l.EndsAt,
		})
	}
	return &ListSessionsOutput{Body: out}, nil
}

func (h *Handler) listLogins(ctx context.Context, input *ListLoginsInput) (*ListLoginsOutput, error) {
	if h.repo == nil {
		return &ListLoginsOutput{Body: []model.LoginRecord{}}, nil
	}
	var (
		records []model.LoginRecord
		err     error
	)
	if input.Email != "" {
		records, err = h.repo.ListLoginRecordsByEmail(ctx, input.Email, input.Limit)
	} else {
		records, err = h.repo.ListLoginRecords(ctx, input.Limit)
	}
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &ListLoginsOutput{Body: records}, nil
}

func (h *Handler) getLogin(ctx context.Context, input *GetLoginInput) (*GetLoginOutput, error) {
	if h.repo == nil {
		return nil, huma.Error404NotFound("not found")
	}
	rec, err := h.repo.GetLoginRecord(ctx, input.ID)
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &GetLoginOutput{Body: rec}, nil
}

func (h *Handler) toHumaError(err error) error {
	if service.IsValidation(err) {
		return huma.Error400BadRequest(err.Error())
	}
	if service.IsAuth(err) {
		return huma.Error401Unauthorized(err.Error())
	}
	if service.IsNotFound(err) {
		return huma.Error404NotFound("not found")
	}
	if service.IsExhausted(err) {
		return huma.Error503ServiceUnavailable("no client address available")
	}
	h.logger.Error("request failed", "error", err)
	return huma.Error500InternalServerError("internal error")
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
