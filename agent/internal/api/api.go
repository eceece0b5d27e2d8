// Package api is the agent daemon's local HTTP API used by the CLI.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"wg-sso-gateway/agent/internal/tunnel"
	"wg-sso-gateway/internal/protocol"
)

const (
	DefaultListenAddr = "127.0.0.1:51889"

	PathStatus     = "/api/v1/status"
	PathConnect    = "/api/v1/tunnels/{name}/connect"
	PathFinish     = "/api/v1/connection/finish"
	PathDisconnect = "/api/v1/connection/disconnect"
)

// Tunnels is implemented by tunnel.Manager.
type Tunnels interface {
	Status() (tunnel.Overview, error)
	Connect(ctx context.Context, name string) (string, tunnel.Info, error)
	Finish(ctx context.Context, authCode string) (tunnel.Info, error)
	Disconnect(ctx context.Context) (tunnel.Info, error)
}

type ConnectResponse struct {
	AuthURL string `json:"auth_url"`
	// FinishURL is the gateway page that shows the code after login.
	FinishURL string      `json:"finish_url"`
	Tunnel    tunnel.Info `json:"tunnel"`
}

type FinishRequest struct {
	AuthCode string `json:"auth_code" minLength:"1"`
}

type StatusOutput struct {
	Body tunnel.Overview
}

type ConnectInput struct {
	Name string `path:"name"`
}

type ConnectOutput struct {
	Body ConnectResponse
}

type FinishInput struct {
	Body FinishRequest
}

type InfoOutput struct {
	Body tunnel.Info
}

type Handler struct {
	tunnels Tunnels
	logger  *slog.Logger
}

func NewHandler(tunnels Tunnels, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tunnels: tunnels, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	api := humachi.New(r, huma.DefaultConfig("WireGuard SSO Agent", "1.0.0"))
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        PathStatus,
		Summary:     "Current tunnel and configured tunnels",
	}, h.status)
	huma.Register(api, huma.Operation{
		OperationID: "connect",
		Method:      http.MethodPost,
		Path:        PathConnect,
		Summary:     "Start connecting a tunnel",
	}, h.connect)
	huma.Register(api, huma.Operation{
		OperationID: "finish",
		Method:      http.MethodPost,
		Path:        PathFinish,
		Summary:     "Finish the pending connection with an authorization code",
	}, h.finish)
	huma.Register(api, huma.Operation{
		OperationID: "disconnect",
		Method:      http.MethodPost,
		Path:        PathDisconnect,
		Summary:     "Disconnect the current tunnel",
	}, h.disconnect)
}

func (h *Handler) status(ctx context.Context, input *struct{}) (*StatusOutput, error) {
	st, err := h.tunnels.Status()
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &StatusOutput{Body: st}, nil
}

func (h *Handler) connect(ctx context.Context, input *ConnectInput) (*ConnectOutput, error) {
	authURL, info, err := h.tunnels.Connect(ctx, input.Name)
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &ConnectOutput{Body: ConnectResponse{
		AuthURL:   authURL,
		FinishURL: strings.TrimRight(info.Endpoint, "/") + protocol.PathFinishPage,
		Tunnel:    info,
	}}, nil
}

func (h *Handler) finish(ctx context.Context, input *FinishInput) (*InfoOutput, error) {
	info, err := h.tunnels.Finish(ctx, strings.TrimSpace(input.Body.AuthCode))
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &InfoOutput{Body: info}, nil
}

func (h *Handler) disconnect(ctx context.Context, input *struct{}) (*InfoOutput, error) {
	info, err := h.tunnels.Disconnect(ctx)
	if err != nil {
		return nil, h.toHumaError(err)
	}
	return &InfoOutput{Body: info}, nil
}

func (h *Handler) toHumaError(err error) error {
	switch {
	case errors.Is(err, tunnel.ErrUnknownTunnel):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, tunnel.ErrAlreadyConnected),
		errors.Is(err, tunnel.ErrAlreadyConnecting),
		errors.Is(err, tunnel.ErrNotConnecting),
		errors.Is(err, tunnel.ErrNotConnected),
		errors.Is(err, tunnel.ErrBusy):
		return huma.Error409Conflict(err.Error())
	}
	h.logger.Error("request failed", "error", err)
	return huma.Error502BadGateway(err.Error())
}
