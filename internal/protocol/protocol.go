// Package protocol holds the JSON bodies exchanged between the agent and the
// control plane login API.
package protocol

import (
	"time"

	"wg-sso-gateway/internal/wgconf"
)

const (
	PathLoginStart  = "/api/v1/login/start"
	PathLoginFinish = "/api/v1/login/finish"
	PathFinishPage  = "/finish"
)

type StartLoginRequest struct {
	ClientPublicKey string `json:"client_public_key" doc:"WireGuard public key of the client"`
	DeviceID        string `json:"device_id,omitempty" doc:"Stable device identifier; re-logins reuse the lease"`
}

type StartLoginResponse struct {
	AuthURL    string `json:"auth_url"`
	LoginToken string `json:"login_token"`
}

type FinishLoginRequest struct {
	LoginToken string `json:"login_token"`
	AuthCode   string `json:"auth_code"`
}

type FinishLoginResponse struct {
	SessionEndsAt time.Time        `json:"session_ends_at"`
	Interface     wgconf.Interface `json:"interface"`
	Peer          wgconf.Peer      `json:"peer"`
}
