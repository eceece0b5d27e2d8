// Package tunnel drives the two-step login for a client tunnel and brings the
// local WireGuard interface up and down.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/protocol"
	"wg-sso-gateway/internal/wgconf"
)

type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusDisconnecting Status = "disconnecting"
	StatusError         Status = "error"
)

var (
	ErrAlreadyConnected  = errors.New("tunnel is already connected")
	ErrAlreadyConnecting = errors.New("a connection attempt is already in progress")
	ErrNotConnecting     = errors.New("no connection attempt to finish")
	ErrNotConnected      = errors.New("tunnel is not connected")
	ErrUnknownTunnel     = errors.New("unknown tunnel")
	ErrBusy              = errors.New("another operation on the tunnel is in progress")
)

// Gateway is the gateway login API.
type Gateway interface {
	StartLogin(ctx context.Context, req protocol.StartLoginRequest) (protocol.StartLoginResponse, error)
	FinishLogin(ctx context.Context, req protocol.FinishLoginRequest) (protocol.FinishLoginResponse, error)
}

// Activator brings the local interface up and down; wgquick.Tool implements it.
type Activator interface {
	Up(ctx context.Context, name string, cfg wgconf.Config) error
	Down(ctx context.Context, name string) error
}

// pendingAttempt lives between StartConnect and FinishConnect.
type pendingAttempt struct {
	keyPair    keys.KeyPair
	loginToken string
}

// Info is a point-in-time view of a tunnel.
type Info struct {
	Name          string    `json:"name"`
	Endpoint      string    `json:"endpoint"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Address       []string  `json:"address,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitempty"`
	SessionEndsAt time.Time `json:"session_ends_at,omitempty"`
}

type Tunnel struct {
	name      string
	endpoint  string
	deviceID  string
	keygen    keys.Generator
	gateway   Gateway
	activator Activator
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.RWMutex
	status        Status
	lastErr       string
	busy          bool
	pending       *pendingAttempt
	address       []string
	connectedAt   time.Time
	sessionEndsAt time.Time
}

type Config struct {
	Name     string
	Endpoint string
	// DeviceID is sent with every login so the gateway reuses this device's
	// address. Empty means an anonymous lease per login.
	DeviceID  string
	Keys      keys.Generator
	Gateway   Gateway
	Activator Activator
	Logger    *slog.Logger
}

func New(cfg Config) *Tunnel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tunnel{
		name:      cfg.Name,
		endpoint:  cfg.Endpoint,
		deviceID:  cfg.DeviceID,
		keygen:    cfg.Keys,
		gateway:   cfg.Gateway,
		activator: cfg.Activator,
		logger:    logger.With("tunnel", cfg.Name),
		now:       time.Now,
		status:    StatusDisconnected,
	}
}

func (t *Tunnel) Name() string {
	return t.name
}

func (t *Tunnel) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := Info{
		Name:          t.name,
		Endpoint:      t.endpoint,
		Status:        t.status,
		Error:         t.lastErr,
		ConnectedAt:   t.connectedAt,
		SessionEndsAt: t.sessionEndsAt,
	}
	if len(t.address) > 0 {
		info.Address = append([]string(nil), t.address...)
	}
	return info
}

// holdsSlot reports whether the tunnel occupies the single connection slot.
func (t *Tunnel) holdsSlot() (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.status {
	case StatusConnecting:
		return true, ErrAlreadyConnecting
	case StatusConnected, StatusDisconnecting:
		return true, ErrAlreadyConnected
	}
	return false, nil
}

// StartConnect begins a login and returns the URL the user must open.
func (t *Tunnel) StartConnect(ctx context.Context) (string, error) {
	if err := t.claimStart(); err != nil {
		return "", err
	}
	return t.runStart(ctx)
}

// claimStart moves the tunnel to Connecting so no other operation can
// interleave with the network calls that follow.
func (t *Tunnel) claimStart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case StatusConnecting:
		return ErrAlreadyConnecting
	case StatusConnected, StatusDisconnecting:
		return ErrAlreadyConnected
	}
	t.status = StatusConnecting
	t.lastErr = ""
	t.pending = nil
	t.busy = true
	return nil
}

func (t *Tunnel) runStart(ctx context.Context) (string, error) {
	authURL, pending, err := t.startLogin(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = false
	if err != nil {
		t.failLocked(err)
		return "", err
	}
	t.pending = pending
	t.logger.Info("login started")
	return authURL, nil
}

func (t *Tunnel) startLogin(ctx context.Context) (string, *pendingAttempt, error) {
	kp, err := t.keygen.Generate(ctx)
	if err != nil {
		return "", nil, err
	}
	resp, err := t.gateway.StartLogin(ctx, protocol.StartLoginRequest{
		ClientPublicKey: kp.PublicKey,
		DeviceID:        t.deviceID,
	})
	if err != nil {
		return "", nil, fmt.Errorf("start login: %w", err)
	}
	return resp.AuthURL, &pendingAttempt{keyPair: kp, loginToken: resp.LoginToken}, nil
}

// FinishConnect completes the login with the code from the identity provider
// and brings the interface up. The pending attempt is consumed even when the
// login fails.
func (t *Tunnel) FinishConnect(ctx context.Context, authCode string) error {
	t.mu.Lock()
	if t.status != StatusConnecting || t.pending == nil {
		t.mu.Unlock()
		return ErrNotConnecting
	}
	pending := t.pending
	t.pending = nil
	t.busy = true
	t.mu.Unlock()

	resp, err := t.finishLogin(ctx, pending, authCode)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = false
	if err != nil {
		t.failLocked(err)
		return err
	}
	t.status = StatusConnected
	t.address = resp.Interface.Address
	t.connectedAt = t.now()
	t.sessionEndsAt = resp.SessionEndsAt
	t.logger.Info("tunnel connected", "address", resp.Interface.Address, "session_ends_at", resp.SessionEndsAt)
	return nil
}

func (t *Tunnel) finishLogin(ctx context.Context, pending *pendingAttempt, authCode string) (protocol.FinishLoginResponse, error) {
	resp, err := t.gateway.FinishLogin(ctx, protocol.FinishLoginRequest{
		LoginToken: pending.loginToken,
		AuthCode:   authCode,
	})
	if err != nil {
		return protocol.FinishLoginResponse{}, fmt.Errorf("finish login: %w", err)
	}

	iface := resp.Interface
	iface.PrivateKey = pending.keyPair.PrivateKey
	cfg := wgconf.Config{Interface: iface, Peers: []wgconf.Peer{resp.Peer}}
	if err := t.activator.Up(ctx, t.name, cfg); err != nil {
		return protocol.FinishLoginResponse{}, fmt.Errorf("bring up %s: %w", t.name, err)
	}
	return resp, nil
}

// Disconnect tears the interface down. It is a no-op on a disconnected
// tunnel and abandons an attempt that is waiting for FinishConnect.
func (t *Tunnel) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return ErrBusy
	}
	switch t.status {
	case StatusDisconnected:
		t.mu.Unlock()
		return nil
	case StatusConnecting, StatusError:
		t.resetLocked()
		t.mu.Unlock()
		return nil
	}
	t.status = StatusDisconnecting
	t.busy = true
	t.mu.Unlock()

	err := t.activator.Down(ctx, t.name)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = false
	if err != nil {
		t.failLocked(fmt.Errorf("bring down %s: %w", t.name, err))
		return err
	}
	t.resetLocked()
	t.logger.Info("tunnel disconnected")
	return nil
}

func (t *Tunnel) failLocked(err error) {
	t.status = StatusError
	t.lastErr = err.Error()
	t.pending = nil
	t.address = nil
	t.connectedAt = time.Time{}
	t.sessionEndsAt = time.Time{}
	t.logger.Error("tunnel operation failed", "error", err)
}

func (t *Tunnel) resetLocked() {
	t.status = StatusDisconnected
	t.lastErr = ""
	t.pending = nil
	t.address = nil
	t.connectedAt = time.Time{}
	t.sessionEndsAt = time.Time{}
}
