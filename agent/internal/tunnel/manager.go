package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"wg-sso-gateway/agent/internal/config"
	"wg-sso-gateway/internal/keys"
)

// Definitions looks up configured tunnels; config.Store implements it.
type Definitions interface {
	Get(name string) (config.Tunnel, error)
	List() ([]config.Tunnel, error)
}

type ManagerConfig struct {
	Definitions Definitions
	DeviceID    string
	Keys        keys.Generator
	// NewGateway returns a login API client for a tunnel endpoint.
	NewGateway func(endpoint string) Gateway
	Activator  Activator
	Logger     *slog.Logger
}

// Manager owns the single tunnel slot: at most one tunnel is connecting or
// connected at a time.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu      sync.Mutex
	current *Tunnel
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// Overview describes the current tunnel, if any, and the configured ones.
type Overview struct {
	Current *Info    `json:"current,omitempty"`
	Tunnels []string `json:"tunnels"`
}

func (m *Manager) Status() (Overview, error) {
	defs, err := m.cfg.Definitions.List()
	if err != nil {
		return Overview{}, err
	}
	st := Overview{Tunnels: make([]string, 0, len(defs))}
	for _, d := range defs {
		st.Tunnels = append(st.Tunnels, d.Name)
	}

	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current != nil {
		info := current.Info()
		st.Current = &info
	}
	return st, nil
}

// Connect starts a login on the named tunnel and returns the URL to open.
func (m *Manager) Connect(ctx context.Context, name string) (string, Info, error) {
	m.mu.Lock()
	if m.current != nil {
		if held, err := m.current.holdsSlot(); held {
			m.mu.Unlock()
			return "", Info{}, err
		}
	}

	def, err := m.cfg.Definitions.Get(name)
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, config.ErrNotFound) {
			return "", Info{}, fmt.Errorf("%w: %s", ErrUnknownTunnel, name)
		}
		return "", Info{}, err
	}

	t := New(Config{
		Name:      def.Name,
		Endpoint:  def.Endpoint,
		DeviceID:  m.cfg.DeviceID,
		Keys:      m.cfg.Keys,
		Gateway:   m.cfg.NewGateway(def.Endpoint),
		Activator: m.cfg.Activator,
		Logger:    m.logger,
	})
	if err := t.claimStart(); err != nil {
		m.mu.Unlock()
		return "", Info{}, err
	}
	m.current = t
	m.mu.Unlock()

	authURL, err := t.runStart(ctx)
	return authURL, t.Info(), err
}

func (m *Manager) Finish(ctx context.Context, authCode string) (Info, error) {
	t := m.currentTunnel()
	if t == nil {
		return Info{}, ErrNotConnecting
	}
	err := t.FinishConnect(ctx, authCode)
	return t.Info(), err
}

func (m *Manager) Disconnect(ctx context.Context) (Info, error) {
	t := m.currentTunnel()
	if t == nil {
		return Info{}, ErrNotConnected
	}
	err := t.Disconnect(ctx)
	return t.Info(), err
}

// Shutdown disconnects the current tunnel when it is up.
func (m *Manager) Shutdown(ctx context.Context) error {
	t := m.currentTunnel()
	if t == nil {
		return nil
	}
	if t.Info().Status != StatusConnected {
		return nil
	}
	return t.Disconnect(ctx)
}

func (m *Manager) currentTunnel() *Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
