// Package wireguard keeps the server's WireGuard interface in line with the
// current set of session leases.
package wireguard

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"wg-sso-gateway/controlplane/internal/model"
	"wg-sso-gateway/controlplane/internal/session"
	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/wgconf"
)

// Applier brings the server interface in line with a rendered configuration.
type Applier interface {
	Apply(ctx context.Context, cfg wgconf.Config) error
}

type Settings struct {
	ListenPort int
	// Endpoint is the host:port clients dial.
	Endpoint string
	// Networks are routed to the server by clients; the client network comes
	// first.
	Networks        []netip.Prefix
	DNS             []netip.Addr
	MTU             int
	ClientKeepalive time.Duration
	ServerKeepalive time.Duration
	PostUp          []string
	PostDown        []string
}

type Engine struct {
	sessions   *session.Manager
	keyPair    keys.KeyPair
	settings   Settings
	applier    Applier
	logger     *slog.Logger
	serverAddr netip.Addr

	lastApplied []byte
}

func NewEngine(sessions *session.Manager, keyPair keys.KeyPair, settings Settings, applier Applier, logger *slog.Logger) (*Engine, error) {
	serverAddr, err := sessions.ServerAddress()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions:   sessions,
		keyPair:    keyPair,
		settings:   settings,
		applier:    applier,
		logger:     logger,
		serverAddr: serverAddr,
	}, nil
}

func (e *Engine) PublicKey() string {
	return e.keyPair.PublicKey
}

// StartSession grants a lease and describes the tunnel the client should
// bring up.
func (e *Engine) StartSession(identityKey, clientPublicKey string, identity model.Identity) (model.Lease, wgconf.Interface, wgconf.Peer, error) {
	lease, err := e.sessions.Create(identityKey, clientPublicKey, identity)
	if err != nil {
		return model.Lease{}, wgconf.Interface{}, wgconf.Peer{}, err
	}

	iface := wgconf.Interface{
		Address: []string{lease.HostPrefix().String()},
		DNS:     addrStrings(e.settings.DNS),
		MTU:     e.settings.MTU,
	}
	peer := wgconf.Peer{
		PublicKey:           e.keyPair.PublicKey,
		AllowedIPs:          prefixStrings(e.settings.Networks),
		Endpoint:            e.settings.Endpoint,
		PersistentKeepalive: seconds(e.settings.ClientKeepalive),
	}
	return lease, iface, peer, nil
}

// ServerConfig renders the server interface with one peer per live lease.
func (e *Engine) ServerConfig() wgconf.Config {
	network := e.sessions.Network()
	cfg := wgconf.Config{
		Interface: wgconf.Interface{
			PrivateKey: e.keyPair.PrivateKey,
			Address:    []string{netip.PrefixFrom(e.serverAddr, network.Bits()).String()},
			ListenPort: e.settings.ListenPort,
			PostUp:     e.settings.PostUp,
			PostDown:   e.settings.PostDown,
		},
	}
	for _, p := range e.sessions.GetPeers() {
		cfg.Peers = append(cfg.Peers, wgconf.Peer{
			PublicKey:           p.PublicKey,
			AllowedIPs:          prefixStrings(p.AllowedIPs),
			PersistentKeepalive: seconds(e.settings.ServerKeepalive),
		})
	}
	return cfg
}

// Run applies the server configuration once, then again after every lease
// change, until ctx is done. Failed applies are logged and retried on the
// next change.
func (e *Engine) Run(ctx context.Context) error {
	for {
		changed := e.sessions.Changes()
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Error("wireguard sync failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

// Reconcile renders the current configuration and applies it unless it is
// identical to the last one applied successfully.
func (e *Engine) Reconcile(ctx context.Context) error {
	cfg := e.ServerConfig()
	rendered := cfg.Render()
	if e.lastApplied != nil && bytes.Equal(rendered, e.lastApplied) {
		return nil
	}

	e.logger.Info("applying wireguard config", "peers", len(cfg.Peers))
	if err := e.applier.Apply(ctx, cfg); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	e.lastApplied = rendered
	return nil
}

func prefixStrings(prefixes []netip.Prefix) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, p.String())
	}
	return out
}

func addrStrings(addrs []netip.Addr) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
