package wireguard

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wg-sso-gateway/controlplane/internal/model"
	"wg-sso-gateway/controlplane/internal/session"
	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/wgconf"
)

type fakeApplier struct {
	mu       sync.Mutex
	attempts int
	applied  []wgconf.Config
	failN    int
}

func (f *fakeApplier) Apply(_ context.Context, cfg wgconf.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failN > 0 {
		f.failN--
		return errors.New("wg-quick up failed")
	}
	f.applied = append(f.applied, cfg)
	return nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func (f *fakeApplier) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeApplier) last() wgconf.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[len(f.applied)-1]
}

func testSettings() Settings {
	return Settings{
		ListenPort: 51820,
		Endpoint:   "vpn.example.com:51820",
		Networks: []netip.Prefix{
			netip.MustParsePrefix("172.25.0.0/24"),
			netip.MustParsePrefix("10.10.0.0/16"),
		},
		DNS:             []netip.Addr{netip.MustParseAddr("10.10.0.53")},
		MTU:             1380,
		ClientKeepalive: 25 * time.Second,
		ServerKeepalive: 30 * time.Second,
		PostUp:          []string{"sysctl -w net.ipv4.ip_forward=1"},
	}
}

func newTestEngine(t *testing.T, applier Applier) (*Engine, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(netip.MustParsePrefix("172.25.0.0/24"), time.Hour)
	kp, err := keys.NativeGenerator{}.Generate(context.Background())
	require.NoError(t, err)
	engine, err := NewEngine(sessions, kp, testSettings(), applier, nil)
	require.NoError(t, err)
	return engine, sessions
}

func TestNewEngineNetworkTooSmall(t *testing.T) {
	sessions := session.NewManager(netip.MustParsePrefix("172.25.0.9/32"), time.Hour)
	_, err := NewEngine(sessions, keys.KeyPair{}, Settings{}, &fakeApplier{}, nil)
	assert.ErrorIs(t, err, session.ErrNetworkTooSmall)
}

func TestStartSession(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeApplier{})

	lease, iface, peer, err := engine.StartSession("dev-1", "client-key", model.Identity{Email: "a@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "172.25.0.2", lease.ClientAddress.String())
	assert.Equal(t, wgconf.Interface{
		Address: []string{"172.25.0.2/32"},
		DNS:     []string{"10.10.0.53"},
		MTU:     1380,
	}, iface)
	assert.Equal(t, wgconf.Peer{
		PublicKey:           engine.PublicKey(),
		AllowedIPs:          []string{"172.25.0.0/24", "10.10.0.0/16"},
		Endpoint:            "vpn.example.com:51820",
		PersistentKeepalive: 25,
	}, peer)
}

func TestServerConfig(t *testing.T) {
	engine, sessions := newTestEngine(t, &fakeApplier{})

	_, err := sessions.Create("b", "key-b", model.Identity{})
	require.NoError(t, err)
	_, err = sessions.Create("a", "key-a", model.Identity{})
	require.NoError(t, err)

	cfg := engine.ServerConfig()
	assert.Equal(t, []string{"172.25.0.1/24"}, cfg.Interface.Address)
	assert.Equal(t, 51820, cfg.Interface.ListenPort)
	assert.Equal(t, []string{"sysctl -w net.ipv4.ip_forward=1"}, cfg.Interface.PostUp)
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, wgconf.Peer{PublicKey: "key-b", AllowedIPs: []string{"172.25.0.2/32"}, PersistentKeepalive: 30}, cfg.Peers[0])
	assert.Equal(t, wgconf.Peer{PublicKey: "key-a", AllowedIPs: []string{"172.25.0.3/32"}, PersistentKeepalive: 30}, cfg.Peers[1])

	assert.Equal(t, cfg.Render(), engine.ServerConfig().Render())
}

func TestReconcileSkipsUnchanged(t *testing.T) {
	applier := &fakeApplier{}
	engine, sessions := newTestEngine(t, applier)
	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx))
	require.NoError(t, engine.Reconcile(ctx))
	assert.Equal(t, 1, applier.count())

	_, err := sessions.Create("a", "key-a", model.Identity{})
	require.NoError(t, err)
	require.NoError(t, engine.Reconcile(ctx))
	assert.Equal(t, 2, applier.count())

	// Refreshing a lease with the same key renders the same file.
	_, err = sessions.Create("a", "key-a", model.Identity{})
	require.NoError(t, err)
	require.NoError(t, engine.Reconcile(ctx))
	assert.Equal(t, 2, applier.count())
}

func TestRunAppliesOnChangeAndSurvivesFailures(t *testing.T) {
	applier := &fakeApplier{failN: 1}
	engine, sessions := newTestEngine(t, applier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	// The initial apply fails; the loop waits for the next change.
	require.Eventually(t, func() bool { return applier.attemptCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, applier.count())

	_, err := sessions.Create("a", "key-a", model.Identity{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return applier.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = sessions.Create("b", "key-b", model.Identity{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return applier.count() >= 1 && len(applier.last().Peers) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPeerConfigs(t *testing.T) {
	key, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	peers, err := peerConfigs([]wgconf.Peer{{
		PublicKey:           key.PublicKey().String(),
		AllowedIPs:          []string{"172.25.0.2/32"},
		PersistentKeepalive: 25,
	}})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, key.PublicKey(), peers[0].PublicKey)
	assert.True(t, peers[0].ReplaceAllowedIPs)
	assert.Equal(t, "172.25.0.2/32", peers[0].AllowedIPs[0].String())
	require.NotNil(t, peers[0].PersistentKeepaliveInterval)
	assert.Equal(t, 25*time.Second, *peers[0].PersistentKeepaliveInterval)

	_, err = peerConfigs([]wgconf.Peer{{PublicKey: "bad"}})
	assert.Error(t, err)
	_, err = peerConfigs([]wgconf.Peer{{PublicKey: key.PublicKey().String(), AllowedIPs: []string{"nope"}}})
	assert.Error(t, err)
}

func TestQuickApplier(t *testing.T) {
	tool := &fakeTool{}
	cfg := wgconf.Config{Interface: wgconf.Interface{Address: []string{"172.25.0.1/24"}}}
	require.NoError(t, NewQuickApplier("wg0", tool).Apply(context.Background(), cfg))
	assert.Equal(t, "wg0", tool.name)
	assert.Equal(t, cfg, tool.cfg)
}

type fakeTool struct {
	name string
	cfg  wgconf.Config
}

func (f *fakeTool) Up(_ context.Context, name string, cfg wgconf.Config) error {
	f.name = name
	f.cfg = cfg
	return nil
}
