// Package session hands out client addresses from the WireGuard client
// network and tracks when each grant expires.
//
// Leases are keyed by an identity key. Logging in again under the same key
// keeps the address and only refreshes the public key and expiry. New leases
// get the lowest free address; the network address and the server address
// (the first address after it) are never handed out.
//
// State is in memory only and is lost on restart.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"wg-sso-gateway/controlplane/internal/model"
)

var (
	ErrAddressPoolExhausted = errors.New("out of client addresses")
	ErrNetworkTooSmall      = errors.New("client network is too small")
	ErrClockOverflow        = errors.New("overflow while calculating session end time")
)

// Peer is the WireGuard view of a lease.
type Peer struct {
	PublicKey  string
	AllowedIPs []netip.Prefix
}

type Manager struct {
	network  netip.Prefix
	duration time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.RWMutex
	leases  map[string]*model.Lease
	changes *Notifier
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(network netip.Prefix, duration time.Duration, opts ...Option) *Manager {
	m := &Manager{
		network:  network.Masked(),
		duration: duration,
		now:      time.Now,
		logger:   slog.Default(),
		leases:   make(map[string]*model.Lease),
		changes:  NewNotifier(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Network() netip.Prefix {
	return m.network
}

// ServerAddress returns the first address of the network after the network
// address itself.
func (m *Manager) ServerAddress() (netip.Addr, error) {
	addr := m.network.Addr().Next()
	if !addr.IsValid() || !m.network.Contains(addr) {
		return netip.Addr{}, ErrNetworkTooSmall
	}
	return addr, nil
}

// Changes returns a channel closed on the next lease change. Take it before
// reading lease state so that no change is missed.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes.Wait()
}

// Create grants a lease to identityKey, or refreshes the existing one.
func (m *Manager) Create(identityKey, publicKey string, identity model.Identity) (model.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	endsAt := now.Add(m.duration)
	if endsAt.Sub(now) != m.duration {
		return model.Lease{}, ErrClockOverflow
	}

	if lease, ok := m.leases[identityKey]; ok {
		lease.ClientPublicKey = publicKey
		lease.EndsAt = endsAt
		lease.Identity = identity
		m.logger.Info("session updated", "identity_key", identityKey, "address", lease.ClientAddress, "ends_at", endsAt)
		m.changes.Broadcast()
		return *lease, nil
	}

	addr, err := m.allocateLocked()
	if err != nil {
		return model.Lease{}, err
	}
	lease := &model.Lease{
		IdentityKey:     identityKey,
		ClientPublicKey: publicKey,
		ClientAddress:   addr,
		EndsAt:          endsAt,
		Identity:        identity,
	}
	m.leases[identityKey] = lease
	m.logger.Info("session created", "identity_key", identityKey, "address", addr, "ends_at", endsAt)
	m.changes.Broadcast()
	return *lease, nil
}

// allocateLocked walks the network in order alongside the sorted list of
// taken addresses and returns the first address that is not taken.
func (m *Manager) allocateLocked() (netip.Addr, error) {
	server, err := m.ServerAddress()
	if err != nil {
		return netip.Addr{}, err
	}
	taken := make([]netip.Addr, 0, len(m.leases)+2)
	taken = append(taken, m.network.Addr(), server)
	for _, lease := range m.leases {
		taken = append(taken, lease.ClientAddress)
	}
	slices.SortFunc(taken, func(a, b netip.Addr) int { return a.Compare(b) })

	next := 0
	for addr := m.network.Addr(); addr.IsValid() && m.network.Contains(addr); addr = addr.Next() {
		if next < len(taken) && addr == taken[next] {
			next++
			continue
		}
		return addr, nil
	}
	return netip.Addr{}, ErrAddressPoolExhausted
}

// GetPeers returns one peer per unexpired lease, ordered by address.
func (m *Manager) GetPeers() []Peer {
	leases := m.Leases()
	peers := make([]Peer, 0, len(leases))
	for _, lease := range leases {
		peers = append(peers, Peer{
			PublicKey:  lease.ClientPublicKey,
			AllowedIPs: []netip.Prefix{lease.HostPrefix()},
		})
	}
	return peers
}

// Leases returns the unexpired leases ordered by address.
func (m *Manager) Leases() []model.Lease {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make([]model.Lease, 0, len(m.leases))
	for _, lease := range m.leases {
		if lease.EndsAt.After(now) {
			out = append(out, *lease)
		}
	}
	slices.SortFunc(out, func(a, b model.Lease) int { return a.ClientAddress.Compare(b.ClientAddress) })
	return out
}

// Sweep removes every lease whose end time has passed and returns how many
// were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, lease := range m.leases {
		if !lease.EndsAt.After(now) {
			delete(m.leases, key)
			removed++
			m.logger.Info("session expired", "identity_key", key, "address", lease.ClientAddress)
		}
	}
	if removed > 0 {
		m.changes.Broadcast()
	}
	return removed
}

// Run removes leases as they expire. It sleeps until the earliest expiry or
// until a lease changes, whichever comes first, and returns when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.mu.RLock()
		changed := m.changes.Wait()
		next, ok := m.earliestLocked()
		m.mu.RUnlock()

		var expired <-chan time.Time
		var timer *time.Timer
		if ok {
			wait := next.Sub(m.now())
			if wait < 0 {
				wait = 0
			}
			m.logger.Debug("next session expiry", "in", wait)
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case <-changed:
			stopTimer(timer)
		case <-expired:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("removed expired sessions", "count", n)
			}
		}
	}
}

func (m *Manager) earliestLocked() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, lease := range m.leases {
		if !found || lease.EndsAt.Before(earliest) {
			earliest = lease.EndsAt
			found = true
		}
	}
	return earliest, found
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
