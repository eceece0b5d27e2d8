package model

import (
	"net/netip"
	"time"
)

// Identity is the verified identity returned by the identity provider.
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
}

// Lease is one client's current address grant.
type Lease struct {
	IdentityKey     string     `json:"identity_key"`
	ClientPublicKey string     `json:"client_public_key"`
	ClientAddress   netip.Addr `json:"client_address"`
	EndsAt          time.Time  `json:"ends_at"`
	Identity        Identity   `json:"identity"`
}

// HostPrefix returns the single-address route for the lease.
func (l Lease) HostPrefix() netip.Prefix {
	return netip.PrefixFrom(l.ClientAddress, l.ClientAddress.BitLen())
}

// LoginAttempt is the state carried inside a login token between the start
// and finish calls.
type LoginAttempt struct {
	ClientPublicKey string `json:"client_public_key"`
	Nonce           string `json:"nonce"`
	DeviceID        string `json:"device_id,omitempty"`
}
