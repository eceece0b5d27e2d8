// Package wgconf describes WireGuard interfaces and peers and renders them in
// the INI dialect read by wg-quick.
package wgconf

import (
	"fmt"
	"strings"
)

type Interface struct {
	PrivateKey string   `json:"private_key,omitempty"`
	Address    []string `json:"address"`
	DNS        []string `json:"dns,omitempty"`
	MTU        int      `json:"mtu,omitempty"`
	ListenPort int      `json:"listen_port,omitempty"`
	PostUp     []string `json:"post_up,omitempty"`
	PostDown   []string `json:"post_down,omitempty"`
}

type Peer struct {
	PublicKey  string   `json:"public_key"`
	AllowedIPs []string `json:"allowed_ips"`
	Endpoint   string   `json:"endpoint,omitempty"`
	// PersistentKeepalive is in seconds; zero leaves it unset.
	PersistentKeepalive int `json:"persistent_keepalive,omitempty"`
}

type Config struct {
	Interface Interface
	Peers     []Peer
}

// Render returns the configuration file contents. Output depends only on the
// input values and the order of Peers.
func (c Config) Render() []byte {
	var b strings.Builder

	b.WriteString("[Interface]\n")
	writeKV(&b, "PrivateKey", c.Interface.PrivateKey)
	writeKV(&b, "Address", strings.Join(c.Interface.Address, ", "))
	if c.Interface.ListenPort > 0 {
		writeKV(&b, "ListenPort", fmt.Sprint(c.Interface.ListenPort))
	}
	writeKV(&b, "DNS", strings.Join(c.Interface.DNS, ", "))
	if c.Interface.MTU > 0 {
		writeKV(&b, "MTU", fmt.Sprint(c.Interface.MTU))
	}
	for _, cmd := range c.Interface.PostUp {
		writeKV(&b, "PostUp", cmd)
	}
	for _, cmd := range c.Interface.PostDown {
		writeKV(&b, "PostDown", cmd)
	}

	for _, p := range c.Peers {
		b.WriteString("\n[Peer]\n")
		writeKV(&b, "PublicKey", p.PublicKey)
		writeKV(&b, "AllowedIPs", strings.Join(p.AllowedIPs, ", "))
		writeKV(&b, "Endpoint", p.Endpoint)
		if p.PersistentKeepalive > 0 {
			writeKV(&b, "PersistentKeepalive", fmt.Sprint(p.PersistentKeepalive))
		}
	}

	return []byte(b.String())
}

func (c Config) String() string {
	return string(c.Render())
}

func writeKV(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s = %s\n", key, value)
}
