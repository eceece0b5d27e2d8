package wireguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wg-sso-gateway/internal/wgconf"
)

// NetlinkApplier configures the interface in place through netlink and the
// WireGuard kernel API. Existing peers stay connected across updates.
// PostUp/PostDown scripts are a wg-quick feature and are not run.
type NetlinkApplier struct {
	iface string
}

func NewNetlinkApplier(iface string) (*NetlinkApplier, error) {
	if os.Geteuid() != 0 {
		return nil, errors.New("netlink apply mode must run as root")
	}
	if iface == "" {
		return nil, errors.New("interface name is required")
	}
	return &NetlinkApplier{iface: iface}, nil
}

func (a *NetlinkApplier) Apply(_ context.Context, cfg wgconf.Config) error {
	privateKey, err := wgtypes.ParseKey(cfg.Interface.PrivateKey)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	peers, err := peerConfigs(cfg.Peers)
	if err != nil {
		return err
	}

	link, err := ensureWireGuardLink(a.iface)
	if err != nil {
		return err
	}
	for _, address := range cfg.Interface.Address {
		if err := ensureAddress(link, address); err != nil {
			return err
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link set up: %w", err)
	}

	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("wgctrl init: %w", err)
	}
	defer client.Close()

	wgCfg := wgtypes.Config{
		PrivateKey:   &privateKey,
		ReplacePeers: true,
		Peers:        peers,
	}
	if cfg.Interface.ListenPort > 0 {
		port := cfg.Interface.ListenPort
		wgCfg.ListenPort = &port
	}
	if err := client.ConfigureDevice(a.iface, wgCfg); err != nil {
		return fmt.Errorf("configure device: %w", err)
	}
	return nil
}

func peerConfigs(peers []wgconf.Peer) ([]wgtypes.PeerConfig, error) {
	out := make([]wgtypes.PeerConfig, 0, len(peers))
	for i, p := range peers {
		pubKey, err := wgtypes.ParseKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer[%d] parse public key: %w", i, err)
		}
		allowed := make([]net.IPNet, 0, len(p.AllowedIPs))
		for j, cidr := range p.AllowedIPs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				return nil, fmt.Errorf("peer[%d] allowed_ips[%d]: %w", i, j, err)
			}
			allowed = append(allowed, *ipNet)
		}
		pc := wgtypes.PeerConfig{
			PublicKey:         pubKey,
			ReplaceAllowedIPs: true,
			AllowedIPs:        allowed,
		}
		if p.PersistentKeepalive > 0 {
			ka := time.Duration(p.PersistentKeepalive) * time.Second
			pc.PersistentKeepaliveInterval = &ka
		}
		out = append(out, pc)
	}
	return out, nil
}

func ensureWireGuardLink(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err == nil {
		if link.Type() != "wireguard" {
			return nil, fmt.Errorf("link %s exists but is not wireguard", name)
		}
		return link, nil
	}

	var notFound netlink.LinkNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("link lookup: %w", err)
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	wgLink := &netlink.Wireguard{LinkAttrs: attrs}
	if err := netlink.LinkAdd(wgLink); err != nil {
		return nil, fmt.Errorf("link add: %w", err)
	}
	return wgLink, nil
}

func ensureAddress(link netlink.Link, cidr string) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %s: %w", cidr, err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		if errors.Is(err, syscall.EEXIST) {
			return nil
		}
		return fmt.Errorf("addr add %s: %w", cidr, err)
	}
	return nil
}
