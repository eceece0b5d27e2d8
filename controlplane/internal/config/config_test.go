package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OIDC_SERVER", "https://accounts.example.com")
	t.Setenv("OIDC_CLIENT_ID", "gateway")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, 24*time.Hour, cfg.Session.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Session.LoginDuration)
	assert.Equal(t, "wg0", cfg.WireGuard.Interface)
	assert.Equal(t, "localhost:51820", cfg.WireGuard.Endpoint)
	assert.Equal(t, ApplyModeQuick, cfg.WireGuard.ApplyMode)
	assert.Equal(t, "http://localhost:8080/finish", cfg.RedirectURL())
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PUBLIC_URL", "https://vpn.example.com/")
	t.Setenv("SESSION_DURATION", "8h")
	t.Setenv("LOGIN_DURATION", "90")
	t.Setenv("WG_PORT", "51000")
	t.Setenv("WG_CLIENT_CIDR", "10.8.0.0/16")
	t.Setenv("WG_ADDITIONAL_NETWORKS", "10.0.0.0/24, 192.168.10.0/24")
	t.Setenv("WG_DNS_SERVER", "10.0.0.53")
	t.Setenv("WG_MTU", "1380")
	t.Setenv("WG_CLIENT_KEEPALIVE", "25s")
	t.Setenv("WG_POST_UP", "/etc/wireguard/up.sh")
	t.Setenv("WG_APPLY_MODE", "netlink")
	t.Setenv("EMAIL_DOMAIN", "example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, cfg.Session.Duration)
	assert.Equal(t, 90*time.Second, cfg.Session.LoginDuration)
	assert.Equal(t, "vpn.example.com:51000", cfg.WireGuard.Endpoint)
	assert.Equal(t, "https://vpn.example.com/finish", cfg.RedirectURL())
	assert.Equal(t, 1380, cfg.WireGuard.MTU)
	assert.Equal(t, 25*time.Second, cfg.WireGuard.ClientKeepalive)
	assert.Equal(t, []string{"/etc/wireguard/up.sh"}, cfg.WireGuard.PostUp)
	assert.Equal(t, ApplyModeNetlink, cfg.WireGuard.ApplyMode)

	networks, err := cfg.Networks()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.8.0.0/16"),
		netip.MustParsePrefix("10.0.0.0/24"),
		netip.MustParsePrefix("192.168.10.0/24"),
	}, networks)

	dns, err := cfg.DNSServers()
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.53")}, dns)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9000
  public_url: https://gw.example.com
session:
  duration: 12h
wireguard:
  endpoint: wg.example.com:443
  client_cidr: 172.30.0.0/24
  server_keepalive: 15s
oidc:
  server: https://idp.example.com
  client_id: from-file
log:
  level: debug
  format: text
`), 0o600))
	t.Setenv("OIDC_CLIENT_ID", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 12*time.Hour, cfg.Session.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Session.LoginDuration)
	assert.Equal(t, "wg.example.com:443", cfg.WireGuard.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.WireGuard.ServerKeepalive)
	assert.Equal(t, "from-env", cfg.OIDC.ClientID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadReportsEnvParseErrors(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("SESSION_DURATION", "forever")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT must be an integer")
	assert.Contains(t, err.Error(), "SESSION_DURATION must be a duration")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.OIDC.Server = "https://idp.example.com"
		cfg.OIDC.ClientID = "gateway"
		cfg.fillDerived()
		return cfg
	}
	require.NoError(t, valid().Validate())

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name: "missing oidc",
			mutate: func(c *Config) {
				c.OIDC = OIDCConfig{}
			},
			want: []string{"oidc.server is required", "oidc.client_id is required"},
		},
		{
			name:   "bad cidr",
			mutate: func(c *Config) { c.WireGuard.ClientCIDR = "10.0.0.0" },
			want:   []string{"wireguard.client_cidr must be a valid cidr"},
		},
		{
			name:   "cidr too small",
			mutate: func(c *Config) { c.WireGuard.ClientCIDR = "10.0.0.0/31" },
			want:   []string{"wireguard.client_cidr leaves no room for clients"},
		},
		{
			name:   "apply mode",
			mutate: func(c *Config) { c.WireGuard.ApplyMode = "ifconfig" },
			want:   []string{"wireguard.apply_mode must be one of: wg-quick netlink"},
		},
		{
			name:   "port",
			mutate: func(c *Config) { c.HTTP.Port = 70000 },
			want:   []string{"http.port is out of range"},
		},
		{
			name:   "admin without hash",
			mutate: func(c *Config) { c.Admin.User = "admin" },
			want:   []string{"admin.password_hash is required"},
		},
		{
			name: "admin with plain password",
			mutate: func(c *Config) {
				c.Admin.User = "admin"
				c.Admin.PasswordHash = "secret"
			},
			want: []string{"admin.password_hash must be a bcrypt hash"},
		},
		{
			name:   "log format",
			mutate: func(c *Config) { c.Log.Format = "xml" },
			want:   []string{"log.format must be json or text"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}

	t.Run("admin with hash", func(t *testing.T) {
		cfg := valid()
		cfg.Admin.User = "admin"
		cfg.Admin.PasswordHash = string(hash)
		assert.NoError(t, cfg.Validate())
	})
}

func TestRedact(t *testing.T) {
	cfg := Default()
	cfg.OIDC.ClientSecret = "s3cret"
	cfg.Admin.PasswordHash = "$2a$10$abc"

	r := cfg.Redact()
	assert.Equal(t, "[REDACTED]", r.OIDC.ClientSecret)
	assert.Equal(t, "[REDACTED]", r.Admin.PasswordHash)
	assert.Equal(t, "s3cret", cfg.OIDC.ClientSecret)
}
