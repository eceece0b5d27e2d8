// Package config loads the gateway configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"wg-sso-gateway/internal/logging"
	"wg-sso-gateway/internal/wgquick"
)

const (
	ApplyModeQuick   = "wg-quick"
	ApplyModeNetlink = "netlink"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Session   SessionConfig   `yaml:"session"`
	WireGuard WireGuardConfig `yaml:"wireguard"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Admin     AdminConfig     `yaml:"admin"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       logging.Config  `yaml:"log"`
}

type HTTPConfig struct {
	BindIP    string `yaml:"bind_ip" validate:"required,ip"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	PublicURL string `yaml:"public_url" validate:"required,http_url"`
}

type SessionConfig struct {
	Duration      time.Duration `yaml:"duration" validate:"gt=0"`
	LoginDuration time.Duration `yaml:"login_duration" validate:"gt=0"`
}

type WireGuardConfig struct {
	Interface string `yaml:"interface" validate:"required,max=15"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	// Endpoint defaults to the host of the public URL joined with Port.
	Endpoint           string        `yaml:"endpoint" validate:"required,hostname_port"`
	ClientCIDR         string        `yaml:"client_cidr" validate:"required,cidr"`
	AdditionalNetworks []string      `yaml:"additional_networks" validate:"dive,cidr"`
	DNS                []string      `yaml:"dns" validate:"dive,ip"`
	MTU                int           `yaml:"mtu" validate:"omitempty,min=576,max=9000"`
	ClientKeepalive    time.Duration `yaml:"client_keepalive" validate:"min=0"`
	ServerKeepalive    time.Duration `yaml:"server_keepalive" validate:"min=0"`
	PostUp             []string      `yaml:"post_up"`
	PostDown           []string      `yaml:"post_down"`
	ConfigDir          string        `yaml:"config_dir" validate:"required"`
	ApplyMode          string        `yaml:"apply_mode" validate:"oneof=wg-quick netlink"`
}

type OIDCConfig struct {
	Server       string `yaml:"server" validate:"required,http_url"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret"`
	EmailDomain  string `yaml:"email_domain" validate:"omitempty,fqdn"`
}

// AdminConfig protects the admin endpoints. They are disabled when User is
// empty.
type AdminConfig struct {
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

type AuditConfig struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"min=1"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			BindIP:    "0.0.0.0",
			Port:      8080,
			PublicURL: "http://localhost:8080",
		},
		Session: SessionConfig{
			Duration:      24 * time.Hour,
			LoginDuration: 2 * time.Minute,
		},
		WireGuard: WireGuardConfig{
			Interface:  "wg0",
			Port:       51820,
			ClientCIDR: "172.25.0.0/24",
			ConfigDir:  wgquick.DefaultConfigDir,
			ApplyMode:  ApplyModeQuick,
		},
		Audit: AuditConfig{DBPath: "controlplane.db"},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     10,
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be an integer", key))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := parseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a duration", key))
				return
			}
			*dst = d
		}
	}

	str("HTTP_BIND_IP", &c.HTTP.BindIP)
	num("HTTP_PORT", &c.HTTP.Port)
	str("PUBLIC_URL", &c.HTTP.PublicURL)

	dur("SESSION_DURATION", &c.Session.Duration)
	dur("LOGIN_DURATION", &c.Session.LoginDuration)

	str("WG_INTERFACE", &c.WireGuard.Interface)
	num("WG_PORT", &c.WireGuard.Port)
	str("WG_ENDPOINT", &c.WireGuard.Endpoint)
	str("WG_CLIENT_CIDR", &c.WireGuard.ClientCIDR)
	list("WG_ADDITIONAL_NETWORKS", &c.WireGuard.AdditionalNetworks)
	list("WG_DNS_SERVER", &c.WireGuard.DNS)
	num("WG_MTU", &c.WireGuard.MTU)
	dur("WG_CLIENT_KEEPALIVE", &c.WireGuard.ClientKeepalive)
	dur("WG_SERVER_KEEPALIVE", &c.WireGuard.ServerKeepalive)
	if v, ok := lookup("WG_POST_UP"); ok && strings.TrimSpace(v) != "" {
		c.WireGuard.PostUp = []string{strings.TrimSpace(v)}
	}
	if v, ok := lookup("WG_POST_DOWN"); ok && strings.TrimSpace(v) != "" {
		c.WireGuard.PostDown = []string{strings.TrimSpace(v)}
	}
	str("WG_CONFIG_DIR", &c.WireGuard.ConfigDir)
	str("WG_APPLY_MODE", &c.WireGuard.ApplyMode)

	str("OIDC_SERVER", &c.OIDC.Server)
	str("OIDC_CLIENT_ID", &c.OIDC.ClientID)
	str("OIDC_CLIENT_SECRET", &c.OIDC.ClientSecret)
	str("EMAIL_DOMAIN", &c.OIDC.EmailDomain)

	str("ADMIN_USER", &c.Admin.User)
	str("ADMIN_PASSWORD_HASH", &c.Admin.PasswordHash)
	str("AUDIT_DB_PATH", &c.Audit.DBPath)

	if v, ok := lookup("RATE_LIMIT"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, "RATE_LIMIT must be a number")
		} else {
			c.RateLimit.PerSecond = f
		}
	}
	num("RATE_BURST", &c.RateLimit.Burst)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) fillDerived() {
	if c.WireGuard.Endpoint != "" {
		return
	}
	u, err := url.Parse(c.HTTP.PublicURL)
	if err != nil || u.Hostname() == "" {
		return
	}
	c.WireGuard.Endpoint = net.JoinHostPort(u.Hostname(), strconv.Itoa(c.WireGuard.Port))
}

func (c Config) Validate() error {
	var errs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldMessage(fe))
		}
	}

	if prefix, err := netip.ParsePrefix(c.WireGuard.ClientCIDR); err == nil {
		if prefix.Addr().BitLen()-prefix.Bits() < 2 {
			errs = append(errs, "wireguard.client_cidr leaves no room for clients")
		}
	}
	if c.Admin.User != "" {
		if c.Admin.PasswordHash == "" {
			errs = append(errs, "admin.password_hash is required when admin.user is set")
		} else if _, err := bcrypt.Cost([]byte(c.Admin.PasswordHash)); err != nil {
			errs = append(errs, "admin.password_hash must be a bcrypt hash")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, "log.format must be json or text")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Namespace()
	if _, rest, ok := strings.Cut(name, "."); ok {
		name = rest
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "min", "max", "gt":
		return fmt.Sprintf("%s is out of range (%s %s)", name, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s must be a valid %s", name, fe.Tag())
	}
}

func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.HTTP.BindIP, strconv.Itoa(c.HTTP.Port))
}

// RedirectURL is where the identity provider sends the browser back to.
func (c Config) RedirectURL() string {
	return strings.TrimRight(c.HTTP.PublicURL, "/") + "/finish"
}

func (c Config) ClientNetwork() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(c.WireGuard.ClientCIDR)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("wireguard.client_cidr: %w", err)
	}
	return p.Masked(), nil
}

// Networks returns the client network followed by the additional networks.
func (c Config) Networks() ([]netip.Prefix, error) {
	client, err := c.ClientNetwork()
	if err != nil {
		return nil, err
	}
	out := []netip.Prefix{client}
	for _, s := range c.WireGuard.AdditionalNetworks {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("wireguard.additional_networks: %w", err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func (c Config) DNSServers() ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(c.WireGuard.DNS))
	for _, s := range c.WireGuard.DNS {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("wireguard.dns: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Redact returns a copy safe to log.
func (c Config) Redact() Config {
	r := c
	if r.OIDC.ClientSecret != "" {
		r.OIDC.ClientSecret = "[REDACTED]"
	}
	if r.Admin.PasswordHash != "" {
		r.Admin.PasswordHash = "[REDACTED]"
	}
	return r
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
