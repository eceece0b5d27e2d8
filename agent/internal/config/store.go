// Package config manages the agent's on-disk state: tunnel definitions and
// the device identifier.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultDir   = "/var/lib/wg-sso-gateway"
	tunnelsDir   = "tunnels"
	tunnelSuffix = ".tunnel.json"

	watchDebounce = 200 * time.Millisecond
)

var ErrNotFound = errors.New("tunnel not found")

// Tunnel names double as WireGuard interface names.
var tunnelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ifname", func(fl validator.FieldLevel) bool {
		return tunnelNamePattern.MatchString(fl.Field().String())
	})
	return v
}

type Tunnel struct {
	Name     string `json:"-" validate:"ifname"`
	Endpoint string `json:"endpoint" validate:"required,http_url"`
}

func (t Tunnel) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			switch fe.Field() {
			case "Name":
				msgs = append(msgs, "name must be 1-15 characters of letters, digits and _=+.-")
			case "Endpoint":
				msgs = append(msgs, "endpoint must be an http(s) URL")
			default:
				msgs = append(msgs, fe.Error())
			}
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// Store keeps one JSON file per tunnel under <dir>/tunnels.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: filepath.Join(dir, tunnelsDir), logger: logger}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+tunnelSuffix)
}

func (s *Store) Save(t Tunnel) error {
	t.Endpoint = strings.TrimRight(strings.TrimSpace(t.Endpoint), "/")
	if err := t.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return os.WriteFile(s.Path(t.Name), data, 0o600)
}

func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func (s *Store) Get(name string) (Tunnel, error) {
	if !tunnelNamePattern.MatchString(name) {
		return Tunnel{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.load(s.Path(name))
}

// List returns all valid tunnel definitions sorted by name. Unreadable or
// invalid files are logged and skipped.
func (s *Store) List() ([]Tunnel, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tunnels: %w", err)
	}

	var tunnels []Tunnel
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tunnelSuffix) {
			continue
		}
		t, err := s.load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping tunnel definition", "file", e.Name(), "error", err)
			continue
		}
		tunnels = append(tunnels, t)
	}
	sort.Slice(tunnels, func(i, j int) bool { return tunnels[i].Name < tunnels[j].Name })
	return tunnels, nil
}

func (s *Store) load(path string) (Tunnel, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Tunnel{}, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), tunnelSuffix))
	}
	if err != nil {
		return Tunnel{}, fmt.Errorf("read tunnel: %w", err)
	}
	var t Tunnel
	if err := json.Unmarshal(data, &t); err != nil {
		return Tunnel{}, fmt.Errorf("decode tunnel: %w", err)
	}
	t.Name = strings.TrimSuffix(filepath.Base(path), tunnelSuffix)
	if err := t.Validate(); err != nil {
		return Tunnel{}, err
	}
	return t, nil
}

// Watch calls onChange with the current tunnel list whenever a definition is
// added, changed or removed. Bursts of events are coalesced. It blocks until
// ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func([]Tunnel)) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, tunnelSuffix) || event.Op == fsnotify.Chmod {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("tunnel watcher error", "error", err)
		case <-fire:
			fire = nil
			tunnels, err := s.List()
			if err != nil {
				s.logger.Error("reload tunnels failed", "error", err)
				continue
			}
			onChange(tunnels)
		}
	}
}
