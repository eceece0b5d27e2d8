// Package keys obtains WireGuard key pairs, either from the external `wg`
// tool or natively through wgtypes.
package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wg-sso-gateway/internal/command"
)

// ErrKeyGen is returned when a key pair could not be produced.
var ErrKeyGen = errors.New("key generation failed")

// KeyPair holds base64 encoded WireGuard keys.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"-"`
}

type Generator interface {
	Generate(ctx context.Context) (KeyPair, error)
}

// ToolGenerator runs `wg genkey` and pipes the result into `wg pubkey`.
type ToolGenerator struct {
	runner command.Runner
}

func NewToolGenerator(runner command.Runner) *ToolGenerator {
	if runner == nil {
		runner = command.NewExecRunner()
	}
	return &ToolGenerator{runner: runner}
}

func (g *ToolGenerator) Generate(ctx context.Context) (KeyPair, error) {
	out, err := g.runner.Run(ctx, nil, "wg", "genkey")
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	private, err := parseKey(out)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: wg genkey output: %v", ErrKeyGen, err)
	}

	out, err = g.runner.Run(ctx, []byte(private.String()+"\n"), "wg", "pubkey")
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	public, err := parseKey(out)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: wg pubkey output: %v", ErrKeyGen, err)
	}

	return KeyPair{PublicKey: public.String(), PrivateKey: private.String()}, nil
}

// NativeGenerator generates keys in-process.
type NativeGenerator struct{}

func (NativeGenerator) Generate(context.Context) (KeyPair, error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	return KeyPair{PublicKey: key.PublicKey().String(), PrivateKey: key.String()}, nil
}

// ValidatePublicKey reports whether s is a base64 encoded 32 byte key.
func ValidatePublicKey(s string) error {
	_, err := wgtypes.ParseKey(strings.TrimSpace(s))
	return err
}

func parseKey(out []byte) (wgtypes.Key, error) {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return wgtypes.Key{}, errors.New("empty output")
	}
	return wgtypes.ParseKey(s)
}
