package wgquick

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wg-sso-gateway/internal/wgconf"
)

type runCall struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []runCall
	fail  map[string]error
}

func (f *fakeRunner) Run(_ context.Context, _ []byte, name string, args ...string) ([]byte, error) {
	cp := make([]string, len(args))
	copy(cp, args)
	f.calls = append(f.calls, runCall{name: name, args: cp})
	if len(args) > 0 {
		if err, ok := f.fail[args[0]]; ok {
			return nil, err
		}
	}
	return nil, nil
}

func testConfig() wgconf.Config {
	return wgconf.Config{
		Interface: wgconf.Interface{PrivateKey: "cHJpdmF0ZQ==", Address: []string{"10.1.0.2/32"}},
		Peers:     []wgconf.Peer{{PublicKey: "c2VydmVy", AllowedIPs: []string{"10.1.0.0/24"}}},
	}
}

func TestUpWritesConfigAndRestarts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wireguard")
	fr := &fakeRunner{fail: map[string]error{"down": errors.New("not running")}}
	tool := New(dir, fr, nil)

	require.NoError(t, tool.Up(context.Background(), "wg-test", testConfig()))

	path := filepath.Join(dir, "wg-test.conf")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testConfig().Render(), data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.Len(t, fr.calls, 2)
	assert.Equal(t, runCall{name: "wg-quick", args: []string{"down", "wg-test"}}, fr.calls[0])
	assert.Equal(t, runCall{name: "wg-quick", args: []string{"up", path}}, fr.calls[1])
}

func TestUpFailure(t *testing.T) {
	fr := &fakeRunner{fail: map[string]error{"up": errors.New("exit status 1")}}
	tool := New(t.TempDir(), fr, nil)

	err := tool.Up(context.Background(), "wg-test", testConfig())
	assert.ErrorIs(t, err, ErrToolFailed)
}

func TestDown(t *testing.T) {
	fr := &fakeRunner{}
	tool := New(t.TempDir(), fr, nil)

	require.NoError(t, tool.Down(context.Background(), "wg-test"))
	assert.Equal(t, []runCall{{name: "wg-quick", args: []string{"down", "wg-test"}}}, fr.calls)

	fr.fail = map[string]error{"down": errors.New("exit status 1")}
	assert.ErrorIs(t, tool.Down(context.Background(), "wg-test"), ErrToolFailed)
}
