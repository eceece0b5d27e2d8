package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wg-sso-gateway/controlplane/internal/infra"
	"wg-sso-gateway/controlplane/internal/login"
	"wg-sso-gateway/controlplane/internal/model"
	"wg-sso-gateway/controlplane/internal/repository"
	"wg-sso-gateway/controlplane/internal/session"
	"wg-sso-gateway/controlplane/internal/token"
	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/protocol"
	"wg-sso-gateway/internal/wgconf"
)

type stubProvider struct {
	identity model.Identity
	err      error
	gotNonce string
}

func (p *stubProvider) AuthURL(state, nonce string) string {
	q := url.Values{"state": {state}, "nonce": {nonce}}
	return "https://idp.example.com/auth?" + q.Encode()
}

func (p *stubProvider) Verify(_ context.Context, code, nonce string) (model.Identity, error) {
	p.gotNonce = nonce
	if p.err != nil {
		return model.Identity{}, p.err
	}
	if code != "good-code" {
		return model.Identity{}, fmt.Errorf("%w: bad code", login.ErrIdentityRejected)
	}
	return p.identity, nil
}

type fakeSessions struct {
	identityKeys []string
	err          error
}

func (f *fakeSessions) StartSession(identityKey, publicKey string, identity model.Identity) (model.Lease, wgconf.Interface, wgconf.Peer, error) {
	if f.err != nil {
		return model.Lease{}, wgconf.Interface{}, wgconf.Peer{}, f.err
	}
	f.identityKeys = append(f.identityKeys, identityKey)
	lease := model.Lease{
		IdentityKey:     identityKey,
		ClientPublicKey: publicKey,
		ClientAddress:   netip.MustParseAddr("172.25.0.2"),
		EndsAt:          time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
		Identity:        identity,
	}
	return lease,
		wgconf.Interface{Address: []string{"172.25.0.2/32"}},
		wgconf.Peer{PublicKey: "server", AllowedIPs: []string{"172.25.0.0/24"}},
		nil
}

type fixture struct {
	svc      *LoginService
	provider *stubProvider
	sessions *fakeSessions
	repo     *repository.GormRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer, err := token.NewIssuer[model.LoginAttempt](2 * time.Minute)
	require.NoError(t, err)

	db, err := infra.OpenDB(":memory:")
	require.NoError(t, err)
	repo := repository.NewGormRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))

	f := &fixture{
		provider: &stubProvider{identity: model.Identity{Subject: "u1", Email: "alice@example.com"}},
		sessions: &fakeSessions{},
		repo:     repo,
	}
	f.svc = NewLoginService(issuer, f.provider, f.sessions, repo, nil)
	return f
}

func clientKey(t *testing.T) string {
	t.Helper()
	kp, err := keys.NativeGenerator{}.Generate(context.Background())
	require.NoError(t, err)
	return kp.PublicKey
}

func TestStartRejectsBadKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), protocol.StartLoginRequest{ClientPublicKey: "not-a-key"})
	assert.True(t, IsValidation(err))
}

func TestStartAndFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := clientKey(t)

	start, err := f.svc.Start(ctx, protocol.StartLoginRequest{ClientPublicKey: pub, DeviceID: "device-1"})
	require.NoError(t, err)
	require.NotEmpty(t, start.LoginToken)

	u, err := url.Parse(start.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, start.LoginToken, u.Query().Get("state"))
	nonce := u.Query().Get("nonce")
	assert.Len(t, nonce, 15)

	finish, err := f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: start.LoginToken, AuthCode: "good-code"})
	require.NoError(t, err)
	assert.Equal(t, nonce, f.provider.gotNonce)
	assert.Equal(t, []string{"device-1"}, f.sessions.identityKeys)
	assert.Equal(t, []string{"172.25.0.2/32"}, finish.Interface.Address)
	assert.Equal(t, "server", finish.Peer.PublicKey)
	assert.Equal(t, time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), finish.SessionEndsAt)

	records, err := f.repo.ListLoginRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice@example.com", records[0].Email)
	assert.Equal(t, pub, records[0].ClientPublicKey)
	assert.Equal(t, "device-1", records[0].IdentityKey)
}

func TestFinishWithoutDeviceIDIsAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := clientKey(t)

	for i := 0; i < 2; i++ {
		start, err := f.svc.Start(ctx, protocol.StartLoginRequest{ClientPublicKey: pub})
		require.NoError(t, err)
		_, err = f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: start.LoginToken, AuthCode: "good-code"})
		require.NoError(t, err)
	}
	require.Len(t, f.sessions.identityKeys, 2)
	assert.NotEqual(t, f.sessions.identityKeys[0], f.sessions.identityKeys[1])
}

func TestFinishErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: "forged", AuthCode: "good-code"})
		assert.True(t, IsAuth(err))
		assert.ErrorIs(t, err, token.ErrInvalid)
	})

	t.Run("identity rejected", func(t *testing.T) {
		f := newFixture(t)
		start, err := f.svc.Start(ctx, protocol.StartLoginRequest{ClientPublicKey: clientKey(t)})
		require.NoError(t, err)
		_, err = f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: start.LoginToken, AuthCode: "bad-code"})
		assert.True(t, IsAuth(err))
		assert.Empty(t, f.sessions.identityKeys)
	})

	t.Run("provider outage", func(t *testing.T) {
		f := newFixture(t)
		f.provider.err = errors.New("connection refused")
		start, err := f.svc.Start(ctx, protocol.StartLoginRequest{ClientPublicKey: clientKey(t)})
		require.NoError(t, err)
		_, err = f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: start.LoginToken, AuthCode: "good-code"})
		require.Error(t, err)
		assert.False(t, IsAuth(err))
	})

	t.Run("missing code", func(t *testing.T) {
		f := newFixture(t)
		start, err := f.svc.Start(ctx, protocol.StartLoginRequest{ClientPublicKey: clientKey(t)})
		require.NoError(t, err)
		_, err = f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: start.LoginToken})
		assert.True(t, IsValidation(err))
	})

	t.Run("pool exhausted", func(t *testing.T) {
		f := newFixture(t)
		f.sessions.err = session.ErrAddressPoolExhausted
		start, err := f.svc.Start(ctx, protocol.StartLoginRequest{ClientPublicKey: clientKey(t)})
		require.NoError(t, err)
		_, err = f.svc.Finish(ctx, protocol.FinishLoginRequest{LoginToken: start.LoginToken, AuthCode: "good-code"})
		assert.True(t, IsExhausted(err))
	})
}
