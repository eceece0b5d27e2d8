package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"wg-sso-gateway/controlplane/internal/login"
	"wg-sso-gateway/controlplane/internal/model"
	"wg-sso-gateway/controlplane/internal/repository"
	"wg-sso-gateway/controlplane/internal/token"
	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/protocol"
	"wg-sso-gateway/internal/wgconf"
)

const (
	nonceLength   = 15
	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// SessionStarter is implemented by the WireGuard sync engine.
type SessionStarter interface {
	StartSession(identityKey, clientPublicKey string, identity model.Identity) (model.Lease, wgconf.Interface, wgconf.Peer, error)
}

// LoginService runs the two-step login: start hands out an authorization URL
// and a signed token, finish verifies the identity and grants a session.
type LoginService struct {
	tokens   *token.Issuer[model.LoginAttempt]
	provider login.Provider
	sessions SessionStarter
	repo     repository.Repository
	logger   *slog.Logger
}

func NewLoginService(tokens *token.Issuer[model.LoginAttempt], provider login.Provider, sessions SessionStarter, repo repository.Repository, logger *slog.Logger) *LoginService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginService{
		tokens:   tokens,
		provider: provider,
		sessions: sessions,
		repo:     repo,
		logger:   logger,
	}
}

func (s *LoginService) Start(ctx context.Context, req protocol.StartLoginRequest) (protocol.StartLoginResponse, error) {
	publicKey := strings.TrimSpace(req.ClientPublicKey)
	if err := keys.ValidatePublicKey(publicKey); err != nil {
		return protocol.StartLoginResponse{}, ValidationError{Msg: "client_public_key is not a valid WireGuard key"}
	}

	nonce, err := randomNonce()
	if err != nil {
		return protocol.StartLoginResponse{}, err
	}
	loginToken, err := s.tokens.Generate(model.LoginAttempt{
		ClientPublicKey: publicKey,
		Nonce:           nonce,
		DeviceID:        strings.TrimSpace(req.DeviceID),
	})
	if err != nil {
		return protocol.StartLoginResponse{}, fmt.Errorf("generate login token: %w", err)
	}

	return protocol.StartLoginResponse{
		AuthURL:    s.provider.AuthURL(loginToken, nonce),
		LoginToken: loginToken,
	}, nil
}

func (s *LoginService) Finish(ctx context.Context, req protocol.FinishLoginRequest) (protocol.FinishLoginResponse, error) {
	attempt, err := s.tokens.Validate(req.LoginToken)
	if err != nil {
		return protocol.FinishLoginResponse{}, AuthError{Msg: "invalid login token", Err: err}
	}
	if strings.TrimSpace(req.AuthCode) == "" {
		return protocol.FinishLoginResponse{}, ValidationError{Msg: "auth_code is required"}
	}

	identity, err := s.provider.Verify(ctx, req.AuthCode, attempt.Nonce)
	if err != nil {
		if errors.Is(err, login.ErrIdentityRejected) {
			s.logger.Warn("identity rejected", "device_id", attempt.DeviceID, "error", err)
			return protocol.FinishLoginResponse{}, AuthError{Msg: "identity rejected", Err: err}
		}
		return protocol.FinishLoginResponse{}, err
	}

	identityKey := attempt.DeviceID
	if identityKey == "" {
		identityKey = uuid.NewString()
	}
	lease, iface, peer, err := s.sessions.StartSession(identityKey, attempt.ClientPublicKey, identity)
	if err != nil {
		return protocol.FinishLoginResponse{}, fmt.Errorf("start session: %w", err)
	}

	s.record(ctx, lease)
	return protocol.FinishLoginResponse{
		SessionEndsAt: lease.EndsAt,
		Interface:     iface,
		Peer:          peer,
	}, nil
}

func (s *LoginService) record(ctx context.Context, lease model.Lease) {
	if s.repo == nil {
		return
	}
	rec := model.NewLoginRecord(lease, time.Now().UTC())
	if err := s.repo.CreateLoginRecord(ctx, &rec); err != nil {
		s.logger.Error("record login failed", "identity_key", lease.IdentityKey, "error", err)
	}
}

func randomNonce() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := 0; i < nonceLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		b.WriteByte(nonceAlphabet[n.Int64()])
	}
	return b.String(), nil
}
