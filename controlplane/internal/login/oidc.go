package login

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"wg-sso-gateway/controlplane/internal/model"
)

var DefaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// EmailDomain, when set, restricts logins to addresses in that domain.
	EmailDomain string
}

type OIDCProvider struct {
	provider    *oidc.Provider
	oauth2      oauth2.Config
	verifier    *oidc.IDTokenVerifier
	emailDomain string
	logger      *slog.Logger
}

// NewOIDCProvider runs discovery against the issuer.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, logger *slog.Logger) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &OIDCProvider{
		provider: provider,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		emailDomain: strings.ToLower(strings.TrimPrefix(cfg.EmailDomain, "@")),
		logger:      logger,
	}, nil
}

func (p *OIDCProvider) AuthURL(state, nonce string) string {
	return p.oauth2.AuthCodeURL(state, oidc.Nonce(nonce))
}

func (p *OIDCProvider) Verify(ctx context.Context, code, nonce string) (model.Identity, error) {
	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return model.Identity{}, reject("exchange code: %v", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return model.Identity{}, reject("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return model.Identity{}, reject("verify id token: %v", err)
	}
	if idToken.Nonce != nonce {
		return model.Identity{}, reject("nonce mismatch")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return model.Identity{}, reject("parse claims: %v", err)
	}

	email := claims.Email
	if email == "" {
		info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return model.Identity{}, reject("userinfo: %v", err)
		}
		email = info.Email
	}
	if email == "" {
		return model.Identity{}, reject("no email claim")
	}
	if err := p.checkDomain(email); err != nil {
		return model.Identity{}, err
	}

	p.logger.Info("identity verified", "subject", idToken.Subject, "email", email)
	return model.Identity{Subject: idToken.Subject, Email: email}, nil
}

func (p *OIDCProvider) checkDomain(email string) error {
	if p.emailDomain == "" {
		return nil
	}
	if !strings.HasSuffix(strings.ToLower(email), "@"+p.emailDomain) {
		return reject("email %q is not in domain %q", email, p.emailDomain)
	}
	return nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIdentityRejected, fmt.Sprintf(format, args...))
}
