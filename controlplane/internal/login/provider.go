// Package login verifies user identities against an OpenID Connect provider.
package login

import (
	"context"
	"errors"

	"wg-sso-gateway/controlplane/internal/model"
)

// ErrIdentityRejected covers every reason an identity proof is not accepted:
// provider errors, a nonce mismatch, a missing email or a foreign domain.
var ErrIdentityRejected = errors.New("identity rejected")

// Provider starts an authorization flow and verifies its result.
type Provider interface {
	// AuthURL returns the URL the user opens to authenticate. state is echoed
	// back by the provider; nonce is bound into the issued ID token.
	AuthURL(state, nonce string) string
	// Verify exchanges the authorization code and checks the identity.
	Verify(ctx context.Context, code, nonce string) (model.Identity, error)
}
