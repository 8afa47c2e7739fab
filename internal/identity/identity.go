package identity

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownUser is returned by LookupUserID when the access token does not
// resolve to a user.
var ErrUnknownUser = errors.New("unknown user")

// Token is the credential material returned by the identity provider.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Provider abstracts the external identity provider. The signaling server
// only ever needs the authorization-code handshake and the stable user id
// (CID) lookup; everything else about the provider is out of scope.
type Provider interface {
	// AuthCodeURL builds the provider redirect for the login flow. The
	// PKCE verifier is bound to the flow and replayed on exchange.
	AuthCodeURL(state, verifier string) string

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, verifier string) (*Token, error)

	// Refresh obtains fresh tokens from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// LookupUserID resolves the access token to the provider's stable
	// user identifier.
	LookupUserID(ctx context.Context, accessToken string) (string, error)
}
