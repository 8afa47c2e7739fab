package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openvacs/vacs/internal/common/config"
	"golang.org/x/oauth2"
)

// OIDCProvider implements Provider against an OAuth2/OIDC identity provider
// using the authorization-code flow with PKCE (S256).
type OIDCProvider struct {
	oauth       oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider builds a provider from the auth configuration.
func NewOIDCProvider(cfg config.Auth) *OIDCProvider {
	return &OIDCProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: []string{"openid"},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL implements Provider.AuthCodeURL.
func (p *OIDCProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode implements Provider.ExchangeCode.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, verifier string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// Refresh implements Provider.Refresh.
func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// LookupUserID implements Provider.LookupUserID by querying the userinfo
// endpoint. The provider reports the stable identifier as "cid", either at
// the top level or nested under "data".
func (p *OIDCProvider) LookupUserID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %s: %w", resp.Status, ErrUnknownUser)
	}

	var payload struct {
		CID  json.Number `json:"cid"`
		Data struct {
			CID json.Number `json:"cid"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("userinfo decode failed: %w", err)
	}

	cid := payload.CID.String()
	if cid == "" {
		cid = payload.Data.CID.String()
	}
	if cid == "" {
		return "", ErrUnknownUser
	}
	return cid, nil
}
