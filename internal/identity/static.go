package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// StaticProvider is an in-process Provider for tests: authorization codes
// and access tokens are looked up in fixed maps.
type StaticProvider struct {
	mu sync.Mutex

	// Codes maps authorization code → user id.
	Codes map[string]string
	// Tokens maps access token → user id, populated by ExchangeCode.
	Tokens map[string]string

	// ExchangeErr and LookupErr force the corresponding failure.
	ExchangeErr error
	LookupErr   error
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider that accepts the given codes.
func NewStaticProvider(codes map[string]string) *StaticProvider {
	return &StaticProvider{
		Codes:  codes,
		Tokens: make(map[string]string),
	}
}

// AuthCodeURL implements Provider.AuthCodeURL.
func (p *StaticProvider) AuthCodeURL(state, _ string) string {
	return "https://idp.invalid/authorize?state=" + url.QueryEscape(state)
}

// ExchangeCode implements Provider.ExchangeCode.
func (p *StaticProvider) ExchangeCode(_ context.Context, code, _ string) (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ExchangeErr != nil {
		return nil, p.ExchangeErr
	}
	userID, ok := p.Codes[code]
	if !ok {
		return nil, errors.New("invalid authorization code")
	}
	access := fmt.Sprintf("access-%s", userID)
	p.Tokens[access] = userID
	return &Token{AccessToken: access, Expiry: time.Now().Add(time.Hour)}, nil
}

// Refresh implements Provider.Refresh.
func (p *StaticProvider) Refresh(context.Context, string) (*Token, error) {
	return nil, errors.New("refresh not supported")
}

// LookupUserID implements Provider.LookupUserID.
func (p *StaticProvider) LookupUserID(_ context.Context, accessToken string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.LookupErr != nil {
		return "", p.LookupErr
	}
	userID, ok := p.Tokens[accessToken]
	if !ok {
		return "", ErrUnknownUser
	}
	return userID, nil
}
