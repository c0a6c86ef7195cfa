// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// ErrExpiredLineage indicates the refresh-token lineage has reached its
// absolute lifetime and no replacement token can be issued.
var ErrExpiredLineage = errors.New("token: refresh token lineage expired")

// BackchannelLogoutEvent is the member name of the events claim in logout
// tokens.
const BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// reservedIdentityClaims are never overwritten by userinfo-sourced claims.
var reservedIdentityClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "iat": true,
	"auth_time": true, "nonce": true, "sid": true, "acr": true,
	"c_hash": true, "at_hash": true,
}

// UserClaimsProvider resolves the identity claims granted by the request's
// scopes and explicit claims parameter.
type UserClaimsProvider interface {
	UserClaims(ctx context.Context, subject string, scopes, claimNames []string) (map[string]any, error)
}

// MinterConfig carries the deployment-wide minting parameters.
type MinterConfig struct {
	// Issuer is the iss claim on every minted token.
	Issuer string

	// PairwiseSalt is the server secret salting pairwise subject
	// derivation.
	PairwiseSalt string
}

// Minter assembles and signs the four token kinds the server issues.
type Minter struct {
	cfg      MinterConfig
	signer   Signer
	registry *Registry
	users    UserClaimsProvider
	clock    clockwork.Clock
}

// NewMinter creates a minter. users may be nil when identity tokens never
// inline user claims.
func NewMinter(cfg MinterConfig, signer Signer, registry *Registry, users UserClaimsProvider, clock clockwork.Clock) *Minter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Minter{cfg: cfg, signer: signer, registry: registry, users: users, clock: clock}
}

// Algorithm returns the signing algorithm in use, for at_hash/c_hash pairing
// by callers that compute hashes themselves.
func (m *Minter) Algorithm() string {
	return m.signer.Algorithm()
}

// Subject returns the subject identifier the client sees: the pairwise
// derivation for pairwise clients, the local subject otherwise.
func (m *Minter) Subject(c *client.Client, subject string) (string, error) {
	if c.SubjectType != oauth.SubjectTypePairwise {
		return subject, nil
	}
	sector, err := c.SectorHost()
	if err != nil {
		return "", fmt.Errorf("token: pairwise subject for client %s: %w", c.ID, err)
	}
	return PairwiseSubject(sector, subject, m.cfg.PairwiseSalt), nil
}

// MintAccessToken signs an access token for the grant and returns it with
// its lifetime.
func (m *Minter) MintAccessToken(ctx context.Context, c *client.Client, grant *AuthorizedGrant) (string, time.Duration, error) {
	sub, err := m.Subject(c, grant.Session.Subject)
	if err != nil {
		return "", 0, err
	}

	now := m.clock.Now().UTC()
	lifetime := c.AccessTokenLifetime()

	claims := NewClaims()
	claims.Set("iss", m.cfg.Issuer)
	claims.Set("aud", []string{c.ID})
	claims.Set("sub", sub)
	if sid := grant.Session.SessionID; sid != "" {
		claims.Set("sid", sid)
	}
	claims.SetTime("iat", now)
	claims.SetTime("nbf", now)
	claims.SetTime("exp", now.Add(lifetime))
	claims.Set("jti", uuid.NewString())
	if len(grant.Context.Scopes) > 0 {
		claims.Set("scope", oauth.JoinSpaceDelimited(grant.Context.Scopes))
	}
	if len(grant.Context.Resources) > 0 {
		claims.Set("resources", grant.Context.Resources)
	}

	jwt, err := m.sign(ctx, TypAccessToken, claims)
	if err != nil {
		return "", 0, err
	}
	return jwt, lifetime, nil
}

// IdentityTokenOptions selects the optional identity-token content.
type IdentityTokenOptions struct {
	// IncludeUserClaims inlines userinfo-scoped claims into the token.
	IncludeUserClaims bool

	// Code, when set, binds the authorization code via c_hash.
	Code string

	// AccessToken, when set, binds the access token via at_hash.
	AccessToken string
}

// MintIdentityToken signs an identity token for the grant.
func (m *Minter) MintIdentityToken(ctx context.Context, c *client.Client, grant *AuthorizedGrant, opts IdentityTokenOptions) (string, error) {
	sub, err := m.Subject(c, grant.Session.Subject)
	if err != nil {
		return "", err
	}

	now := m.clock.Now().UTC()

	claims := NewClaims()
	claims.Set("iss", m.cfg.Issuer)
	claims.Set("sub", sub)
	claims.Set("aud", c.ID)
	claims.SetTime("iat", now)
	claims.SetTime("exp", now.Add(c.IdentityTokenLifetime()))
	claims.SetTime("auth_time", grant.Session.AuthenticatedAt)
	if sid := grant.Session.SessionID; sid != "" {
		claims.Set("sid", sid)
	}
	if acr := grant.Session.ACR; acr != "" {
		claims.Set("acr", acr)
	}
	if nonce := grant.Context.Nonce; nonce != "" {
		claims.Set("nonce", nonce)
	}

	if opts.Code != "" {
		ch, err := HalfHash(m.signer.Algorithm(), opts.Code)
		if err != nil {
			return "", err
		}
		claims.Set("c_hash", ch)
	}
	if opts.AccessToken != "" {
		ah, err := HalfHash(m.signer.Algorithm(), opts.AccessToken)
		if err != nil {
			return "", err
		}
		claims.Set("at_hash", ah)
	}

	if opts.IncludeUserClaims && m.users != nil {
		var requested []string
		if grant.Context.RequestedClaims != nil {
			requested = grant.Context.RequestedClaims.IDToken
		}
		userClaims, err := m.users.UserClaims(ctx, grant.Session.Subject, grant.Context.Scopes, requested)
		if err != nil {
			return "", fmt.Errorf("token: user claims for %s: %w", grant.Session.Subject, err)
		}
		for name, value := range userClaims {
			if !reservedIdentityClaims[name] {
				claims.Set(name, value)
			}
		}
	}

	return m.sign(ctx, TypIdentityToken, claims)
}

// RefreshToken is a freshly minted refresh token together with the registry
// coordinates the rotation pipeline needs.
type RefreshToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// MintRefreshToken signs a refresh token and records its jti as active.
// lineageIssuedAt is the iat of the first token in the rotation lineage; the
// new expiry is the earlier of lineage start plus the absolute lifetime and
// now plus the sliding lifetime. Returns ErrExpiredLineage when that instant
// has already passed.
func (m *Minter) MintRefreshToken(ctx context.Context, c *client.Client, grant *AuthorizedGrant, lineageIssuedAt time.Time) (*RefreshToken, error) {
	// Refresh tokens are only ever consumed by this server, which must
	// recover the local subject to re-derive pairwise identifiers on the
	// replacement tokens. No pairwise derivation here.
	sub := grant.Session.Subject

	now := m.clock.Now().UTC()
	if lineageIssuedAt.IsZero() {
		lineageIssuedAt = now
	} else {
		lineageIssuedAt = lineageIssuedAt.UTC()
	}

	exp := lineageIssuedAt.Add(c.RefreshTokenAbsoluteLifetime())
	if sliding := now.Add(c.RefreshTokenSlidingLifetime()); sliding.Before(exp) {
		exp = sliding
	}
	if !exp.After(now) {
		return nil, ErrExpiredLineage
	}

	jti := uuid.NewString()

	claims := NewClaims()
	claims.Set("jti", jti)
	claims.Set("sub", sub)
	if sid := grant.Session.SessionID; sid != "" {
		claims.Set("sid", sid)
	}
	claims.SetTime("iat", lineageIssuedAt)
	claims.SetTime("nbf", now)
	claims.SetTime("exp", exp)
	claims.Set("aud", c.ID)
	claims.Set("iss", m.cfg.Issuer)
	if len(grant.Context.Scopes) > 0 {
		claims.Set("scope", oauth.JoinSpaceDelimited(grant.Context.Scopes))
	}
	if len(grant.Context.Resources) > 0 {
		claims.Set("resources", grant.Context.Resources)
	}

	jwt, err := m.sign(ctx, TypRefreshToken, claims)
	if err != nil {
		return nil, err
	}

	// The registry entry must be durable before the token leaves the
	// server, or an immediate rotation would see an unknown jti.
	if err := m.registry.MarkActive(ctx, jti, exp); err != nil {
		return nil, err
	}

	return &RefreshToken{Token: jwt, JTI: jti, ExpiresAt: exp}, nil
}

// MintLogoutToken signs a back-channel logout token for the client. sid is
// included when non-empty.
func (m *Minter) MintLogoutToken(ctx context.Context, c *client.Client, subject, sid string) (string, error) {
	sub, err := m.Subject(c, subject)
	if err != nil {
		return "", err
	}

	claims := NewClaims()
	claims.Set("iss", m.cfg.Issuer)
	claims.Set("aud", c.ID)
	claims.Set("sub", sub)
	if sid != "" {
		claims.Set("sid", sid)
	}
	claims.SetTime("iat", m.clock.Now().UTC())
	claims.Set("jti", uuid.NewString())
	claims.Set("events", map[string]any{BackchannelLogoutEvent: map[string]any{}})

	return m.sign(ctx, TypLogoutToken, claims)
}

func (m *Minter) sign(ctx context.Context, typ string, claims *Claims) (string, error) {
	payload, err := claims.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}
	jwt, err := m.signer.Sign(ctx, typ, payload)
	if err != nil {
		return "", fmt.Errorf("token: sign %s: %w", typ, err)
	}
	return jwt, nil
}
