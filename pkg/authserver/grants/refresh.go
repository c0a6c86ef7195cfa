// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// exchangeRefreshToken rotates a refresh token. When rotation is enabled the
// presented jti is flipped to revoked before the replacement is minted, so a
// crash between the two steps costs the client a re-authentication rather
// than leaving two live tokens in the lineage.
func (p *Pipeline) exchangeRefreshToken(ctx context.Context, c *client.Client, req *TokenRequest) (*oauth.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth.ErrInvalidRequest.WithDescription("The refresh_token parameter is required")
	}

	verified, err := p.signer.Verify(ctx, req.RefreshToken)
	if err != nil {
		return nil, oauth.ErrInvalidGrant.WithDescription("The refresh token is invalid")
	}
	if verified.Typ != token.TypRefreshToken {
		return nil, oauth.ErrInvalidGrant.WithDescription("The presented token is not a refresh token")
	}

	claims := verified.Claims
	jti := claims.GetString("jti")
	if jti == "" {
		return nil, oauth.ErrInvalidGrant.WithDescription("The refresh token is invalid")
	}
	if aud := claims.GetStringSlice("aud"); len(aud) != 1 || aud[0] != c.ID {
		logger.Warnw("refresh token presented by wrong client", "client_id", c.ID, "jti", jti)
		return nil, oauth.ErrInvalidGrant.WithDescription("The refresh token was issued to another client")
	}

	now := p.clock.Now()
	exp := claims.GetTime("exp")
	if exp.IsZero() || now.After(exp) {
		return nil, oauth.ErrInvalidGrant.WithDescription("The refresh token has expired")
	}

	status, err := p.registry.Status(ctx, jti)
	switch {
	case err == nil && status == token.StatusActive:
		// fall through to rotation
	case err == nil && status == token.StatusRevoked:
		logger.Warnw("revoked refresh token replayed", "client_id", c.ID, "jti", jti)
		return nil, oauth.ErrInvalidGrant.WithDescription("The refresh token has been revoked")
	default:
		return nil, oauth.ErrInvalidGrant.WithDescription("The refresh token is not recognized")
	}

	granted := oauth.SplitSpaceDelimited(claims.GetString("scope"))
	scopes, err := narrowScopes(granted, req.Scopes)
	if err != nil {
		return nil, err
	}

	lineageIssuedAt := claims.GetTime("iat")
	grant := &token.AuthorizedGrant{
		Session: &session.AuthSession{
			Subject:         claims.GetString("sub"),
			SessionID:       claims.GetString("sid"),
			AuthenticatedAt: lineageIssuedAt,
		},
		Context: &token.AuthorizationContext{
			ClientID:  c.ID,
			Scopes:    scopes,
			Resources: claims.GetStringSlice("resources"),
		},
	}

	if !c.RefreshToken.AllowReuse {
		if err := p.registry.Revoke(ctx, jti, exp); err != nil {
			logger.Errorw("refresh token revocation failed", "jti", jti, "error", err)
			return nil, oauth.ErrServerError.WithDescription("Token rotation failed")
		}
	}

	return p.issue(ctx, c, grant, issueOptions{
		includeRefresh:  true,
		includeIDToken:  true,
		lineageIssuedAt: lineageIssuedAt,
	})
}
