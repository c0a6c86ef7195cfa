// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package introspection answers token introspection (RFC 7662) and token
// revocation (RFC 7009) for the server's own JWTs.
package introspection

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// Service validates presented tokens against the signer and, for refresh
// tokens, the revocation registry.
type Service struct {
	signer   token.Signer
	registry *token.Registry
	clock    clockwork.Clock
}

// NewService creates an introspection service.
func NewService(signer token.Signer, registry *token.Registry, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{signer: signer, registry: registry, clock: clock}
}

// Introspect classifies the token. Anything that fails signature, expiry,
// or registry checks comes back as inactive; the inactive answer carries no
// claims, so a caller probing with a stolen token learns nothing.
func (s *Service) Introspect(ctx context.Context, rawToken string) *oauth.IntrospectionResponse {
	inactive := &oauth.IntrospectionResponse{Active: false}
	if rawToken == "" {
		return inactive
	}

	verified, err := s.signer.Verify(ctx, rawToken)
	if err != nil {
		logger.Debugw("introspection of unverifiable token", "error", err)
		return inactive
	}

	if exp := verified.Claims.GetTime("exp"); exp.IsZero() || !s.clock.Now().Before(exp) {
		return inactive
	}

	if verified.Typ == token.TypRefreshToken {
		jti := verified.Claims.GetString("jti")
		status, err := s.registry.Status(ctx, jti)
		if err != nil || status != token.StatusActive {
			return inactive
		}
	}

	resp := &oauth.IntrospectionResponse{Active: true, Claims: verified.Claims.Map()}
	resp.Claims["token_type"] = oauth.TokenTypeBearer
	return resp
}

// Revoke invalidates the token. Refresh tokens are marked Revoked in the
// registry until their own expiry; anything else (unknown, malformed,
// already expired) is a silent success per RFC 7009.
func (s *Service) Revoke(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	verified, err := s.signer.Verify(ctx, rawToken)
	if err != nil {
		return nil
	}
	if verified.Typ != token.TypRefreshToken {
		return nil
	}

	jti := verified.Claims.GetString("jti")
	if jti == "" {
		return nil
	}
	exp := verified.Claims.GetTime("exp")
	if exp.IsZero() || !s.clock.Now().Before(exp) {
		return nil
	}

	if err := s.registry.Revoke(ctx, jti, exp); err != nil {
		// Storage trouble is the one case the caller should hear about:
		// claiming success while the token stays live is worse than a 503.
		return err
	}
	logger.Infow("refresh token revoked", "jti", jti, "expires_at", exp.Format(time.RFC3339))
	return nil
}
