// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"github.com/openauthd/openauthd/pkg/authserver/token"
)

// JoseSigner signs and verifies compact JWTs with the server signing key.
type JoseSigner struct {
	key     *SigningKey
	allowed []jose.SignatureAlgorithm
}

// NewJoseSigner wraps the signing key as a token signer.
func NewJoseSigner(key *SigningKey) *JoseSigner {
	return &JoseSigner{
		key:     key,
		allowed: []jose.SignatureAlgorithm{jose.SignatureAlgorithm(key.Algorithm)},
	}
}

// Sign produces a compact JWS with alg, kid and typ headers.
func (s *JoseSigner) Sign(_ context.Context, typ string, payload []byte) (string, error) {
	opts := (&jose.SignerOptions{}).
		WithType(jose.ContentType(typ)).
		WithHeader("kid", s.key.ID)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(s.key.Algorithm),
		Key:       s.key.Key,
	}, opts)
	if err != nil {
		return "", fmt.Errorf("keys: create signer: %w", err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("keys: sign: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("keys: serialize: %w", err)
	}
	return compact, nil
}

// Verify checks the signature against the server public key and decodes the
// payload. Lifetime checks are the caller's concern.
func (s *JoseSigner) Verify(_ context.Context, raw string) (*token.VerifiedToken, error) {
	jws, err := jose.ParseSigned(raw, s.allowed)
	if err != nil {
		return nil, fmt.Errorf("keys: parse token: %w", err)
	}

	payload, err := jws.Verify(s.key.Key.Public())
	if err != nil {
		return nil, fmt.Errorf("keys: verify signature: %w", err)
	}

	claims, err := token.ParseClaims(payload)
	if err != nil {
		return nil, err
	}

	var typ string
	if len(jws.Signatures) > 0 {
		if v, ok := jws.Signatures[0].Header.ExtraHeaders[jose.HeaderType]; ok {
			typ, _ = v.(string)
		}
	}

	return &token.VerifiedToken{Typ: typ, Claims: claims}, nil
}

// Algorithm returns the JWS algorithm name.
func (s *JoseSigner) Algorithm() string {
	return s.key.Algorithm
}

var _ token.Signer = (*JoseSigner)(nil)
