// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
)

// JWT typ header values for the token kinds the server mints.
const (
	TypAccessToken   = "at+jwt"
	TypIdentityToken = "JWT"
	TypRefreshToken  = "refresh+jwt"
	TypLogoutToken   = "logout+jwt"
)

// VerifiedToken is the outcome of a signature check. Verification covers the
// signature only; lifetime and registry checks belong to the caller.
type VerifiedToken struct {
	// Typ is the JWS typ header.
	Typ string

	// Claims is the decoded payload.
	Claims *Claims
}

// Signer signs and verifies compact JWTs. Implementations own key selection
// and the kid header.
type Signer interface {
	// Sign produces a compact JWS over payload with the given typ header.
	Sign(ctx context.Context, typ string, payload []byte) (string, error)

	// Verify checks the signature and returns the decoded token.
	Verify(ctx context.Context, jws string) (*VerifiedToken, error)

	// Algorithm returns the JWS algorithm name (e.g. "RS256").
	Algorithm() string
}

// signingHash returns the digest paired with a JWS algorithm, per the OIDC
// c_hash/at_hash rules.
func signingHash(alg string) (crypto.Hash, error) {
	switch alg {
	case "RS256", "ES256", "PS256", "HS256":
		return crypto.SHA256, nil
	case "RS384", "ES384", "PS384", "HS384":
		return crypto.SHA384, nil
	case "RS512", "ES512", "PS512", "HS512", "EdDSA":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("token: no hash pairing for algorithm %q", alg)
	}
}

// HalfHash computes the OIDC half-digest binding value for an artifact:
// hash the ASCII bytes with the algorithm paired to alg, keep the leftmost
// half of the digest, base64url-encode without padding. Used for both
// c_hash and at_hash.
func HalfHash(alg, artifact string) (string, error) {
	h, err := signingHash(alg)
	if err != nil {
		return "", err
	}

	var digest []byte
	switch h {
	case crypto.SHA256:
		sum := sha256.Sum256([]byte(artifact))
		digest = sum[:]
	case crypto.SHA384:
		sum := sha512.Sum384([]byte(artifact))
		digest = sum[:]
	case crypto.SHA512:
		sum := sha512.Sum512([]byte(artifact))
		digest = sum[:]
	}

	return base64.RawURLEncoding.EncodeToString(digest[:len(digest)/2]), nil
}
