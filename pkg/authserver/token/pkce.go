// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/oauth2"

	"github.com/openauthd/openauthd/pkg/oauth"
)

// VerifyCodeChallenge checks a PKCE verifier against the challenge recorded
// at authorization time. An unset method means plain.
func VerifyCodeChallenge(method oauth.CodeChallengeMethod, verifier, challenge string) bool {
	var derived string
	switch method {
	case "", oauth.CodeChallengeMethodPlain:
		derived = verifier
	case oauth.CodeChallengeMethodS256:
		derived = oauth2.S256ChallengeFromVerifier(verifier)
	case oauth.CodeChallengeMethodS512:
		sum := sha512.Sum512([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}
