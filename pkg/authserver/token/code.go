// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/storage"
)

// ErrCodeNotFound indicates the authorization code is unknown, expired, or
// was already redeemed.
var ErrCodeNotFound = errors.New("token: authorization code not found")

type codeRecord struct {
	Grant     *AuthorizedGrant `json:"grant"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// CodeStore issues and redeems single-use authorization codes. Redemption is
// an atomic remove-and-return, so concurrent redeemers of the same code get
// at most one success.
type CodeStore struct {
	kv    storage.Store
	keys  storage.KeyFactory
	clock clockwork.Clock
}

// NewCodeStore creates an authorization-code store.
func NewCodeStore(kv storage.Store, keys storage.KeyFactory, clock clockwork.Clock) *CodeStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CodeStore{kv: kv, keys: keys, clock: clock}
}

// Issue stores the grant under a fresh opaque code.
func (s *CodeStore) Issue(ctx context.Context, grant *AuthorizedGrant, lifetime time.Duration) (string, error) {
	code, err := NewOpaqueToken()
	if err != nil {
		return "", err
	}

	rec := codeRecord{Grant: grant, ExpiresAt: s.clock.Now().Add(lifetime).UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("token: marshal code record: %w", err)
	}
	if err := s.kv.Set(ctx, s.keys.AuthorizationCode(code), data, lifetime); err != nil {
		return "", fmt.Errorf("token: store code: %w", err)
	}
	return code, nil
}

// Redeem atomically removes and returns the grant behind the code. A second
// redemption, an expired code, or a code this server never issued all yield
// ErrCodeNotFound.
func (s *CodeStore) Redeem(ctx context.Context, code string) (*AuthorizedGrant, error) {
	data, err := s.kv.GetDel(ctx, s.keys.AuthorizationCode(code))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token: redeem code: %w", err)
	}

	var rec codeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("token: unmarshal code record: %w", err)
	}
	if s.clock.Now().After(rec.ExpiresAt) {
		return nil, ErrCodeNotFound
	}
	return rec.Grant, nil
}

// NewOpaqueToken returns a 256-bit random base64url string, used for
// authorization codes, device codes and CIBA request ids.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
