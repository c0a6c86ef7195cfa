// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/storage"
)

// Status is the registry state of a refresh-token jti.
type Status string

// Registry statuses. An absent entry is treated as inactive: the token
// either expired out of the registry or was never issued here.
const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// ErrUnknownToken indicates the jti has no registry entry.
var ErrUnknownToken = errors.New("token: unknown token")

type registryEntry struct {
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Registry tracks refresh-token liveness by jti. Entries carry the token's
// own expiry as TTL, so the registry never outlives the tokens it describes.
type Registry struct {
	kv    storage.Store
	keys  storage.KeyFactory
	clock clockwork.Clock
}

// NewRegistry creates a registry on the key-value backend.
func NewRegistry(kv storage.Store, keys storage.KeyFactory, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{kv: kv, keys: keys, clock: clock}
}

// MarkActive records a freshly minted jti as active until the token's
// expiry.
func (r *Registry) MarkActive(ctx context.Context, jti string, expiresAt time.Time) error {
	return r.put(ctx, jti, StatusActive, expiresAt)
}

// Revoke flips the jti to revoked, keeping the entry until the token's
// original expiry so replays stay detectable for the token's whole lifetime.
func (r *Registry) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	return r.put(ctx, jti, StatusRevoked, expiresAt)
}

// Status returns the registry state of the jti, or ErrUnknownToken.
func (r *Registry) Status(ctx context.Context, jti string) (Status, error) {
	data, err := r.kv.Get(ctx, r.keys.TokenStatus(jti))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, jti)
	}
	if err != nil {
		return "", fmt.Errorf("token: registry load %s: %w", jti, err)
	}

	var entry registryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", fmt.Errorf("token: registry unmarshal %s: %w", jti, err)
	}
	return entry.Status, nil
}

func (r *Registry) put(ctx context.Context, jti string, status Status, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		// Already expired; nothing to track.
		return nil
	}

	data, err := json.Marshal(registryEntry{Status: status, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("token: registry marshal %s: %w", jti, err)
	}
	if err := r.kv.Set(ctx, r.keys.TokenStatus(jti), data, ttl); err != nil {
		return fmt.Errorf("token: registry store %s: %w", jti, err)
	}
	return nil
}
