// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the key-value store abstraction backing the
// authorization server: typed key construction, an in-memory backend with
// TTL cleanup, and a Redis backend for distributed deployments.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates the key does not exist or has expired.
	ErrNotFound = errors.New("storage: not found")
)

// Store is the narrow key-value contract the core depends on. Backends must
// linearize operations per key; GetDel in particular must guarantee
// at-most-one successful read so that authorization-code redemption is
// single-use under concurrency.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel atomically removes and returns the value for key, or
	// ErrNotFound. At most one concurrent caller observes the value.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry; otherwise the
	// backend evicts the entry once the ttl elapses.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// KeyFactory builds namespaced keys for each record family. The prefix
// isolates tenants sharing one backend, mirroring the "app:component:"
// convention used for Redis multi-tenancy.
type KeyFactory struct {
	prefix string
}

// NewKeyFactory creates a key factory with the given namespace prefix.
// An empty prefix is valid for single-tenant deployments.
func NewKeyFactory(prefix string) KeyFactory {
	return KeyFactory{prefix: prefix}
}

// AuthorizationCode keys single-use authorization-code records.
func (k KeyFactory) AuthorizationCode(code string) string {
	return k.prefix + "code:" + code
}

// Session keys authenticated user sessions by session id.
func (k KeyFactory) Session(sid string) string {
	return k.prefix + "session:" + sid
}

// TokenStatus keys token-registry entries by jti.
func (k KeyFactory) TokenStatus(jti string) string {
	return k.prefix + "token:" + jti
}

// DeviceCode keys device-flow requests by device code (primary index).
func (k KeyFactory) DeviceCode(deviceCode string) string {
	return k.prefix + "device:" + deviceCode
}

// UserCode keys the device-flow secondary index from user code to device code.
func (k KeyFactory) UserCode(userCode string) string {
	return k.prefix + "usercode:" + userCode
}

// CIBARequest keys backchannel authentication requests by auth_req_id.
func (k KeyFactory) CIBARequest(authReqID string) string {
	return k.prefix + "ciba:" + authReqID
}

// RateLimit keys rate-limiter state. The scope separates the per-user-code
// and per-IP families.
func (k KeyFactory) RateLimit(scope, id string) string {
	return k.prefix + "ratelimit:" + scope + ":" + id
}

// Consent keys stored consent grants per subject and client.
func (k KeyFactory) Consent(subject, clientID string) string {
	return k.prefix + "consent:" + subject + ":" + clientID
}

// PushedRequest keys pushed authorization requests (RFC 9126) by their
// request_uri identifier.
func (k KeyFactory) PushedRequest(id string) string {
	return k.prefix + "par:" + id
}
