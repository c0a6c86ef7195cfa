// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package session stores authenticated user sessions and provides the
// filtered enumeration the authorization pipeline selects from.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/openauthd/openauthd/pkg/authserver/storage"
)

// ErrNotFound indicates the session does not exist or has expired.
var ErrNotFound = errors.New("session: not found")

// DefaultTTL is the single-sign-on session lifetime applied when the store
// is constructed without one.
const DefaultTTL = 24 * time.Hour

// AuthSession is an authenticated user session. It is created on interactive
// login and shared across the clients listed in AffectedClientIDs.
type AuthSession struct {
	// Subject is the opaque user id.
	Subject string `json:"sub"`

	// SessionID is the opaque session id (sid claim).
	SessionID string `json:"sid"`

	// AuthenticatedAt is when the user authenticated, not when the record
	// was last written.
	AuthenticatedAt time.Time `json:"auth_time"`

	// IdentityProvider names the provider that authenticated the user.
	IdentityProvider string `json:"idp,omitempty"`

	// ACR is the authentication context class reference, when known.
	ACR string `json:"acr,omitempty"`

	// AffectedClientIDs lists, in first-use order, the clients that signed
	// in through this session. Drives logout notification fan-out.
	AffectedClientIDs []string `json:"affected_client_ids,omitempty"`
}

// TouchClient appends clientID to AffectedClientIDs if absent. Returns true
// when the session changed and needs persisting.
func (s *AuthSession) TouchClient(clientID string) bool {
	if slices.Contains(s.AffectedClientIDs, clientID) {
		return false
	}
	s.AffectedClientIDs = append(s.AffectedClientIDs, clientID)
	return true
}

// NewSessionID returns a fresh opaque session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Store persists sessions in the key-value backend.
type Store struct {
	kv   storage.Store
	keys storage.KeyFactory
	ttl  time.Duration
}

// NewStore creates a session store. A zero ttl selects DefaultTTL.
func NewStore(kv storage.Store, keys storage.KeyFactory, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, keys: keys, ttl: ttl}
}

// Save writes the session, refreshing its TTL.
func (s *Store) Save(ctx context.Context, sess *AuthSession) error {
	if sess.SessionID == "" {
		return errors.New("session: session id is required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.kv.Set(ctx, s.keys.Session(sess.SessionID), data, s.ttl); err != nil {
		return fmt.Errorf("session: store %s: %w", sess.SessionID, err)
	}
	return nil
}

// Get returns the session, or ErrNotFound.
func (s *Store) Get(ctx context.Context, sid string) (*AuthSession, error) {
	data, err := s.kv.Get(ctx, s.keys.Session(sid))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", sid, err)
	}

	var sess AuthSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal %s: %w", sid, err)
	}
	return &sess, nil
}

// List resolves the candidate session ids the user agent presented,
// skipping any that are missing or expired.
func (s *Store) List(ctx context.Context, sids []string) ([]*AuthSession, error) {
	var sessions []*AuthSession
	for _, sid := range sids {
		sess, err := s.Get(ctx, sid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Delete removes the session. Deleting an absent session is a no-op.
func (s *Store) Delete(ctx context.Context, sid string) error {
	if err := s.kv.Remove(ctx, s.keys.Session(sid)); err != nil {
		return fmt.Errorf("session: delete %s: %w", sid, err)
	}
	return nil
}

// FilterByMaxAge drops sessions whose authentication is older than maxAge
// seconds at the given instant. A nil maxAge disables the filter.
func FilterByMaxAge(sessions []*AuthSession, maxAge *int64, now time.Time) []*AuthSession {
	if maxAge == nil {
		return sessions
	}
	limit := time.Duration(*maxAge) * time.Second

	var out []*AuthSession
	for _, sess := range sessions {
		if now.Sub(sess.AuthenticatedAt) <= limit {
			out = append(out, sess)
		}
	}
	return out
}

// FilterByACR retains only sessions whose ACR is in the requested set. An
// empty set disables the filter.
func FilterByACR(sessions []*AuthSession, acrValues []string) []*AuthSession {
	if len(acrValues) == 0 {
		return sessions
	}

	var out []*AuthSession
	for _, sess := range sessions {
		if slices.Contains(acrValues, sess.ACR) {
			out = append(out, sess)
		}
	}
	return out
}
