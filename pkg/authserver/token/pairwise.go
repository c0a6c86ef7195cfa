// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/sha256"
	"encoding/base64"
)

// PairwiseSubject derives the per-sector subject identifier for a pairwise
// client: SHA-256 over sector host, local subject and the server salt,
// base64url-encoded. Clients sharing a sector host see the same value for a
// user; clients in different sectors cannot correlate.
func PairwiseSubject(sectorHost, subject, salt string) string {
	h := sha256.New()
	h.Write([]byte(sectorHost))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
