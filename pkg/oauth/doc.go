// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared RFC-defined types, constants, and validation
// utilities for OAuth 2.0 and OpenID Connect: protocol error codes (RFC 6749
// Section 5.2 and OIDC Core Section 3.1.2.6), enum-valued request parameters,
// wire-format response structs, server metadata documents, and redirect URI
// validation per RFC 6749 and RFC 8252.
package oauth
