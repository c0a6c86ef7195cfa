// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
)

// StaticProvider serves a fixed client registry loaded at startup. The map
// is read-only after construction, so lookups need no locking.
type StaticProvider struct {
	clients map[string]*Client
}

// NewStaticProvider validates every registration and indexes it by id.
func NewStaticProvider(clients []*Client) (*StaticProvider, error) {
	index := make(map[string]*Client, len(clients))
	for _, c := range clients {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[c.ID]; dup {
			return nil, fmt.Errorf("client %s: duplicate registration", c.ID)
		}
		index[c.ID] = c
	}
	return &StaticProvider{clients: index}, nil
}

// GetClient returns the client record, or ErrNotFound.
func (p *StaticProvider) GetClient(_ context.Context, id string) (*Client, error) {
	c, ok := p.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

var _ Provider = (*StaticProvider)(nil)
