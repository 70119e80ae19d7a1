package packs

import (
	"context"
	"errors"
	"strings"
)

// Resolver maps a user supplied token to a pack, trying the storage id before the ref.
type Resolver struct {
	lookup PackLookup
}

// NewResolver constructs a resolver over a pack lookup.
func NewResolver(lookup PackLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the pack whose id or ref equals token. It returns ErrNotFound when
// neither lookup matches.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Pack, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	pack, err := r.lookup.GetPackByID(ctx, token)
	if err == nil && pack != nil {
		return pack, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// "ref" here is the plain pack ref, not a typed resource reference.
	pack, err = r.lookup.GetPackByRef(ctx, token)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, ErrNotFound
	}
	return pack, nil
}
