/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"

	"github.com/friendsincode/ripple/internal/models"
)

type contextKey string

const principalContextKey contextKey = "ripplePrincipal"

// WithPrincipal attaches the request principal to the context.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal from context if present.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(models.Principal)
	return p, ok
}

// Viewer returns the submitter identity of an authenticated principal, or
// nil for guests and anonymous requests.
func Viewer(ctx context.Context) *models.Submitter {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Guest || p.ID == "" {
		return nil
	}
	s := p.Submitter()
	return &s
}
