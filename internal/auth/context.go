/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import "context"

// AnonymousOperator names the caller when the ops API runs without auth.
const AnonymousOperator = "anonymous"

type claimsKey struct{}

// WithClaims returns ctx carrying the verified ops token claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims Middleware stored on ctx.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// Operator identifies who asked for an operation, for logs and sweep
// history. Requests without a token subject are anonymous.
func Operator(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.Subject != "" {
		return claims.Subject
	}
	return AnonymousOperator
}
