package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestOperator(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   string
	}{
		{"no claims", nil, AnonymousOperator},
		{"empty subject", &Claims{Scopes: []string{ScopeRead}}, AnonymousOperator},
		{"subject", &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops-oncall"}}, "ops-oncall"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithClaims(context.Background(), tt.claims)
			if got := Operator(ctx); got != tt.want {
				t.Errorf("Operator() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithClaimsIgnoresNil(t *testing.T) {
	ctx := WithClaims(context.Background(), nil)
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Fatal("nil claims reported as present")
	}
}
