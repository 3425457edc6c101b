// Package auth validates externally issued bearer tokens into an Actor.
// This core re-validates identity claims on every request; it never issues
// sessions or tokens.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "smartattend/pkg/domain"
	"smartattend/pkg/requestcontext"
)

// ActorClaims are the claims this core requires from the identity service.
type ActorClaims struct {
	Role        string   `json:"role"`
	TenantID    string   `json:"tenant_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Validator verifies identity-service tokens with a shared HMAC key.
type Validator struct {
	signingKey []byte
}

// NewValidator constructs a token validator.
func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies a token, returning the asserted actor.
// Unknown roles fail validation: an unrecognized role claim must never pass
// through and gain authority downstream.
func (v *Validator) ValidateToken(tokenString string) (id.Actor, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return id.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return id.Actor{}, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return id.Actor{}, fmt.Errorf("token missing subject")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return id.Actor{}, fmt.Errorf("token role: %w", err)
	}
	return id.Actor{
		ID:          id.UserID(claims.Subject),
		Role:        role,
		TenantID:    id.TenantID(claims.TenantID),
		Permissions: claims.Permissions,
	}, nil
}

// RequireActor rejects requests without a valid bearer token and injects the
// validated Actor into the request context for services to consume.
func RequireActor(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			actor, err := validator.ValidateToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := requestcontext.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeJSONError writes a JSON error response with the given status code.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}
