package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carebook/clinic-ledger/pkg/types"
)

// Role names carried in token claims
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// ActorClaims identifies the authenticated caller
type ActorClaims struct {
	Subject string
	Role    string
}

type contextKey string

const actorContextKey contextKey = "actor"

// ActorFromContext returns the authenticated caller, if any
func ActorFromContext(ctx context.Context) (*ActorClaims, bool) {
	actor, ok := ctx.Value(actorContextKey).(*ActorClaims)
	return actor, ok
}

// JWTClaims represents JWT token claims
type JWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator implements JWT token validation
type TokenValidator struct {
	jwtSecret []byte
	issuer    string
}

// NewTokenValidator creates a new token validator
func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{
		jwtSecret: []byte(secret),
		issuer:    issuer,
	}
}

// ValidateJWT validates a JWT token and returns the caller's claims
func (tv *TokenValidator) ValidateJWT(tokenString string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token carries no subject")
	}
	if claims.Role != RoleDoctor && claims.Role != RolePatient {
		return nil, fmt.Errorf("token carries unknown role %q", claims.Role)
	}

	return &ActorClaims{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}

// GenerateToken signs a token for the given actor, valid for 24 hours
func (tv *TokenValidator) GenerateToken(subject, role string) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tv.issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tv.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate extracts and validates the bearer token, storing the caller's
// claims on the request context
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeErrorResponse(w, http.StatusUnauthorized, "Authorization header missing",
				types.NewValidationError(types.ErrCodeInvalidInput, "bearer token required", nil))
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.writeErrorResponse(w, http.StatusUnauthorized, "Invalid authorization header",
				types.NewValidationError(types.ErrCodeInvalidInput, "expected Bearer scheme", nil))
			return
		}

		actor, err := s.tokens.ValidateJWT(tokenString)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected request with invalid token")
			s.writeErrorResponse(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole rejects callers whose token carries the wrong role
func (s *Server) requireRole(role string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			s.writeErrorResponse(w, http.StatusUnauthorized, "Not authenticated", nil)
			return
		}
		if actor.Role != role {
			s.writeErrorResponse(w, http.StatusForbidden,
				fmt.Sprintf("This operation requires the %s role", role), nil)
			return
		}
		handler(w, r)
	}
}
