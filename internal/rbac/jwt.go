package rbac

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Claims are the access token claims. Subject carries the numeric user id.
type Claims struct {
	ChainID *int64 `json:"chain_id,omitempty"`
	StoreID *int64 `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}

// AssignmentLister loads the assignments of a user.
type AssignmentLister interface {
	ListAssignments(ctx context.Context, userID int64) ([]Assignment, error)
}

// LoadRSAPublicKey reads a PEM encoded RSA public key.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

// JWTSource turns RS256 access tokens into principals. Tokens carry identity and tenant
// affiliation only; assignments are loaded on every request so revocations apply
// without waiting for token expiry.
type JWTSource struct {
	key         *rsa.PublicKey
	issuer      string
	assignments AssignmentLister
	now         func() time.Time
}

// NewJWTSource constructs a JWTSource. An empty issuer disables the issuer check.
func NewJWTSource(key *rsa.PublicKey, issuer string, assignments AssignmentLister) *JWTSource {
	return &JWTSource{key: key, issuer: issuer, assignments: assignments, now: time.Now}
}

// Authenticate verifies token and builds the principal it names.
func (s *JWTSource) Authenticate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, shared.Unauthenticated("missing_token", "missing bearer token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, shared.Unauthenticated("token_expired", "token expired")
		}
		return Principal{}, shared.Unauthenticated("invalid_token", "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, shared.Unauthenticated("invalid_claims", "invalid claims")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Principal{}, shared.Unauthenticated("invalid_subject", "invalid token subject")
	}

	assignments, err := s.assignments.ListAssignments(ctx, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("rbac: load assignments: %w", err)
	}
	p := Principal{
		ID:          userID,
		ChainID:     claims.ChainID,
		StoreID:     claims.StoreID,
		Assignments: assignments,
	}
	if err := p.Validate(s.now()); err != nil {
		return Principal{}, shared.Unauthenticated("invalid_principal", err.Error())
	}
	return p, nil
}
