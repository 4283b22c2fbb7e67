package rbac

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, userID int64, storeID *int64, ttl time.Duration) string {
	t.Helper()
	claims := &Claims{
		StoreID: storeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    "odyssey-auth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func cashierSource(t *testing.T, key *rsa.PrivateKey) *JWTSource {
	t.Helper()
	store := newMemoryStore()
	store.addRole(3, "cashier", LevelStore, "shift.open")
	_, err := store.CreateAssignment(context.Background(), AssignmentDraft{UserID: 7, RoleID: 3, StoreID: ptr(int64(3))})
	require.NoError(t, err)
	return NewJWTSource(&key.PublicKey, "odyssey-auth", store)
}

func TestJWTSourceBuildsPrincipal(t *testing.T) {
	key := newSigningKey(t)
	src := cashierSource(t, key)

	p, err := src.Authenticate(context.Background(), signToken(t, key, 7, ptr(int64(3)), time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(7), p.ID)
	require.NotNil(t, p.StoreID)
	assert.Equal(t, int64(3), *p.StoreID)
	require.Len(t, p.Assignments, 1)
	assert.Equal(t, "cashier", p.Assignments[0].RoleCode)
}

func TestJWTSourceRejectsBadTokens(t *testing.T) {
	key := newSigningKey(t)
	other := newSigningKey(t)
	src := cashierSource(t, key)

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-token",
		"expired":      signToken(t, key, 7, ptr(int64(3)), -time.Minute),
		"wrong key":    signToken(t, other, 7, ptr(int64(3)), time.Hour),
		"no tenant":    signToken(t, key, 7, nil, time.Hour),
		"hmac signing": hmacToken(t),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := src.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, shared.ErrUnauthenticated)
		})
	}
}

func hmacToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestLoadRSAPublicKey(t *testing.T) {
	key := newSigningKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwt.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	loaded, err := LoadRSAPublicKey(path)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(loaded))

	_, err = LoadRSAPublicKey(filepath.Join(t.TempDir(), "missing.pub"))
	assert.Error(t, err)
}
