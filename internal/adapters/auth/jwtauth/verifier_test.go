package jwtauth

import (
	"context"
	"testing"
	"time"

	"medical-records-access/internal/ports/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)

	tok, err := v.Sign(auth.Claims{UserID: "P1", Email: "p1@mail.test", Role: auth.RolePatient}, time.Hour)
	require.NoError(t, err)

	c, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, auth.Claims{UserID: "P1", Email: "p1@mail.test", Role: auth.RolePatient}, c)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)
	other, err := NewVerifier("other")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := other.Sign(auth.Claims{UserID: "P1", Role: auth.RolePatient}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := v.Sign(auth.Claims{UserID: "P1", Role: auth.RolePatient}, time.Minute)
		require.NoError(t, err)

		v2, _ := NewVerifier("s3cret")
		v2.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err = v2.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		tok, err := v.Sign(auth.Claims{UserID: "P1", Role: "admin"}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "P1", "role": "patient"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ")
	require.ErrorIs(t, err, ErrNoSecret)
}
