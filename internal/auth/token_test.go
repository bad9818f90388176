package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verihealth/medledger/internal/auth"
	"github.com/verihealth/medledger/internal/ledger"
)

const testIssuerURL = "http://ledger.test"

func TestTokenIssuer_roundTrip(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]byte("test-secret"), testIssuerURL, time.Minute)
	require.NoError(t, err)

	id := ledger.Identity("dr.chen@clinic.example")
	token, err := issuer.Issue(id, "provider")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	gotID, claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "provider", claims.Role)
	assert.Equal(t, testIssuerURL, claims.Issuer)
	assert.NotEmpty(t, claims.ID, "tokens carry a unique jti")
}

func TestTokenIssuer_emptySecret(t *testing.T) {
	_, err := auth.NewTokenIssuer(nil, testIssuerURL, 0)
	assert.Error(t, err)
}

func TestTokenIssuer_rejectsWrongSecret(t *testing.T) {
	a, err := auth.NewTokenIssuer([]byte("secret-a"), testIssuerURL, time.Minute)
	require.NoError(t, err)
	b, err := auth.NewTokenIssuer([]byte("secret-b"), testIssuerURL, time.Minute)
	require.NoError(t, err)

	token, err := a.Issue("owner@clinic.example", "owner")
	require.NoError(t, err)

	_, _, err = b.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_rejectsWrongIssuer(t *testing.T) {
	a, err := auth.NewTokenIssuer([]byte("shared"), "http://other.test", time.Minute)
	require.NoError(t, err)
	b, err := auth.NewTokenIssuer([]byte("shared"), testIssuerURL, time.Minute)
	require.NoError(t, err)

	token, err := a.Issue("owner@clinic.example", "owner")
	require.NoError(t, err)

	_, _, err = b.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_rejectsExpired(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]byte("test-secret"), testIssuerURL, -time.Minute)
	require.NoError(t, err)

	token, err := issuer.Issue("owner@clinic.example", "owner")
	require.NoError(t, err)

	_, _, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_rejectsGarbage(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]byte("test-secret"), testIssuerURL, time.Minute)
	require.NoError(t, err)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, _, err := issuer.Verify(tok)
		assert.Error(t, err, "token %q", tok)
	}
}
