package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verihealth/medledger/internal/auth"
	"github.com/verihealth/medledger/internal/ledger"
)

func TestGenerateAPIKey_roundTrip(t *testing.T) {
	id := ledger.Identity("sync-job@clinic.example")
	presented, cfg, err := auth.GenerateAPIKey(id)
	require.NoError(t, err)

	assert.Equal(t, id.String(), cfg.Identity)
	assert.True(t, strings.HasPrefix(presented, cfg.KeyID+"."))
	assert.NotContains(t, cfg.SecretHash, strings.TrimPrefix(presented, cfg.KeyID+"."),
		"config must hold a hash, not the secret")

	ring, err := auth.NewKeyring([]auth.APIKeyConfig{cfg})
	require.NoError(t, err)
	assert.Equal(t, 1, ring.Len())

	gotID, err := ring.Verify(presented)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
}

func TestKeyring_rejectsBadKeys(t *testing.T) {
	presented, cfg, err := auth.GenerateAPIKey("sync-job@clinic.example")
	require.NoError(t, err)
	ring, err := auth.NewKeyring([]auth.APIKeyConfig{cfg})
	require.NoError(t, err)

	cases := map[string]string{
		"no separator": "justonetoken",
		"unknown id":   "ffffffff.whatever",
		"wrong secret": cfg.KeyID + ".wrong-secret",
		"empty":        "",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ring.Verify(key)
			assert.Error(t, err)
		})
	}

	// Sanity: the real key still works.
	_, err = ring.Verify(presented)
	assert.NoError(t, err)
}

func TestNewKeyring_validation(t *testing.T) {
	_, err := auth.NewKeyring([]auth.APIKeyConfig{{KeyID: "abc"}})
	assert.Error(t, err, "incomplete entries are rejected")

	_, cfg, err := auth.GenerateAPIKey("a@example.org")
	require.NoError(t, err)
	_, err = auth.NewKeyring([]auth.APIKeyConfig{cfg, cfg})
	assert.Error(t, err, "duplicate key ids are rejected")

	ring, err := auth.NewKeyring(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ring.Len())
}
