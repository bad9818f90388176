package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/verihealth/medledger/internal/ledger"
)

// APIKeyConfig is one configured machine credential: the encryption layer,
// a dashboard sync job, or another trusted collaborator. Only the bcrypt
// hash of the secret is ever configured or stored.
type APIKeyConfig struct {
	KeyID      string `mapstructure:"key_id"      yaml:"key_id"`
	Identity   string `mapstructure:"identity"    yaml:"identity"`
	SecretHash string `mapstructure:"secret_hash" yaml:"secret_hash"`
}

// Keyring verifies presented API keys of the form "<keyID>.<secret>".
type Keyring struct {
	keys map[string]APIKeyConfig
}

// NewKeyring builds a Keyring from configuration. Entries without a key id,
// identity, or secret hash are rejected.
func NewKeyring(cfgs []APIKeyConfig) (*Keyring, error) {
	keys := make(map[string]APIKeyConfig, len(cfgs))
	for _, c := range cfgs {
		if c.KeyID == "" || c.Identity == "" || c.SecretHash == "" {
			return nil, fmt.Errorf("api key entry %q is incomplete", c.KeyID)
		}
		if _, dup := keys[c.KeyID]; dup {
			return nil, fmt.Errorf("duplicate api key id %q", c.KeyID)
		}
		keys[c.KeyID] = c
	}
	return &Keyring{keys: keys}, nil
}

// Len returns the number of configured keys.
func (k *Keyring) Len() int { return len(k.keys) }

// Verify checks a presented key and returns the identity it authenticates.
func (k *Keyring) Verify(presented string) (ledger.Identity, error) {
	keyID, secret, ok := strings.Cut(presented, ".")
	if !ok {
		return ledger.NoIdentity, fmt.Errorf("malformed api key")
	}
	cfg, ok := k.keys[keyID]
	if !ok {
		return ledger.NoIdentity, fmt.Errorf("unknown api key id")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.SecretHash), []byte(secret)); err != nil {
		return ledger.NoIdentity, fmt.Errorf("api key secret mismatch")
	}
	return ledger.Identity(cfg.Identity), nil
}

// GenerateAPIKey mints a fresh credential for the given identity. It returns
// the full presentable key (shown once, never stored) and the config entry
// holding its bcrypt hash.
func GenerateAPIKey(identity ledger.Identity) (string, APIKeyConfig, error) {
	keyID, err := randomHex(4)
	if err != nil {
		return "", APIKeyConfig{}, fmt.Errorf("generate key id: %w", err)
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", APIKeyConfig{}, fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", APIKeyConfig{}, fmt.Errorf("hash secret: %w", err)
	}

	cfg := APIKeyConfig{
		KeyID:      keyID,
		Identity:   identity.String(),
		SecretHash: string(hash),
	}
	return keyID + "." + secret, cfg, nil
}

// randomHex returns a hex string of n random bytes.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
