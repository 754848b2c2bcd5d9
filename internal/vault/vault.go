// Package vault guards long-lived platform credentials. Tokens cross the
// persistence boundary encrypted and are decrypted only at the moment a
// caller must present one to the platform API.
package vault

import (
	"fmt"

	"github.com/awolfe89/sds-shopify/internal/crypto"
	"github.com/awolfe89/sds-shopify/internal/domain"
)

// Vault encrypts and decrypts access tokens with a process-wide key loaded
// once at startup.
type Vault struct {
	key []byte
}

// New constructs a Vault. The key must be exactly 32 bytes; config.Load has
// already refused to start production without a real one.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	owned := make([]byte, len(key))
	copy(owned, key)
	return &Vault{key: owned}, nil
}

// EncryptToken seals a plaintext access token for storage.
func (v *Vault) EncryptToken(token string) (string, error) {
	blob, err := crypto.EncryptSecret(token, v.key)
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	return blob, nil
}

// DecryptToken opens a stored blob. A failure here means data corruption or
// a key rotation mismatch; callers treat it as a storage error and the
// tenant must re-authorize.
func (v *Vault) DecryptToken(blob string) (string, error) {
	token, err := crypto.DecryptSecret(blob, v.key)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt token: %v", domain.ErrStorage, err)
	}
	return token, nil
}
