// Package crypto holds the stateless primitives of the authorization flow:
// PKCE verifier/challenge generation, HMAC verification of platform
// callbacks, and authenticated encryption for credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const verifierBytes = 64

// GenerateVerifier returns a fresh URL-safe PKCE code verifier with 512 bits
// of entropy (86 base64url characters, within the 43..128 range of RFC 7636).
func GenerateVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DeriveChallenge computes the S256 code challenge for a verifier:
// base64url(sha256(verifier)) without padding. Deterministic.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateStateNonce returns a random state value for CSRF protection.
func GenerateStateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerifyHMAC checks that providedHMAC is the hex-encoded HMAC-SHA256 of the
// canonical query string built from params (sorted keys, key=value pairs
// joined with &, hmac field already removed by the caller). It never panics;
// absent or malformed hex, or any length mismatch, yields false.
func VerifyHMAC(params url.Values, providedHMAC, secret string) bool {
	if providedHMAC == "" {
		return false
	}
	provided, err := hex.DecodeString(providedHMAC)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalQuery(params)))
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(provided, expected) == 1
}

// CanonicalQuery builds the signing string for a callback query: keys sorted
// lexicographically, first value per key, joined as key=value with &.
func CanonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params.Get(key))
	}
	return strings.Join(pairs, "&")
}

// EncryptSecret encrypts plaintext with AES-256-GCM under a 32-byte key.
// The blob is hex(nonce):hex(ciphertext||tag), so decryption needs nothing
// beyond the key.
func EncryptSecret(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptSecret reverses EncryptSecret. It fails closed: a malformed blob or
// authentication tag mismatch returns an error, never partial plaintext.
func DecryptSecret(blob string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceHex, sealedHex, ok := strings.Cut(blob, ":")
	if !ok {
		return "", fmt.Errorf("decrypt secret: malformed blob")
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("decrypt secret: malformed nonce")
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: malformed ciphertext")
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
