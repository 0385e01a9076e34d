package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
)

// Reader is the entropy source for every secret, code and key the server mints.
var Reader io.Reader = rand.Reader

// GenerateRandomString generates length random bytes, encoded to unpadded base64url.
func GenerateRandomString(length int) (string, error) {
	bytes, err := GenerateRandomBytes(length)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateRandomBytes returns length bytes read from Reader.
func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(Reader, bytes); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return bytes, nil
}

// HashToken creates a SHA-256 hash of a secret for storage and lookup.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// EqualHash compares a plaintext secret against a stored hash in constant time.
func EqualHash(secret, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(secret)), []byte(hash)) == 1
}
