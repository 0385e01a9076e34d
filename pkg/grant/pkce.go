package grant

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// GenerateCodeChallenge derives the challenge for verifier under method.
func GenerateCodeChallenge(verifier, method string) string {
	if method == PKCEMethodS256 {
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:])
	}
	return verifier
}

func supportedChallengeMethod(method string) bool {
	return method == PKCEMethodPlain || method == PKCEMethodS256
}

// verifyCodeChallenge reports whether verifier matches the stored challenge.
func verifyCodeChallenge(challenge, method, verifier string) bool {
	computed := GenerateCodeChallenge(verifier, method)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
