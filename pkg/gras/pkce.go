package gras

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/gematik/gras-server/pkg/util"
)

func generateCodeVerifier() string {
	return util.GenerateRandomString(128)
}

func s256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
