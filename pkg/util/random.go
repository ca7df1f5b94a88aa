package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"math/big"
)

const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

func GenerateRandomString(n int) string {
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			panic("random number generation failed")
		}
		ret[i] = letters[num.Int64()]
	}
	return string(ret)
}

// RandomHex returns n random bytes, hex-encoded.
func RandomHex(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic("random number generation failed")
	}
	return hex.EncodeToString(buf)
}

// RandomBase64URL returns n random bytes, base64url-encoded without padding.
func RandomBase64URL(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic("random number generation failed")
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
