package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// small trick to make jwk.Set JSON-serializable
type Jwks struct {
	Keys jwk.Set
}

func (j *Jwks) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Keys)
}

func (j *Jwks) UnmarshalJSON(data []byte) error {
	keys, err := jwk.Parse(data)
	if err != nil {
		return err
	}
	j.Keys = keys
	return nil
}

func RandomJWK() (jwk.Key, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}
	jwkKey, err := jwk.FromRaw(privateKey)
	if err != nil {
		return nil, fmt.Errorf("could not create jwk from key: %w", err)
	}
	return jwkKey, nil
}

// RandomSigningJWK generates an ES256 key with kid, use and alg set, ready
// to be published in a JWKS.
func RandomSigningJWK(kid string) (jwk.Key, error) {
	key, err := RandomJWK()
	if err != nil {
		return nil, err
	}
	key.Set(jwk.KeyIDKey, kid)
	key.Set(jwk.KeyUsageKey, jwk.ForSignature)
	key.Set(jwk.AlgorithmKey, jwa.ES256)
	return key, nil
}
