package gras

import (
	"fmt"
	"time"

	"github.com/gematik/gras-server/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// buildClientAssertion signs a short-lived JWT authenticating this server
// against the IdP's token endpoint.
func buildClientAssertion(signingKey jwk.Key, serverURL, audience string) (string, error) {
	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer(serverURL).
		Subject(serverURL).
		Audience([]string{audience}).
		JwtID(util.RandomHex(jtiEntropy)).
		IssuedAt(now).
		Expiration(now.Add(clientAssertionTTL)).
		Build()
	if err != nil {
		return "", fmt.Errorf("unable to build client assertion: %w", err)
	}

	headers := jws.NewHeaders()
	headers.Set(jws.TypeKey, "JWT")

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, signingKey, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("unable to sign client assertion: %w", err)
	}

	return string(signed), nil
}
