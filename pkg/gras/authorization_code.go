package gras

import (
	"fmt"
	"time"

	"github.com/gematik/gras-server/pkg/oidf"
	"github.com/gematik/gras-server/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// AuthorizationCodeBuilder maps a verified identity token from a sectoral IdP
// plus the originating session into the authorization code handed back to the
// frontend: a signed JWT wrapped into a JWE with the pre-shared symmetric
// key.
type AuthorizationCodeBuilder struct {
	signingKey    jwk.Key
	encryptionKey []byte
	issuerURL     string
}

func NewAuthorizationCodeBuilder(signingKey jwk.Key, encryptionKey []byte, issuerURL string) *AuthorizationCodeBuilder {
	return &AuthorizationCodeBuilder{
		signingKey:    signingKey,
		encryptionKey: encryptionKey,
		issuerURL:     issuerURL,
	}
}

// Build is a pure mapping; it does not store the code anywhere.
func (b *AuthorizationCodeBuilder) Build(idToken jwt.Token, issuedAt time.Time, session *AuthSession) (string, error) {
	identity := idToken.PrivateClaims()

	builder := jwt.NewBuilder().
		Issuer(b.issuerURL).
		JwtID(util.RandomHex(jtiEntropy)).
		IssuedAt(issuedAt).
		Expiration(issuedAt.Add(authorizationCodeTTL))

	for target, source := range map[string]string{
		"display_name":      "telematik_display_name",
		"id_number":         "telematik_id",
		"profession_oid":    "telematik_profession",
		"organization_name": "telematik_organization",
	} {
		value, ok := identity[source]
		if !ok {
			return "", &oidf.MissingClaimError{Claim: source}
		}
		builder.Claim(target, value)
	}

	// fixed policy, not derived from input
	builder.Claim("given_name", "")
	builder.Claim("family_name", "")

	builder.Claim("client_id", session.ClientID)
	builder.Claim("redirect_uri", session.RedirectURI)
	builder.Claim("code_challenge", session.CodeChallenge)
	builder.Claim("code_challenge_method", session.CodeChallengeMethod)
	builder.Claim("response_type", session.ResponseType)
	builder.Claim("scope", session.Scope)
	builder.Claim("state", session.State)
	if session.Nonce != "" {
		builder.Claim("nonce", session.Nonce)
	}

	builder.Claim("token_type", "code")
	builder.Claim("auth_time", issuedAt.Unix())
	builder.Claim("snc", util.RandomBase64URL(24))
	builder.Claim("amr", []string{"mfa"})

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("unable to build authorization code: %w", err)
	}

	headers := jws.NewHeaders()
	headers.Set(jws.TypeKey, "JWT")

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, b.signingKey, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("unable to sign authorization code: %w", err)
	}

	encHeaders := jwe.NewHeaders()
	encHeaders.Set(jwe.ContentTypeKey, "NJWT")

	encrypted, err := jwe.Encrypt(signed,
		jwe.WithKey(jwa.DIRECT, b.encryptionKey),
		jwe.WithContentEncryption(jwa.A256GCM),
		jwe.WithProtectedHeaders(encHeaders),
	)
	if err != nil {
		return "", fmt.Errorf("unable to encrypt authorization code: %w", err)
	}

	return string(encrypted), nil
}
