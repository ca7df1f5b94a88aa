package gras

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	entityStatementContentType = "application/entity-statement+jwt;charset=UTF-8"
	signedJwksContentType      = "application/jwk-set+json;charset=UTF-8"
	entityListContentType      = "application/jwt;charset=UTF-8"
)

// EntityStatementEndpoint publishes this server's own entity statement.
func (s *Server) EntityStatementEndpoint(c echo.Context) error {
	now := time.Now()
	signed, err := s.signEntityStatement(now, now.Add(entityStatementTTL))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, entityStatementContentType, signed)
}

// ExpiredEntityStatementEndpoint returns an already expired entity statement
// so peers can exercise their expiry validation in interop tests.
func (s *Server) ExpiredEntityStatementEndpoint(c echo.Context) error {
	now := time.Now()
	signed, err := s.signEntityStatement(now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, entityStatementContentType, signed)
}

// InvalidSigEntityStatementEndpoint returns an entity statement with a
// tampered signature for interop tests.
func (s *Server) InvalidSigEntityStatementEndpoint(c echo.Context) error {
	now := time.Now()
	signed, err := s.signEntityStatement(now, now.Add(entityStatementTTL))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, entityStatementContentType, []byte(invalidateSignature(string(signed))))
}

// SignedJwksEndpoint publishes the token-signing and encryption public keys
// as a JWS-wrapped key set.
func (s *Server) SignedJwksEndpoint(c echo.Context) error {
	token, err := jwt.NewBuilder().
		Issuer(s.serverURL).
		IssuedAt(time.Now()).
		Claim("keys", []jwk.Key{s.tokenSigPuK, s.encPuK}).
		Build()
	if err != nil {
		return fmt.Errorf("unable to build signed jwks: %w", err)
	}

	signed, err := s.sign(token, "jwk-set+json")
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, signedJwksContentType, signed)
}

// EntityListEndpoint relays the federation master's signed IdP list.
func (s *Server) EntityListEndpoint(c echo.Context) error {
	list, err := s.entityList.Get()
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, entityListContentType, []byte(list))
}

func (s *Server) signEntityStatement(issuedAt, expiresAt time.Time) ([]byte, error) {
	jwks := jwk.NewSet()
	jwks.AddKey(s.esSigPuK)

	token, err := jwt.NewBuilder().
		Issuer(s.serverURL).
		Subject(s.serverURL).
		IssuedAt(issuedAt).
		Expiration(expiresAt).
		Claim("jwks", jwks).
		Claim("authority_hints", []string{s.federation.FederationMasterURL()}).
		Claim("metadata", s.metadataTemplate).
		Build()
	if err != nil {
		return nil, fmt.Errorf("unable to build entity statement: %w", err)
	}

	return s.sign(token, entityStatementTyp)
}

func (s *Server) sign(token jwt.Token, typ string) ([]byte, error) {
	headers := jws.NewHeaders()
	headers.Set(jws.KeyIDKey, s.esSigPrK.KeyID())
	headers.Set(jws.TypeKey, typ)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, s.esSigPrK, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return nil, fmt.Errorf("unable to sign %s: %w", typ, err)
	}
	return signed, nil
}

// invalidateSignature flips one character of the signature part, keeping the
// compact serialization well-formed.
func invalidateSignature(compact string) string {
	idx := strings.LastIndex(compact, ".")
	if idx < 0 || idx+1 >= len(compact) {
		return compact
	}
	sig := []byte(compact[idx+1:])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	return compact[:idx+1] + string(sig)
}
