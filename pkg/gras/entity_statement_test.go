package gras

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gematik/gras-server/pkg/oidf"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) invokeGET(t *testing.T, path string, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	require.NoError(t, handler(c))
	return rec
}

func TestEntityStatementEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.invokeGET(t, oidf.WellKnownPath, env.server.EntityStatementEndpoint)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entityStatementContentType, rec.Header().Get("Content-Type"))

	token, err := jwt.Parse(rec.Body.Bytes(),
		jwt.WithKeySet(publicKeySet(t, env.server.esSigPrK), jws.WithInferAlgorithmFromKey(true)))
	require.NoError(t, err)

	assert.Equal(t, testServerURL, token.Issuer())
	assert.Equal(t, testServerURL, token.Subject())
	assert.Equal(t, []any{env.master.URL}, mustClaim(t, token, "authority_hints"))
	assert.WithinDuration(t, time.Now().Add(entityStatementTTL), token.Expiration(), time.Minute)

	headers, err := jwsProtectedHeaders(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, entityStatementTyp, headers.Type())
	assert.Equal(t, "puk_fd_sig", headers.KeyID())

	// the jwks claim holds the entity statement signing key
	jwksClaim := mustClaim(t, token, "jwks").(map[string]any)
	keys := jwksClaim["keys"].([]any)
	require.Len(t, keys, 1)
	assert.Equal(t, "puk_fd_sig", keys[0].(map[string]any)["kid"])

	_, ok := token.Get("metadata")
	assert.True(t, ok, "metadata must be published")
}

func TestExpiredEntityStatementEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.invokeGET(t, ExpiredEntityStatementPath, env.server.ExpiredEntityStatementEndpoint)

	require.Equal(t, http.StatusOK, rec.Code)

	// signature is valid, expiry is not
	_, err := jws.Verify(rec.Body.Bytes(), jws.WithKeySet(publicKeySet(t, env.server.esSigPrK), jws.WithInferAlgorithmFromKey(true)))
	require.NoError(t, err)

	token, err := jwt.ParseInsecure(rec.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, token.Expiration().Before(time.Now()))
}

func TestInvalidSigEntityStatementEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.invokeGET(t, InvalidSigEntityStatementPath, env.server.InvalidSigEntityStatementEndpoint)

	require.Equal(t, http.StatusOK, rec.Code)

	// claims are intact, the signature is not
	token, err := jwt.ParseInsecure(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, testServerURL, token.Issuer())

	_, err = jws.Verify(rec.Body.Bytes(), jws.WithKeySet(publicKeySet(t, env.server.esSigPrK), jws.WithInferAlgorithmFromKey(true)))
	require.Error(t, err)
}

func TestSignedJwksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.invokeGET(t, SignedJwksPath, env.server.SignedJwksEndpoint)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, signedJwksContentType, rec.Header().Get("Content-Type"))

	token, err := jwt.Parse(rec.Body.Bytes(),
		jwt.WithKeySet(publicKeySet(t, env.server.esSigPrK), jws.WithInferAlgorithmFromKey(true)))
	require.NoError(t, err)
	assert.Equal(t, testServerURL, token.Issuer())

	keys := mustClaim(t, token, "keys").([]any)
	require.Len(t, keys, 2)
	kids := map[string]bool{}
	for _, raw := range keys {
		kids[raw.(map[string]any)["kid"].(string)] = true
	}
	assert.True(t, kids["puk_fd_token_sig"], "token signing key must be published")
	assert.True(t, kids["puk_fd_enc"], "encryption key must be published")
}

func TestEntityListEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		rec := env.invokeGET(t, IdpListPath, env.server.EntityListEndpoint)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, entityListContentType, rec.Header().Get("Content-Type"))
		// relayed verbatim, master signature intact
		assert.Equal(t, string(env.entityListJWS), rec.Body.String())
	}

	assert.Equal(t, 1, env.listHits, "list must be served from cache until expiry")
}

func TestInvalidateSignature(t *testing.T) {
	original := "eyJhbGciOiJFUzI1NiJ9.eyJpc3MiOiJ4In0.AAAA"
	mangled := invalidateSignature(original)
	assert.NotEqual(t, original, mangled)
	assert.Equal(t, original[:len(original)-4], mangled[:len(mangled)-4])
}

func mustClaim(t *testing.T, token jwt.Token, name string) any {
	t.Helper()
	value, ok := token.Get(name)
	require.True(t, ok, "claim %s missing", name)
	return value
}
