package oidf

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gematik/gras-server/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type fedEnv struct {
	master *httptest.Server
	idp    *httptest.Server

	masterKey jwk.Key
	idpKey    jwk.Key

	trustAnchor jwk.Set

	masterWellKnownHits int
	fetchHits           int
	idpWellKnownHits    int
	jwksHits            int

	// when set, the IdP serves its statement signed with this key instead
	idpRogueKey jwk.Key
}

func newSigningKey(t *testing.T, kid string) jwk.Key {
	t.Helper()
	key, err := util.RandomSigningJWK(kid)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func publicSet(t *testing.T, keys ...jwk.Key) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, key := range keys {
		pub, err := key.PublicKey()
		if err != nil {
			t.Fatal(err)
		}
		set.AddKey(pub)
	}
	return set
}

func signStatement(t *testing.T, key jwk.Key, builder *jwt.Builder) []byte {
	t.Helper()
	token, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, key))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func newFedEnv(t *testing.T) *fedEnv {
	t.Helper()
	env := &fedEnv{
		masterKey: newSigningKey(t, "puk_fedmaster_sig"),
		idpKey:    newSigningKey(t, "puk_idp_sig"),
	}
	env.trustAnchor = publicSet(t, env.masterKey)

	masterMux := http.NewServeMux()
	masterMux.HandleFunc(WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		env.masterWellKnownHits++
		now := time.Now()
		w.Write(signStatement(t, env.masterKey, jwt.NewBuilder().
			Issuer(env.master.URL).
			Subject(env.master.URL).
			IssuedAt(now).
			Expiration(now.Add(time.Hour)).
			Claim("metadata", map[string]any{
				"federation_entity": map[string]any{
					"federation_fetch_endpoint": env.master.URL + "/federation/fetch",
				},
			})))
	})
	masterMux.HandleFunc("/federation/fetch", func(w http.ResponseWriter, r *http.Request) {
		env.fetchHits++
		if r.URL.Query().Get("sub") != env.idp.URL {
			http.Error(w, "unknown subject", http.StatusNotFound)
			return
		}
		now := time.Now()
		w.Write(signStatement(t, env.masterKey, jwt.NewBuilder().
			Issuer(env.master.URL).
			Subject(env.idp.URL).
			IssuedAt(now).
			Expiration(now.Add(time.Hour)).
			Claim("jwks", publicSet(t, env.idpKey))))
	})
	env.master = httptest.NewServer(masterMux)
	t.Cleanup(env.master.Close)

	idpMux := http.NewServeMux()
	idpMux.HandleFunc(WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		env.idpWellKnownHits++
		signingKey := env.idpKey
		if env.idpRogueKey != nil {
			signingKey = env.idpRogueKey
		}
		now := time.Now()
		w.Write(signStatement(t, signingKey, jwt.NewBuilder().
			Issuer(env.idp.URL).
			Subject(env.idp.URL).
			IssuedAt(now).
			Expiration(now.Add(time.Hour)).
			Claim("metadata", map[string]any{
				"openid_provider": map[string]any{
					"issuer":                                env.idp.URL,
					"authorization_endpoint":                env.idp.URL + "/auth",
					"pushed_authorization_request_endpoint": env.idp.URL + "/par",
					"token_endpoint":                        env.idp.URL + "/token",
					"signed_jwks_uri":                       env.idp.URL + "/jwks",
				},
			})))
	})
	idpMux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		env.jwksHits++
		pub, err := env.idpKey.PublicKey()
		if err != nil {
			t.Error(err)
			return
		}
		w.Write(signStatement(t, env.idpKey, jwt.NewBuilder().
			Issuer(env.idp.URL).
			IssuedAt(time.Now()).
			Claim("keys", []jwk.Key{pub})))
	})
	env.idp = httptest.NewServer(idpMux)
	t.Cleanup(env.idp.Close)

	return env
}

func TestStatementFromIdp(t *testing.T) {
	env := newFedEnv(t)
	f := NewFederation(env.master.URL, env.trustAnchor)

	es, err := f.StatementFromIdp(env.idp.URL)
	if err != nil {
		t.Fatal(err)
	}
	if es.Issuer != env.idp.URL {
		t.Errorf("unexpected issuer: %s", es.Issuer)
	}

	authEndpoint, err := es.AuthorizationEndpoint()
	if err != nil {
		t.Fatal(err)
	}
	if authEndpoint != env.idp.URL+"/auth" {
		t.Errorf("unexpected authorization endpoint: %s", authEndpoint)
	}
	parEndpoint, err := es.PushedAuthorizationRequestEndpoint()
	if err != nil {
		t.Fatal(err)
	}
	if parEndpoint != env.idp.URL+"/par" {
		t.Errorf("unexpected PAR endpoint: %s", parEndpoint)
	}
	tokenEndpoint, err := es.TokenEndpoint()
	if err != nil {
		t.Fatal(err)
	}
	if tokenEndpoint != env.idp.URL+"/token" {
		t.Errorf("unexpected token endpoint: %s", tokenEndpoint)
	}
}

func TestStatementCaching(t *testing.T) {
	env := newFedEnv(t)
	f := NewFederation(env.master.URL, env.trustAnchor)

	for i := 0; i < 3; i++ {
		if _, err := f.StatementFromIdp(env.idp.URL); err != nil {
			t.Fatal(err)
		}
	}

	if env.idpWellKnownHits != 1 {
		t.Errorf("expected 1 IdP fetch, got %d", env.idpWellKnownHits)
	}
	if env.fetchHits != 1 {
		t.Errorf("expected 1 fedmaster fetch, got %d", env.fetchHits)
	}
	if env.masterWellKnownHits != 1 {
		t.Errorf("expected 1 fetch endpoint discovery, got %d", env.masterWellKnownHits)
	}

	// dropping the cache forces a refetch, the fetch endpoint stays memoized
	f.ClearStatements()
	if _, err := f.StatementFromIdp(env.idp.URL); err != nil {
		t.Fatal(err)
	}
	if env.idpWellKnownHits != 2 {
		t.Errorf("expected refetch of IdP statement, got %d hits", env.idpWellKnownHits)
	}
	if env.masterWellKnownHits != 1 {
		t.Errorf("fetch endpoint should be discovered once, got %d hits", env.masterWellKnownHits)
	}
}

func TestExpiredStatementRefetched(t *testing.T) {
	env := newFedEnv(t)
	f := NewFederation(env.master.URL, env.trustAnchor)

	es, err := f.StatementFromIdp(env.idp.URL)
	if err != nil {
		t.Fatal(err)
	}
	if env.idpWellKnownHits != 1 {
		t.Fatalf("expected 1 IdP fetch, got %d", env.idpWellKnownHits)
	}

	// shrink the cached entry's lifetime so it expires immediately
	f.statementsByIdp.Set(env.idp.URL, es, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := f.StatementFromIdp(env.idp.URL); err != nil {
		t.Fatal(err)
	}
	if env.idpWellKnownHits != 2 {
		t.Errorf("expected refetch after expiry, got %d hits", env.idpWellKnownHits)
	}

	// the refetched statement is cached again with its own lifetime
	if _, err := f.StatementFromIdp(env.idp.URL); err != nil {
		t.Fatal(err)
	}
	if env.idpWellKnownHits != 2 {
		t.Errorf("expected exactly one fetch per expiry event, got %d hits", env.idpWellKnownHits)
	}
}

func TestTamperedSignatureNotCached(t *testing.T) {
	env := newFedEnv(t)
	env.idpRogueKey = newSigningKey(t, "puk_idp_sig")
	f := NewFederation(env.master.URL, env.trustAnchor)

	for i := 0; i < 2; i++ {
		_, err := f.StatementFromIdp(env.idp.URL)
		if err == nil {
			t.Fatal("expected trust error")
		}
		var trustErr *TrustError
		if !errors.As(err, &trustErr) {
			t.Fatalf("expected TrustError, got %T: %v", err, err)
		}
	}

	// failures must not populate the cache
	if env.idpWellKnownHits != 2 {
		t.Errorf("expected 2 IdP fetch attempts, got %d", env.idpWellKnownHits)
	}
}

func TestSignedJwksNeverCached(t *testing.T) {
	env := newFedEnv(t)
	f := NewFederation(env.master.URL, env.trustAnchor)

	for i := 0; i < 2; i++ {
		jwks, err := f.SignedJwksForIdp(env.idp.URL)
		if err != nil {
			t.Fatal(err)
		}
		if jwks.Len() != 1 {
			t.Errorf("expected 1 key, got %d", jwks.Len())
		}
	}

	if env.jwksHits != 2 {
		t.Errorf("expected signed jwks to be fetched per call, got %d hits", env.jwksHits)
	}
	if env.idpWellKnownHits != 1 {
		t.Errorf("expected entity statement to stay cached, got %d hits", env.idpWellKnownHits)
	}
}

func TestUpstreamErrorOnBadStatus(t *testing.T) {
	env := newFedEnv(t)
	f := NewFederation(env.master.URL, env.trustAnchor)

	_, err := f.StatementFromIdp(env.idp.URL + "-unknown")
	if err == nil {
		t.Fatal("expected error for unknown subject")
	}
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
}
