package oidf

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gematik/gras-server/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	gocache "github.com/patrickmn/go-cache"
)

// WellKnownPath is the relative path of an entity's own entity statement.
const WellKnownPath = "/.well-known/openid-federation"

const clockTolerance = 90 * time.Second

// Federation resolves and verifies trust material of a fixed two-hop chain:
// the federation master vouches for a sectoral IdP, the IdP vouches for
// itself. Verified statements are cached until their exp claim; expired
// entries are refetched, never served stale.
type Federation struct {
	masterURL   string
	trustAnchor jwk.Set
	httpClient  *http.Client

	// statements self-issued by IdPs, keyed by issuer
	statementsByIdp *gocache.Cache
	// statements about IdPs issued by the master, keyed by subject
	statementsAboutIdp *gocache.Cache

	idpMu   sync.Mutex
	aboutMu sync.Mutex

	// the master's fetch endpoint, discovered once
	epMu          sync.Mutex
	fetchEndpoint string
}

// NewFederation creates a resolver anchored on the fixed federation-master
// public key set. No network calls happen before the first lookup.
func NewFederation(masterURL string, trustAnchor jwk.Set) *Federation {
	return &Federation{
		masterURL:   masterURL,
		trustAnchor: trustAnchor,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: util.AddUserAgentTransport(nil, "gras-server"),
		},
		statementsByIdp:    gocache.New(gocache.NoExpiration, 5*time.Minute),
		statementsAboutIdp: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func clockWithTolerance(tolerance time.Duration) jwt.ClockFunc {
	return func() time.Time {
		return time.Now().Add(tolerance)
	}
}

// StatementFromIdp returns the IdP's self-issued entity statement, fetching
// and verifying it against the master-attested signing key on miss or expiry.
func (f *Federation) StatementFromIdp(issuer string) (*EntityStatement, error) {
	f.idpMu.Lock()
	defer f.idpMu.Unlock()

	if cached, ok := f.statementsByIdp.Get(issuer); ok {
		return cached.(*EntityStatement), nil
	}

	about, err := f.StatementAboutIdp(issuer)
	if err != nil {
		return nil, err
	}
	if about.Jwks == nil || about.Jwks.Keys == nil {
		return nil, &TrustError{Entity: issuer, Err: &MissingClaimError{Claim: "jwks"}}
	}

	es, err := f.fetchAndVerify(issuer+WellKnownPath, about.Jwks.Keys)
	if err != nil {
		return nil, err
	}

	slog.Debug("caching entity statement from IdP", "issuer", issuer, "exp", es.ExpiresAt)
	f.statementsByIdp.Set(issuer, es, es.TTL())
	return es, nil
}

// StatementAboutIdp returns the master's statement about the given subject,
// fetching it from the master's fetch endpoint and verifying it against the
// trust anchor on miss or expiry.
func (f *Federation) StatementAboutIdp(subject string) (*EntityStatement, error) {
	f.aboutMu.Lock()
	defer f.aboutMu.Unlock()

	if cached, ok := f.statementsAboutIdp.Get(subject); ok {
		return cached.(*EntityStatement), nil
	}

	endpoint, err := f.federationFetchEndpoint()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Add("iss", f.masterURL)
	query.Add("sub", subject)

	es, err := f.fetchAndVerify(endpoint+"?"+query.Encode(), f.trustAnchor)
	if err != nil {
		return nil, fmt.Errorf("no entity statement about '%s' at fedmaster '%s': %w", subject, f.masterURL, err)
	}

	slog.Debug("caching entity statement about IdP", "subject", subject, "exp", es.ExpiresAt)
	f.statementsAboutIdp.Set(subject, es, es.TTL())
	return es, nil
}

// SignedJwksForIdp fetches the IdP's signed JWKS and returns the contained
// key set. The set is re-fetched on every call; only the entity statement
// naming its URI is cached.
func (f *Federation) SignedJwksForIdp(issuer string) (jwk.Set, error) {
	es, err := f.StatementFromIdp(issuer)
	if err != nil {
		return nil, err
	}

	uri, err := es.SignedJwksURI()
	if err != nil {
		return nil, err
	}

	body, err := f.get(uri)
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseInsecure(body)
	if err != nil {
		return nil, fmt.Errorf("unable to parse signed jwks from '%s': %w", uri, err)
	}

	keysClaim, ok := token.Get("keys")
	if !ok {
		return nil, &MissingClaimError{Claim: "keys"}
	}
	keysJson, err := json.Marshal(map[string]any{"keys": keysClaim})
	if err != nil {
		return nil, fmt.Errorf("unable to marshal signed jwks keys: %w", err)
	}
	keys, err := jwk.Parse(keysJson)
	if err != nil {
		return nil, fmt.Errorf("unable to parse signed jwks keys: %w", err)
	}
	return keys, nil
}

// FederationMasterURL returns the configured master base URL.
func (f *Federation) FederationMasterURL() string {
	return f.masterURL
}

// ClearStatements drops both caches. Meant for tests.
func (f *Federation) ClearStatements() {
	f.idpMu.Lock()
	f.statementsByIdp.Flush()
	f.idpMu.Unlock()

	f.aboutMu.Lock()
	f.statementsAboutIdp.Flush()
	f.aboutMu.Unlock()
}

// federationFetchEndpoint discovers the master's fetch endpoint from its own
// entity statement and memoizes it for the process lifetime.
func (f *Federation) federationFetchEndpoint() (string, error) {
	f.epMu.Lock()
	defer f.epMu.Unlock()

	if f.fetchEndpoint != "" {
		return f.fetchEndpoint, nil
	}

	es, err := f.fetchAndVerify(f.masterURL+WellKnownPath, f.trustAnchor)
	if err != nil {
		return "", err
	}

	endpoint, err := es.FederationFetchEndpoint()
	if err != nil {
		return "", err
	}

	slog.Info("discovered federation fetch endpoint", "fedmaster", f.masterURL, "endpoint", endpoint)
	f.fetchEndpoint = endpoint
	return endpoint, nil
}

// fetchAndVerify fetches an entity statement and verifies its signature
// against the given key set. Non-2xx responses and signature failures are
// fatal to the caller.
func (f *Federation) fetchAndVerify(rawURL string, keys jwk.Set) (*EntityStatement, error) {
	body, err := f.get(rawURL)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(body,
		jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithClock(clockWithTolerance(clockTolerance)),
	)
	if err != nil {
		return nil, &TrustError{Entity: rawURL, Err: err}
	}

	return tokenToEntityStatement(token)
}

func (f *Federation) get(rawURL string) ([]byte, error) {
	resp, err := f.httpClient.Get(rawURL)
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Status: resp.Status, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{URL: rawURL, Status: resp.Status, Body: string(body)}
	}
	return body, nil
}
