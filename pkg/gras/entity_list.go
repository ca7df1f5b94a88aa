package gras

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/gematik/gras-server/pkg/oidf"
)

// EntityList caches the signed IdP list published by the federation master.
// The list is served as-is, the master's signature stays intact for clients
// to verify against the trust anchor.
type EntityList struct {
	mu         sync.Mutex
	listURL    string
	httpClient *http.Client
	jws        string
	expiresAt  time.Time
}

func NewEntityList(fedmasterURL string, httpClient *http.Client) *EntityList {
	return &EntityList{
		listURL:    fedmasterURL + IdpListPath,
		httpClient: httpClient,
	}
}

// Get returns the cached list until it expires. A failed refresh keeps
// serving the stale list and only errors if no list was ever fetched.
func (l *EntityList) Get() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jws != "" && time.Now().Before(l.expiresAt) {
		return l.jws, nil
	}

	jws, expiresAt, err := l.fetch()
	if err != nil {
		if l.jws != "" {
			return l.jws, nil
		}
		return "", err
	}

	l.jws = jws
	l.expiresAt = expiresAt
	return l.jws, nil
}

func (l *EntityList) fetch() (string, time.Time, error) {
	resp, err := l.httpClient.Get(l.listURL)
	if err != nil {
		return "", time.Time{}, &oidf.UpstreamError{URL: l.listURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, &oidf.UpstreamError{URL: l.listURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, &oidf.UpstreamError{URL: l.listURL, Status: resp.Status, Body: string(body)}
	}

	token, err := jwt.ParseInsecure(body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("unable to parse entity list from %s: %w", l.listURL, err)
	}

	return string(body), token.Expiration(), nil
}
