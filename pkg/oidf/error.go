package oidf

import "fmt"

// MissingClaimError names a key that is absent, or of the wrong shape, in an
// entity-statement or identity-token claim tree.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string {
	return "missing claim: " + e.Claim
}

// UpstreamError is a failed fetch from an entity-statement, fetch, PAR, token
// or signed-JWKS endpoint: transport failure or a non-2xx response.
type UpstreamError struct {
	URL    string
	Status string // empty on transport error
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to fetch from '%s': %v", e.URL, e.Err)
	}
	return fmt.Sprintf("unable to fetch from '%s': %s %s", e.URL, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// TrustError is a signature verification failure against the expected trust
// material. It is never ignored; the triggering operation fails as a whole.
type TrustError struct {
	Entity string
	Err    error
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("trust verification failed for '%s': %v", e.Entity, e.Err)
}

func (e *TrustError) Unwrap() error {
	return e.Err
}
