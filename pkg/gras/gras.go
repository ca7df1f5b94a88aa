// Package gras implements the Fachdienst auth server of the gematik
// federation: it relays authorization requests of a frontend client to a
// sectoral IdP via the OpenID-Federation App2App flow and re-issues the
// verified identity as an encrypted authorization code.
package gras

import "time"

// Version is the release version reported by the CLI.
const Version = "0.1.0"

const (
	// FedAuthPath serves both legs of the App2App flow: GET starts it,
	// POST completes it with the IdP's authorization code.
	FedAuthPath = "/auth"

	SignedJwksPath                = "/jws.json"
	IdpListPath                   = "/idp_list"
	ExpiredEntityStatementPath    = "/expired_entity_statement"
	InvalidSigEntityStatementPath = "/invalid_sig_entity_statement"

	// entropy in bytes; hex-encoded on the wire
	stateEntropy = 16
	nonceEntropy = 16
	jtiEntropy   = 16

	maxNonceLength = 512

	DefaultSessionCapacity = 10000

	parScope     = "urn:telematik:display_name urn:telematik:versicherter openid"
	parAcrValues = "gematik-ehealth-loa-high"

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	clientAssertionTTL  = 90 * time.Second

	entityStatementTyp = "entity-statement+jwt"
	entityStatementTTL = 24 * time.Hour

	authorizationCodeTTL = time.Hour
)
