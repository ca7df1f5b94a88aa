package oidf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gematik/gras-server/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type UserType string

const (
	UserTypeIP  UserType = "IP"  // Insured Person
	UserTypeHP  UserType = "HP"  // Health Professional
	UserTypeHCI UserType = "HCI" // Health Care Institution
)

// EntityStatement is the verified body of an entity-statement JWT. Two kinds
// flow through this package: statements self-issued by a sectoral IdP and
// statements about an IdP issued by the federation master.
type EntityStatement struct {
	ExpiresAt      int64      `json:"exp"`
	IssuedAt       int64      `json:"iat"`
	Issuer         string     `json:"iss"`
	Subject        string     `json:"sub"`
	AuthorityHints []string   `json:"authority_hints"`
	Jwks           *util.Jwks `json:"jwks"`
	Metadata       *Metadata  `json:"metadata"`

	// full claim tree, for fail-loud endpoint extraction
	claims map[string]any
}

type Metadata struct {
	OpenidRelyingParty *OpenIDRelyingPartyMetadata `json:"openid_relying_party,omitempty"`
	OpenidProvider     *OpenIDProviderMetadata     `json:"openid_provider,omitempty"`
	FederationEntity   *FederationEntityMetadata   `json:"federation_entity,omitempty"`
}

type OpenIDProviderMetadata struct {
	Issuer                             string     `json:"issuer"`
	AuthorizationEndpoint              string     `json:"authorization_endpoint"`
	PushedAuthorizationRequestEndpoint string     `json:"pushed_authorization_request_endpoint"`
	TokenEndpoint                      string     `json:"token_endpoint"`
	SignedJwksUri                      string     `json:"signed_jwks_uri"`
	OrganizationName                   string     `json:"organization_name"`
	LogoURI                            string     `json:"logo_uri"`
	GrantTypesSupported                []string   `json:"grant_types_supported"`
	ResponseTypesSupported             []string   `json:"response_types_supported"`
	ScopesSupported                    []string   `json:"scopes_supported"`
	UserTypeSupported                  []UserType `json:"user_type_supported"`
}

type OpenIDRelyingPartyMetadata struct {
	SignedJwksUri                      string     `json:"signed_jwks_uri,omitempty"`
	Jwks                               *util.Jwks `json:"jwks,omitempty"`
	OrganizationName                   string     `json:"organization_name"`
	ClientName                         string     `json:"client_name"`
	LogoURI                            string     `json:"logo_uri"`
	RedirectURIs                       []string   `json:"redirect_uris"`
	ResponseTypes                      []string   `json:"response_types"`
	ClientRegistrationTypes            []string   `json:"client_registration_types"`
	GrantTypes                         []string   `json:"grant_types"`
	RequirePushedAuthorizationRequests bool       `json:"require_pushed_authorization_requests"`
	TokenEndpointAuthMethod            string     `json:"token_endpoint_auth_method"`
	DefaultACRValues                   []string   `json:"default_acr_values"`
	IDTokenSignedResponseAlg           string     `json:"id_token_signed_response_alg"`
	IDTokenEncryptedResponseAlg        string     `json:"id_token_encrypted_response_alg"`
	IDTokenEncryptedResponseEnc        string     `json:"id_token_encrypted_response_enc"`
	Scope                              string     `json:"scope"`
}

type FederationEntityMetadata struct {
	Name                    string   `json:"name,omitempty"`
	Contacts                []string `json:"contacts,omitempty"`
	HomepageURI             string   `json:"homepage_uri,omitempty"`
	FederationFetchEndpoint string   `json:"federation_fetch_endpoint,omitempty"`
	FederationListEndpoint  string   `json:"federation_list_endpoint,omitempty"`
	IdpListEndpoint         string   `json:"idp_list_endpoint,omitempty"`
}

func tokenToEntityStatement(token jwt.Token) (*EntityStatement, error) {
	tokenJson, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal token: %w", err)
	}
	var es EntityStatement
	if err := json.Unmarshal(tokenJson, &es); err != nil {
		return nil, fmt.Errorf("unable to unmarshal entity statement: %w", err)
	}
	if err := json.Unmarshal(tokenJson, &es.claims); err != nil {
		return nil, fmt.Errorf("unable to unmarshal entity statement claims: %w", err)
	}
	return &es, nil
}

// Expired reports whether the statement must not be used anymore.
func (es *EntityStatement) Expired() bool {
	return !time.Now().Before(time.Unix(es.ExpiresAt, 0))
}

// TTL is the remaining lifetime of the statement.
func (es *EntityStatement) TTL() time.Duration {
	return time.Until(time.Unix(es.ExpiresAt, 0))
}

// AuthorizationEndpoint extracts metadata.openid_provider.authorization_endpoint.
func (es *EntityStatement) AuthorizationEndpoint() (string, error) {
	return es.openidProviderClaim("authorization_endpoint")
}

// PushedAuthorizationRequestEndpoint extracts
// metadata.openid_provider.pushed_authorization_request_endpoint.
func (es *EntityStatement) PushedAuthorizationRequestEndpoint() (string, error) {
	return es.openidProviderClaim("pushed_authorization_request_endpoint")
}

// TokenEndpoint extracts metadata.openid_provider.token_endpoint.
func (es *EntityStatement) TokenEndpoint() (string, error) {
	return es.openidProviderClaim("token_endpoint")
}

// SignedJwksURI extracts metadata.openid_provider.signed_jwks_uri.
func (es *EntityStatement) SignedJwksURI() (string, error) {
	return es.openidProviderClaim("signed_jwks_uri")
}

// FederationFetchEndpoint extracts
// metadata.federation_entity.federation_fetch_endpoint.
func (es *EntityStatement) FederationFetchEndpoint() (string, error) {
	metadata, err := innerClaimMap(es.claims, "metadata")
	if err != nil {
		return "", err
	}
	federationEntity, err := innerClaimMap(metadata, "federation_entity")
	if err != nil {
		return "", err
	}
	return stringClaim(federationEntity, "federation_fetch_endpoint")
}

func (es *EntityStatement) openidProviderClaim(field string) (string, error) {
	metadata, err := innerClaimMap(es.claims, "metadata")
	if err != nil {
		return "", err
	}
	openidProvider, err := innerClaimMap(metadata, "openid_provider")
	if err != nil {
		return "", err
	}
	return stringClaim(openidProvider, field)
}

func innerClaimMap(claims map[string]any, key string) (map[string]any, error) {
	inner, ok := claims[key].(map[string]any)
	if !ok {
		return nil, &MissingClaimError{Claim: key}
	}
	return inner, nil
}

func stringClaim(claims map[string]any, key string) (string, error) {
	value, ok := claims[key].(string)
	if !ok || value == "" {
		return "", &MissingClaimError{Claim: key}
	}
	return value, nil
}
