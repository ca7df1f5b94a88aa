package gras

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gematik/gras-server/pkg/oidf"
	"github.com/gematik/gras-server/pkg/util"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type Server struct {
	serverURL  string
	federation *oidf.Federation
	sessions   *SessionStore
	httpClient *http.Client

	esSigPrK    jwk.Key
	esSigPuK    jwk.Key
	tokenSigPrK jwk.Key
	tokenSigPuK jwk.Key
	encPrK      jwk.Key
	encPuK      jwk.Key
	codeEncKey  []byte

	metadataTemplate map[string]any

	codeBuilder *AuthorizationCodeBuilder
	entityList  *EntityList
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		sessions: NewSessionStore(DefaultSessionCapacity),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: util.AddUserAgentTransport(nil, "gras-server"),
		},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.serverURL == "" {
		return nil, errors.New("server URL is required")
	}
	if s.federation == nil {
		return nil, errors.New("federation is required")
	}
	if s.esSigPrK == nil || s.tokenSigPrK == nil || s.encPrK == nil {
		return nil, errors.New("entity statement, token signing and encryption keys are required")
	}
	if s.codeEncKey == nil {
		return nil, errors.New("code encryption key is required")
	}

	if s.metadataTemplate == nil {
		s.metadataTemplate = map[string]any{
			"openid_relying_party": map[string]any{
				"client_name":   s.serverURL,
				"redirect_uris": []string{s.serverURL + FedAuthPath},
			},
		}
	}

	s.codeBuilder = NewAuthorizationCodeBuilder(s.tokenSigPrK, s.codeEncKey, s.serverURL)
	s.entityList = NewEntityList(s.federation.FederationMasterURL(), s.httpClient)

	return s, nil
}

func NewServerFromConfig(cfg *Config) (*Server, error) {
	trustAnchor, err := mapToJwks(cfg.FedMasterJwks)
	if err != nil {
		return nil, fmt.Errorf("unable to parse fedmaster jwks: %w", err)
	}

	esSigPrK, _, err := loadKeys(cfg.EsSigPrivateKeyPath, cfg.EsSigKid, jwk.ForSignature)
	if err != nil {
		return nil, err
	}
	tokenSigPrK, _, err := loadKeys(cfg.TokenSigPrivateKeyPath, cfg.TokenSigKid, jwk.ForSignature)
	if err != nil {
		return nil, err
	}
	encPrK, _, err := loadKeys(cfg.EncPrivateKeyPath, cfg.EncKid, jwk.ForEncryption)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: util.AddUserAgentTransport(nil, "gras-server"),
	}
	if cfg.TLSClientCertPath != "" && cfg.TLSClientKeyPath != "" {
		tlsCert, err := tls.LoadX509KeyPair(cfg.TLSClientCertPath, cfg.TLSClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("unable to load tls client identity: %w", err)
		}
		httpClient.Transport = util.AddUserAgentTransport(
			&http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{tlsCert},
				},
			},
			"gras-server",
		)
	}

	return NewServer(
		WithServerURL(cfg.ServerURL),
		WithFederation(oidf.NewFederation(cfg.FedMasterURL, trustAnchor)),
		WithSessionStore(NewSessionStore(cfg.SessionCapacity)),
		WithEntityStatementSigningKey(esSigPrK),
		WithTokenSigningKey(tokenSigPrK),
		WithEncryptionKey(encPrK),
		WithCodeEncryptionPassphrase(cfg.SymmetricEncryptionKey),
		WithMetadataTemplate(cfg.MetadataTemplate),
		WithHTTPClient(httpClient),
	)
}

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("request error", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(
		middleware.Logger(),
		ErrorLogMiddleware,
	)
	group.GET(oidf.WellKnownPath, s.EntityStatementEndpoint)
	group.GET(SignedJwksPath, s.SignedJwksEndpoint)
	group.GET(IdpListPath, s.EntityListEndpoint)
	group.GET(ExpiredEntityStatementPath, s.ExpiredEntityStatementEndpoint)
	group.GET(InvalidSigEntityStatementPath, s.InvalidSigEntityStatementEndpoint)
	group.GET(FedAuthPath, s.AuthorizationRequestEndpoint)
	group.POST(FedAuthPath, s.AuthorizationCodeEndpoint)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var noncePattern = regexp.MustCompile(fmt.Sprintf(`^[_\-a-zA-Z0-9]{1,%d}$`, maxNonceLength))

// AuthorizationRequest carries the parameters of the initiation leg.
type AuthorizationRequest struct {
	ClientID            string `validate:"required"`
	State               string `validate:"required"`
	RedirectURI         string `validate:"required"`
	CodeChallenge       string `validate:"required"`
	CodeChallengeMethod string `validate:"required,eq=S256"`
	ResponseType        string `validate:"required,eq=code"`
	Scope               string `validate:"required"`
	IdpIssuer           string `validate:"required"`
	Nonce               string `validate:"omitempty,max=512"`
}

// AuthorizationRequestEndpoint starts the App2App flow: it stores a session
// correlating the frontend request with a fresh inner OAuth leg, pushes the
// authorization request to the sectoral IdP and redirects the user agent to
// the IdP's authorization endpoint.
func (s *Server) AuthorizationRequestEndpoint(c echo.Context) error {
	var req AuthorizationRequest
	binderr := echo.QueryParamsBinder(c).
		String("client_id", &req.ClientID).
		String("state", &req.State).
		String("redirect_uri", &req.RedirectURI).
		String("code_challenge", &req.CodeChallenge).
		String("code_challenge_method", &req.CodeChallengeMethod).
		String("response_type", &req.ResponseType).
		String("scope", &req.Scope).
		String("idp_iss", &req.IdpIssuer).
		String("nonce", &req.Nonce).
		BindError()
	if binderr != nil {
		return &ValidationError{Message: binderr.Error()}
	}
	if err := validate.Struct(&req); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if req.Nonce != "" && !noncePattern.MatchString(req.Nonce) {
		return &ValidationError{Message: "malformed nonce"}
	}

	state := util.RandomHex(stateEntropy)
	nonce := util.RandomHex(nonceEntropy)
	codeVerifier := generateCodeVerifier()
	codeChallenge := s256Challenge(codeVerifier)

	s.sessions.Put(state, &AuthSession{
		ClientID:            req.ClientID,
		State:               req.State,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ResponseType:        req.ResponseType,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		IdpIssuer:           req.IdpIssuer,
		CodeVerifier:        codeVerifier,
	})
	slog.Debug("stored auth session", "idp_iss", req.IdpIssuer, "sessions", s.sessions.Len())

	es, err := s.federation.StatementFromIdp(req.IdpIssuer)
	if err != nil {
		return err
	}
	authEndpoint, err := es.AuthorizationEndpoint()
	if err != nil {
		return err
	}
	parEndpoint, err := es.PushedAuthorizationRequestEndpoint()
	if err != nil {
		return err
	}

	requestURI, err := s.pushAuthorizationRequest(parEndpoint, state, codeChallenge, nonce)
	if err != nil {
		return err
	}

	location, err := AuthorizationRequestLocation(authEndpoint, s.serverURL, requestURI)
	if err != nil {
		return err
	}

	slog.Debug("redirecting to IdP", "location", location)
	setNoCacheHeaders(c.Response().Header())
	return c.Redirect(http.StatusFound, location)
}

// AuthorizationCodeEndpoint completes the flow: it exchanges the IdP's code
// for tokens, verifies the identity token against the trust chain and
// redirects back to the frontend with a freshly minted authorization code.
func (s *Server) AuthorizationCodeEndpoint(c echo.Context) error {
	var code, state string
	binderr := echo.FormFieldBinder(c).
		MustString("code", &code).
		MustString("state", &state).
		BindError()
	if binderr != nil {
		return &ValidationError{Message: binderr.Error()}
	}

	session, ok := s.sessions.Get(state)
	if !ok {
		return &UnknownStateError{State: state}
	}

	es, err := s.federation.StatementFromIdp(session.IdpIssuer)
	if err != nil {
		return err
	}
	tokenEndpoint, err := es.TokenEndpoint()
	if err != nil {
		return err
	}

	tokenResponse, err := s.exchangeCode(tokenEndpoint, code, session)
	if err != nil {
		return err
	}

	idToken, err := s.decryptAndVerifyIdToken(tokenResponse.IDToken)
	if err != nil {
		return err
	}

	authorizationCode, err := s.codeBuilder.Build(idToken, time.Now(), session)
	if err != nil {
		return err
	}

	location, err := AuthorizationCodeLocation(session.RedirectURI, authorizationCode, session.State)
	if err != nil {
		return err
	}
	session.AuthorizationCode = authorizationCode

	setNoCacheHeaders(c.Response().Header())
	return c.Redirect(http.StatusFound, location)
}

type parResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

func (s *Server) pushAuthorizationRequest(endpoint, state, codeChallenge, nonce string) (string, error) {
	form := url.Values{}
	form.Set("client_id", s.serverURL)
	form.Set("state", state)
	form.Set("redirect_uri", s.serverURL+FedAuthPath)
	form.Set("code_challenge", codeChallenge)
	form.Set("code_challenge_method", "S256")
	form.Set("response_type", "code")
	form.Set("nonce", nonce)
	form.Set("scope", parScope)
	form.Set("acr_values", parAcrValues)

	body, err := s.postForm(endpoint, form)
	if err != nil {
		return "", err
	}

	var pr parResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", &oidf.UpstreamError{URL: endpoint, Err: fmt.Errorf("unable to parse PAR response: %w", err)}
	}
	if pr.RequestURI == "" {
		return "", &oidf.UpstreamError{URL: endpoint, Err: errors.New("request_uri not found in PAR response")}
	}
	return pr.RequestURI, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	IDToken     string `json:"id_token"`
}

func (s *Server) exchangeCode(endpoint, code string, session *AuthSession) (*tokenResponse, error) {
	assertion, err := buildClientAssertion(s.esSigPrK, s.serverURL, endpoint)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", session.CodeVerifier)
	form.Set("client_id", s.serverURL)
	form.Set("redirect_uri", s.serverURL+FedAuthPath)
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	body, err := s.postForm(endpoint, form)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &oidf.UpstreamError{URL: endpoint, Err: fmt.Errorf("unable to parse token response: %w", err)}
	}
	if tr.IDToken == "" {
		return nil, &oidf.UpstreamError{URL: endpoint, Err: errors.New("id_token not found in token response")}
	}
	return &tr, nil
}

func (s *Server) postForm(endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &oidf.UpstreamError{URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &oidf.UpstreamError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &oidf.UpstreamError{URL: endpoint, Status: resp.Status, Err: err}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &oidf.UpstreamError{URL: endpoint, Status: resp.Status, Body: string(body)}
	}
	return body, nil
}

// decryptAndVerifyIdToken unwraps the JWE with this server's encryption key
// and verifies the inner signature against the key matching the token's kid
// in the IdP's signed JWKS.
func (s *Server) decryptAndVerifyIdToken(encrypted string) (jwt.Token, error) {
	inner, err := jwe.Decrypt([]byte(encrypted), jwe.WithKey(jwa.ECDH_ES, s.encPrK))
	if err != nil {
		return nil, &oidf.TrustError{Entity: "id_token", Err: fmt.Errorf("unable to decrypt: %w", err)}
	}

	unverified, err := jwt.ParseInsecure(inner)
	if err != nil {
		return nil, &oidf.TrustError{Entity: "id_token", Err: err}
	}
	issuer := unverified.Issuer()
	if issuer == "" {
		return nil, &oidf.MissingClaimError{Claim: "iss"}
	}

	jwks, err := s.federation.SignedJwksForIdp(issuer)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(inner, jwt.WithKeySet(jwks, jws.WithInferAlgorithmFromKey(true)))
	if err != nil {
		return nil, &oidf.TrustError{Entity: issuer, Err: err}
	}
	return token, nil
}

func setNoCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
