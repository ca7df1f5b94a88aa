package gras

import "net/url"

// AuthorizationRequestLocation composes the redirect to the IdP's
// authorization endpoint carrying this server's client_id and the request_uri
// returned by the PAR call.
func AuthorizationRequestLocation(baseURI, clientID, requestURI string) (string, error) {
	return appendQuery(baseURI, url.Values{
		"client_id":   {clientID},
		"request_uri": {requestURI},
	})
}

// AuthorizationCodeLocation composes the redirect back to the frontend
// carrying the newly issued code and the original state.
func AuthorizationCodeLocation(baseURI, code, state string) (string, error) {
	return appendQuery(baseURI, url.Values{
		"code":  {code},
		"state": {state},
	})
}

// appendQuery adds parameters to a base URI without disturbing its existing
// components.
func appendQuery(baseURI string, params url.Values) (string, error) {
	parsed, err := url.Parse(baseURI)
	if err != nil {
		return "", &InvalidRedirectURIError{URI: baseURI, Err: err}
	}
	query := parsed.Query()
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
