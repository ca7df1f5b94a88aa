package gras

import (
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/gematik/gras-server/pkg/oidf"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

type Option func(*Server) error

func WithServerURL(serverURL string) Option {
	return func(s *Server) error {
		s.serverURL = serverURL
		return nil
	}
}

func WithFederation(federation *oidf.Federation) Option {
	return func(s *Server) error {
		s.federation = federation
		return nil
	}
}

func WithSessionStore(store *SessionStore) Option {
	return func(s *Server) error {
		s.sessions = store
		return nil
	}
}

// WithEntityStatementSigningKey sets the key signing this server's own
// entity statement, the signed JWKS document and client assertions.
func WithEntityStatementSigningKey(privateKey jwk.Key) Option {
	return func(s *Server) error {
		publicKey, err := privateKey.PublicKey()
		if err != nil {
			return fmt.Errorf("unable to derive public key: %w", err)
		}
		s.esSigPrK = privateKey
		s.esSigPuK = publicKey
		return nil
	}
}

// WithTokenSigningKey sets the key signing issued authorization codes.
func WithTokenSigningKey(privateKey jwk.Key) Option {
	return func(s *Server) error {
		publicKey, err := privateKey.PublicKey()
		if err != nil {
			return fmt.Errorf("unable to derive public key: %w", err)
		}
		s.tokenSigPrK = privateKey
		s.tokenSigPuK = publicKey
		return nil
	}
}

// WithEncryptionKey sets the key the sectoral IdP encrypts id_tokens to.
func WithEncryptionKey(privateKey jwk.Key) Option {
	return func(s *Server) error {
		publicKey, err := privateKey.PublicKey()
		if err != nil {
			return fmt.Errorf("unable to derive public key: %w", err)
		}
		s.encPrK = privateKey
		s.encPuK = publicKey
		return nil
	}
}

// WithCodeEncryptionKey sets the pre-shared symmetric key wrapping issued
// authorization codes. Must be 32 bytes.
func WithCodeEncryptionKey(key []byte) Option {
	return func(s *Server) error {
		if len(key) != 32 {
			return fmt.Errorf("code encryption key must be 32 bytes, got %d", len(key))
		}
		s.codeEncKey = key
		return nil
	}
}

// WithCodeEncryptionPassphrase derives the symmetric code key from a
// passphrase.
func WithCodeEncryptionPassphrase(passphrase string) Option {
	return func(s *Server) error {
		key := sha256.Sum256([]byte(passphrase))
		s.codeEncKey = key[:]
		return nil
	}
}

func WithMetadataTemplate(template map[string]any) Option {
	return func(s *Server) error {
		s.metadataTemplate = template
		return nil
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) error {
		s.httpClient = client
		return nil
	}
}
