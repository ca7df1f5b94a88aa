package gras

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL  string `yaml:"server_url" validate:"required"`
	ListenAddr string `yaml:"listen_addr"`

	FedMasterURL  string         `yaml:"fedmaster_url" validate:"required"`
	FedMasterJwks map[string]any `yaml:"fedmaster_jwks" validate:"required"`

	EsSigKid            string `yaml:"es_sig_kid" validate:"required"`
	EsSigPrivateKeyPath string `yaml:"es_sig_private_key_path" validate:"required"`

	TokenSigKid            string `yaml:"token_sig_kid" validate:"required"`
	TokenSigPrivateKeyPath string `yaml:"token_sig_private_key_path" validate:"required"`

	EncKid            string `yaml:"enc_kid" validate:"required"`
	EncPrivateKeyPath string `yaml:"enc_private_key_path" validate:"required"`

	TLSClientCertPath string `yaml:"tls_client_cert_path"`
	TLSClientKeyPath  string `yaml:"tls_client_key_path"`

	// passphrase hashed into the symmetric key wrapping authorization codes
	SymmetricEncryptionKey string `yaml:"symmetric_encryption_key" validate:"required"`

	SessionCapacity int `yaml:"session_capacity"`

	MetadataTemplate map[string]any `yaml:"metadata" validate:"required"`
}

func LoadConfig(path string) (*Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(yamlData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", path, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	return &cfg, nil
}

// loadKeys reads a PEM private key and returns it together with its public
// counterpart, both carrying kid, use and alg.
func loadKeys(privateKeyPath, kid string, keyUsage jwk.KeyUsageType) (jwk.Key, jwk.Key, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	privateKey, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse key file %s: %w", privateKeyPath, err)
	}

	privateKey.Set(jwk.KeyIDKey, kid)
	privateKey.Set(jwk.KeyUsageKey, keyUsage)

	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get public key from private key: %w", err)
	}

	publicKey.Set(jwk.KeyIDKey, kid)
	publicKey.Set(jwk.KeyUsageKey, keyUsage)

	if keyUsage == jwk.ForEncryption {
		publicKey.Set(jwk.AlgorithmKey, jwa.ECDH_ES)
	} else {
		publicKey.Set(jwk.AlgorithmKey, jwa.ES256)
	}

	return privateKey, publicKey, nil
}

// mapToJwks converts a config map containing a jwks to a jwk.Set.
func mapToJwks(m map[string]any) (jwk.Set, error) {
	jsonData, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return jwk.Parse(jsonData)
}
