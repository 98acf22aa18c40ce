// Package config loads the trustedts YAML configuration file.
package config

import (
	"bytes"
	"crypto"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/trustedts/pkg/tsp"
)

// Verification time choices for validation.verify_at.
const (
	VerifyAtGenTime = "gen_time"
	VerifyAtNow     = "now"
)

// Revocation modes for validation.revocation.
const (
	RevocationNone = "none"
	RevocationCRL  = "crl"
	RevocationOCSP = "ocsp"
)

// Config is the root of the configuration file.
type Config struct {
	TSA        TSAConfig        `yaml:"tsa"`
	Hash       string           `yaml:"hash"`
	Trust      TrustConfig      `yaml:"trust"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
}

// TSAConfig describes the Time-Stamp Authority endpoint.
type TSAConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// Nonce requests a random nonce with every request.
	Nonce  bool   `yaml:"nonce"`
	Policy string `yaml:"policy"`

	Username string `yaml:"username"`

	// PasswordEnv is the name of the environment variable holding the
	// basic auth password.
	PasswordEnv string `yaml:"password_env"`

	Headers map[string]string `yaml:"headers"`
}

// TrustConfig names the PEM files of the trust anchor.
type TrustConfig struct {
	CAFile            string `yaml:"ca_file"`
	IntermediatesFile string `yaml:"intermediates_file"`
}

// ValidationConfig tunes token validation.
type ValidationConfig struct {
	TimeResolution time.Duration `yaml:"time_resolution"`
	StrictGenTime  bool          `yaml:"strict_gen_time"`
	VerifyAt       string        `yaml:"verify_at"`
	Revocation     string        `yaml:"revocation"`
	CRLFiles       []string      `yaml:"crl_files"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// AuditConfig enables the hash-chained audit log.
type AuditConfig struct {
	File string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		TSA: TSAConfig{
			Timeout: 30 * time.Second,
			Nonce:   true,
		},
		Hash: "sha256",
		Validation: ValidationConfig{
			TimeResolution: time.Second,
			VerifyAt:       VerifyAtGenTime,
			Revocation:     RevocationNone,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.TSA.Timeout < 0 {
		return fmt.Errorf("tsa.timeout must not be negative")
	}
	if c.TSA.Policy != "" {
		if _, err := ParseOID(c.TSA.Policy); err != nil {
			return fmt.Errorf("tsa.policy: %w", err)
		}
	}
	if c.TSA.PasswordEnv != "" && c.TSA.Username == "" {
		return fmt.Errorf("tsa.password_env requires tsa.username")
	}
	if _, err := tsp.ParseHashAlgorithm(c.Hash); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	if c.Validation.TimeResolution < 0 {
		return fmt.Errorf("validation.time_resolution must not be negative")
	}

	switch c.Validation.VerifyAt {
	case VerifyAtGenTime, VerifyAtNow:
	default:
		return fmt.Errorf("validation.verify_at must be %q or %q, got %q", VerifyAtGenTime, VerifyAtNow, c.Validation.VerifyAt)
	}

	switch c.Validation.Revocation {
	case RevocationNone, RevocationOCSP:
	case RevocationCRL:
		if len(c.Validation.CRLFiles) == 0 {
			return fmt.Errorf("validation.revocation %q requires validation.crl_files", RevocationCRL)
		}
	default:
		return fmt.Errorf("unsupported validation.revocation: %s (none, crl or ocsp)", c.Validation.Revocation)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format: %s (text or json)", c.Logging.Format)
	}
	return nil
}

// HashAlgorithm returns the configured digest algorithm.
func (c *Config) HashAlgorithm() crypto.Hash {
	h, _ := tsp.ParseHashAlgorithm(c.Hash)
	return h
}

// Password reads the basic auth password from the environment.
func (c *TSAConfig) Password() (string, error) {
	if c.PasswordEnv == "" {
		return "", nil
	}
	pw := os.Getenv(c.PasswordEnv)
	if pw == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PasswordEnv)
	}
	return pw, nil
}

// ParseOID parses a dotted object identifier such as "1.2.3.4".
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID %q", s)
		}
		oid[i] = n
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] > 39) {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	return oid, nil
}
