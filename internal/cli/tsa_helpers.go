package cli

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

// LoadTrustAnchor loads the trust anchor named by the configuration.
// It returns nil when no CA file is configured.
func LoadTrustAnchor(cfg *config.Config) (*tsp.TrustAnchor, error) {
	if cfg.Trust.CAFile == "" {
		if cfg.Trust.IntermediatesFile != "" {
			return nil, fmt.Errorf("trust.intermediates_file requires trust.ca_file")
		}
		return nil, nil
	}
	anchor, err := tsp.LoadTrustAnchor(cfg.Trust.CAFile, cfg.Trust.IntermediatesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA: %w", err)
	}
	return anchor, nil
}

// RequestOptions translates the tsa section into request options.
func RequestOptions(cfg *config.Config) ([]tsp.RequestOption, error) {
	var opts []tsp.RequestOption
	if cfg.TSA.Nonce {
		opts = append(opts, tsp.WithRandomNonce())
	}
	if cfg.TSA.Policy != "" {
		oid, err := config.ParseOID(cfg.TSA.Policy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tsp.WithPolicy(oid))
	}
	return opts, nil
}

// LoadCRLFile reads a PEM ("X509 CRL") or DER revocation list.
func LoadCRLFile(path string) (*x509.RevocationList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CRL: %w", err)
	}

	der := data
	if block, _ := pem.Decode(data); block != nil && block.Type == "X509 CRL" {
		der = block.Bytes
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL %s: %w", path, err)
	}
	return crl, nil
}

// LoadCRLFiles reads every CRL in paths.
func LoadCRLFiles(paths []string) ([]*x509.RevocationList, error) {
	crls := make([]*x509.RevocationList, 0, len(paths))
	for _, p := range paths {
		crl, err := LoadCRLFile(p)
		if err != nil {
			return nil, err
		}
		crls = append(crls, crl)
	}
	return crls, nil
}
