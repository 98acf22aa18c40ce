package cli

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/internal/log"
	"github.com/remiblancher/trustedts/internal/transport"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

// Verifier validates timestamp responses as configured by the validation
// section. With OCSP revocation it validates once to learn the chain,
// fetches OCSP responses for it and validates again against them.
type Verifier struct {
	opts       []tsp.ValidatorOption
	ocsp       bool
	httpClient *http.Client
}

// NewVerifier builds a Verifier from cfg. extra options are applied last.
func NewVerifier(cfg *config.Config, hc *http.Client, extra ...tsp.ValidatorOption) (*Verifier, error) {
	opts := []tsp.ValidatorOption{tsp.WithTimeResolution(cfg.Validation.TimeResolution)}
	if cfg.Validation.StrictGenTime {
		opts = append(opts, tsp.WithParseOptions(tsp.WithStrictGenTime()))
	}
	if cfg.Validation.VerifyAt == config.VerifyAtNow {
		opts = append(opts, tsp.VerifyAtCurrentTime())
	}

	v := &Verifier{httpClient: hc}
	switch cfg.Validation.Revocation {
	case config.RevocationCRL:
		crls, err := LoadCRLFiles(cfg.Validation.CRLFiles)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tsp.WithRevocationChecker(&tsp.CRLChecker{CRLs: crls}))
	case config.RevocationOCSP:
		v.ocsp = true
	}
	v.opts = append(opts, extra...)
	return v, nil
}

// Validate checks raw against an expected digest.
func (v *Verifier) Validate(ctx context.Context, expected tsp.Digest, raw []byte, expectedTime time.Time, anchor *tsp.TrustAnchor) (*tsp.Result, error) {
	return v.run(ctx, func(val *tsp.Validator) (*tsp.Result, error) {
		return val.Validate(expected, raw, expectedTime, anchor)
	})
}

// ValidateRequest checks raw against the request that produced it.
func (v *Verifier) ValidateRequest(ctx context.Context, req *tsp.Request, raw []byte, expectedTime time.Time, anchor *tsp.TrustAnchor) (*tsp.Result, error) {
	return v.run(ctx, func(val *tsp.Validator) (*tsp.Result, error) {
		return val.ValidateRequest(req, raw, expectedTime, anchor)
	})
}

func (v *Verifier) run(ctx context.Context, validate func(*tsp.Validator) (*tsp.Result, error)) (*tsp.Result, error) {
	logger := log.GetLogger(ctx)

	res, err := validate(tsp.NewValidator(v.opts...))
	if err != nil || !v.ocsp {
		return res, err
	}

	logger.Debugf("checking OCSP status of %d certificate(s)", len(res.Chain)-1)
	var checker tsp.RevocationChecker
	responses, err := transport.FetchChainOCSP(ctx, v.httpClient, res.Chain)
	if err != nil {
		logger.Warnf("OCSP fetch failed: %v", err)
		checker = fetchFailure{err: err}
	} else {
		checker = &tsp.OCSPChecker{Responses: responses}
	}
	opts := append(append([]tsp.ValidatorOption{}, v.opts...), tsp.WithRevocationChecker(checker))
	return validate(tsp.NewValidator(opts...))
}

// fetchFailure reports an OCSP fetch error as unknown revocation status, so
// that it surfaces through the validator like any other revocation failure.
type fetchFailure struct {
	err error
}

func (f fetchFailure) CheckRevocation(_, _ *x509.Certificate, _ time.Time) error {
	return fmt.Errorf("%w: %w", tsp.ErrRevocationUnknown, f.err)
}
