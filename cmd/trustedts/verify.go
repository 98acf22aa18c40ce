package main

import (
	"crypto"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/trustedts/internal/audit"
	"github.com/remiblancher/trustedts/internal/cli"
	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

type verifyFlags struct {
	data          string
	digest        string
	hash          string
	request       string
	expectedTime  string
	ca            string
	intermediates string
	nonce         string
	policy        string
	crls          []string
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify <response-file>",
		Short: "Validate a timestamp response",
		Long: `Validate a timestamp response (.tsr) against the original data, the time
recorded when the response arrived and a trust anchor.

Checks, in order:
  - the message imprint matches the data or digest
  - the nonce and policy match, when given
  - the attested time equals --time at the configured resolution
  - the signed attributes, signature and ESS signing certificate are valid
  - the TSA certificate has the timeStamping extended key usage
  - the certificate chain leads to the trust anchor

Examples:
  # Validate against the data file
  trustedts verify file.tsr --data file.txt --time 2024-05-01T12:00:00Z --ca cacert.pem

  # Validate against the original request (digest, nonce and policy)
  trustedts verify file.tsr --request file.tsq --time 2024-05-01T12:00:00Z --ca cacert.pem

  # Check revocation with CRLs
  trustedts verify file.tsr --digest sha256:2c26... --time 2024-05-01T12:00:00Z --ca cacert.pem --crl tsa.crl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts, &f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.data, "data", "", "Original data file (- for stdin)")
	cmd.Flags().StringVar(&f.digest, "digest", "", "Original digest (alg:hex, or hex of --hash)")
	cmd.Flags().StringVar(&f.hash, "hash", "", "Hash algorithm for --data (default: the token's imprint algorithm)")
	cmd.Flags().StringVar(&f.request, "request", "", "Original request file (.tsq)")
	cmd.Flags().StringVar(&f.expectedTime, "time", "", "Time recorded at receipt (RFC 3339, required)")
	cmd.Flags().StringVar(&f.ca, "ca", "", "Trusted root certificates (PEM, default from trust.ca_file)")
	cmd.Flags().StringVar(&f.intermediates, "intermediates", "", "Extra intermediate certificates (PEM)")
	cmd.Flags().StringVar(&f.nonce, "nonce", "", "Expected nonce (decimal or 0x-hex)")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Expected TSA policy OID")
	cmd.Flags().StringSliceVar(&f.crls, "crl", nil, "CRL files to check revocation against (PEM or DER)")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func runVerify(cmd *cobra.Command, opts *globalOptions, f *verifyFlags, path string) error {
	ctx := cmd.Context()

	cfg := *opts.cfg
	if f.ca != "" {
		cfg.Trust.CAFile = f.ca
	}
	if f.intermediates != "" {
		cfg.Trust.IntermediatesFile = f.intermediates
	}
	if len(f.crls) > 0 {
		cfg.Validation.Revocation = config.RevocationCRL
		cfg.Validation.CRLFiles = f.crls
	}
	anchor, err := cli.LoadTrustAnchor(&cfg)
	if err != nil {
		return err
	}
	if anchor == nil {
		return fmt.Errorf("a trust anchor is required: use --ca or trust.ca_file")
	}

	expectedTime, err := cli.ParseTime(f.expectedTime, time.Now)
	if err != nil {
		return err
	}
	raw, err := cli.ReadDER(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var extra []tsp.ValidatorOption
	if f.nonce != "" {
		n, err := cli.ParseNonce(f.nonce)
		if err != nil {
			return err
		}
		extra = append(extra, tsp.WithExpectedNonce(n))
	}
	if f.policy != "" {
		oid, err := config.ParseOID(f.policy)
		if err != nil {
			return err
		}
		extra = append(extra, tsp.WithExpectedPolicy(oid))
	}
	verifier, err := cli.NewVerifier(&cfg, nil, extra...)
	if err != nil {
		return err
	}

	obj := audit.Object{Path: path}
	var res *tsp.Result
	if f.request != "" {
		if f.data != "" || f.digest != "" {
			return fmt.Errorf("--request cannot be combined with --data or --digest")
		}
		reqDER, err := cli.ReadDER(f.request, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req, err := tsp.ParseRequest(reqDER)
		if err != nil {
			return err
		}
		obj.Digest = req.Digest.String()
		res, err = verifier.ValidateRequest(ctx, req, raw, expectedTime, anchor)
		return reportVerification(cmd, obj, requestAuditContext(req), res, err, true)
	}

	h, err := verifyHash(&cfg, f.hash, raw)
	if err != nil {
		return err
	}
	d, err := cli.LoadDigest(f.data, f.digest, h, cmd.InOrStdin())
	if err != nil {
		return err
	}
	obj.Digest = d.String()
	res, err = verifier.Validate(ctx, d, raw, expectedTime, anchor)
	return reportVerification(cmd, obj, audit.Context{Algorithm: tsp.HashName(d.Algorithm())}, res, err, true)
}

// verifyHash picks the algorithm used to hash --data: the flag, else the
// imprint algorithm of the token, else the configured default.
func verifyHash(cfg *config.Config, flag string, raw []byte) (crypto.Hash, error) {
	if flag != "" {
		return tsp.ParseHashAlgorithm(flag)
	}
	if resp, err := tsp.ParseResponse(raw); err == nil {
		if d, err := resp.Token.Digest(); err == nil {
			return d.Algorithm(), nil
		}
	}
	return cfg.HashAlgorithm(), nil
}
