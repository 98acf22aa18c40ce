package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/trustedts/internal/audit"
	"github.com/remiblancher/trustedts/internal/cli"
	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

// requestFlags are shared by request and stamp.
type requestFlags struct {
	data      string
	digest    string
	hash      string
	nonce     bool
	policy    string
	noCertReq bool
	output    string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.data, "data", "", "File to timestamp (- for stdin)")
	cmd.Flags().StringVar(&f.digest, "digest", "", "Precomputed digest (alg:hex, or hex of --hash)")
	cmd.Flags().StringVar(&f.hash, "hash", "", "Hash algorithm (sha256, sha384, sha512, sha3-256, ...; default from config)")
	cmd.Flags().BoolVar(&f.nonce, "nonce", true, "Include a random nonce (default from config)")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Requested TSA policy OID")
	cmd.Flags().BoolVar(&f.noCertReq, "no-cert-req", false, "Do not ask the TSA to embed its certificate")
	cmd.Flags().StringVarP(&f.output, "out", "o", "", "Output file (- for stdout, required)")
	_ = cmd.MarkFlagRequired("out")
}

// build computes the digest and encodes the request. Flags override the
// tsa section of the configuration.
func (f *requestFlags) build(cmd *cobra.Command, cfg *config.Config) (*tsp.Request, error) {
	h := cfg.HashAlgorithm()
	if f.hash != "" {
		var err error
		if h, err = tsp.ParseHashAlgorithm(f.hash); err != nil {
			return nil, err
		}
	}
	d, err := cli.LoadDigest(f.data, f.digest, h, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}

	tsaCfg := *cfg
	if cmd.Flags().Changed("nonce") {
		tsaCfg.TSA.Nonce = f.nonce
	}
	if f.policy != "" {
		tsaCfg.TSA.Policy = f.policy
	}
	opts, err := cli.RequestOptions(&tsaCfg)
	if err != nil {
		return nil, err
	}
	if f.noCertReq {
		opts = append(opts, tsp.WithoutCertReq())
	}

	req, err := tsp.BuildRequest(d, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}

func requestAuditContext(req *tsp.Request) audit.Context {
	ctx := audit.Context{Algorithm: tsp.HashName(req.HashAlgorithm())}
	if req.Nonce != nil {
		ctx.Nonce = req.Nonce.Text(16)
	}
	if len(req.Policy) > 0 {
		ctx.Policy = req.Policy.String()
	}
	return ctx
}

func newRequestCmd(opts *globalOptions) *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create a timestamp request",
		Long: `Create an RFC 3161 timestamp request (.tsq) for a file or a digest.

The request can be sent to any TSA, e.g. with curl:
  curl -H 'Content-Type: application/timestamp-query' --data-binary @file.tsq https://freetsa.org/tsr

Examples:
  # Create request with SHA-256 hash
  trustedts request --data file.txt -o request.tsq

  # Create request for a precomputed digest, without nonce
  trustedts request --digest sha512:0f1e... --nonce=false -o request.tsq`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.build(cmd, opts.cfg)
			if err != nil {
				return err
			}
			if err := cli.WriteOutput(f.output, req.Raw, cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := audit.LogRequest(audit.Object{Digest: req.Digest.String(), Path: f.output}, requestAuditContext(req)); err != nil {
				return err
			}

			if f.output != "-" {
				cli.WriteRequestInfo(cmd.OutOrStdout(), req)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nTimestamp request written to %s\n", f.output)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
