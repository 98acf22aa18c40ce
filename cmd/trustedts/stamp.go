package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/trustedts/internal/audit"
	"github.com/remiblancher/trustedts/internal/cli"
	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/internal/log"
	"github.com/remiblancher/trustedts/internal/transport"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

// maxClockSkew is the distance between the attested time and the local
// receipt time above which stamp warns.
const maxClockSkew = time.Minute

type stampFlags struct {
	requestFlags
	url           string
	ca            string
	intermediates string
}

func newStampCmd(opts *globalOptions) *cobra.Command {
	var f stampFlags
	cmd := &cobra.Command{
		Use:   "stamp",
		Short: "Obtain a timestamp from a TSA",
		Long: `Build a timestamp request, send it to a TSA over HTTP and save the response.

The attested time is read from the response as soon as it arrives. When a
trust anchor is configured (--ca or trust.ca_file) the response is then
validated against the request: message imprint, nonce, policy, signature
and certificate chain.

Examples:
  # Timestamp and validate
  trustedts stamp --data file.txt --url https://freetsa.org/tsr --ca cacert.pem -o file.tsr

  # Use the TSA and trust anchor of a config file
  trustedts --config trustedts.yaml stamp --data file.txt -o file.tsr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStamp(cmd, opts, &f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.url, "url", "", "TSA URL (default from tsa.url)")
	cmd.Flags().StringVar(&f.ca, "ca", "", "Trusted root certificates (PEM, default from trust.ca_file)")
	cmd.Flags().StringVar(&f.intermediates, "intermediates", "", "Extra intermediate certificates (PEM)")
	return cmd
}

func newTransportClient(cfg *config.Config) (*transport.Client, error) {
	if cfg.TSA.URL == "" {
		return nil, fmt.Errorf("no TSA URL: use --url or tsa.url")
	}
	copts := []transport.Option{}
	if cfg.TSA.Timeout > 0 {
		copts = append(copts, transport.WithTimeout(cfg.TSA.Timeout))
	}
	if cfg.TSA.Username != "" {
		pw, err := cfg.TSA.Password()
		if err != nil {
			return nil, err
		}
		copts = append(copts, transport.WithBasicAuth(cfg.TSA.Username, pw))
	}
	for k, v := range cfg.TSA.Headers {
		copts = append(copts, transport.WithHeader(k, v))
	}
	return transport.New(cfg.TSA.URL, copts...)
}

func runStamp(cmd *cobra.Command, opts *globalOptions, f *stampFlags) error {
	ctx := cmd.Context()
	logger := log.GetLogger(ctx)
	out := cmd.OutOrStdout()

	cfg := *opts.cfg
	if f.url != "" {
		cfg.TSA.URL = f.url
	}
	if f.ca != "" {
		cfg.Trust.CAFile = f.ca
	}
	if f.intermediates != "" {
		cfg.Trust.IntermediatesFile = f.intermediates
	}
	anchor, err := cli.LoadTrustAnchor(&cfg)
	if err != nil {
		return err
	}
	client, err := newTransportClient(&cfg)
	if err != nil {
		return err
	}

	req, err := f.build(cmd, &cfg)
	if err != nil {
		return err
	}
	obj := audit.Object{Digest: req.Digest.String(), URL: client.URL(), Path: f.output}
	actx := requestAuditContext(req)
	if err := audit.LogRequest(obj, actx); err != nil {
		return err
	}

	logger.Infof("requesting timestamp for %s from %s", req.Digest, client.URL())
	reply, err := client.Timestamp(ctx, req.Raw)
	if err != nil {
		actx.Reason = err.Error()
		_ = audit.LogResponse(obj, actx, false)
		return err
	}

	// The expected time is taken from the answer at receipt.
	genTime, err := tsp.TimestampFromResponse(reply.Body)
	if err != nil {
		actx.Kind = tsp.KindOf(err).String()
		actx.Reason = err.Error()
		if cli.WriteRejection(out, err) {
			actx.Status = tsp.StatusName(tsp.StatusRejection)
		}
		_ = audit.LogResponse(obj, actx, false)
		return fmt.Errorf("timestamp request failed: %w", err)
	}
	if skew := reply.ReceivedAt.Sub(genTime); skew > maxClockSkew || skew < -maxClockSkew {
		logger.Warnf("TSA time %s differs from local receipt time by %s", genTime.Format(time.RFC3339), skew)
	}

	if err := cli.WriteOutput(f.output, reply.Body, out); err != nil {
		return err
	}
	actx.Status = tsp.StatusName(tsp.StatusGranted)
	actx.GenTime = genTime.Format(time.RFC3339Nano)
	if err := audit.LogResponse(obj, actx, true); err != nil {
		return err
	}

	if anchor == nil {
		logger.Warn("no trust anchor configured, response saved without validation")
		if f.output != "-" {
			_, _ = fmt.Fprintf(out, "Timestamp: %s (not validated)\n", genTime.Format(time.RFC3339Nano))
			_, _ = fmt.Fprintf(out, "Response written to %s\n", f.output)
		}
		return nil
	}

	verifier, err := cli.NewVerifier(&cfg, nil)
	if err != nil {
		return err
	}
	res, err := verifier.ValidateRequest(ctx, req, reply.Body, genTime, anchor)
	return reportVerification(cmd, obj, actx, res, err, f.output != "-")
}

// reportVerification prints and audits the outcome of a validation.
func reportVerification(cmd *cobra.Command, obj audit.Object, actx audit.Context, res *tsp.Result, verr error, verbose bool) error {
	out := cmd.OutOrStdout()
	if verr != nil {
		actx.Kind = tsp.KindOf(verr).String()
		actx.Reason = verr.Error()
		if err := audit.LogVerify(obj, actx, false); err != nil {
			return err
		}
		if verbose {
			cli.WriteFailure(out, verr)
		}
		return fmt.Errorf("timestamp verification failed: %w", verr)
	}

	obj.Serial = res.Token.SerialNumber.Text(16)
	actx.GenTime = res.GenTime.Format(time.RFC3339Nano)
	actx.Signer = res.SignerCert.Subject.String()
	if err := audit.LogVerify(obj, actx, true); err != nil {
		return err
	}
	if verbose {
		cli.WriteResult(out, res)
	}
	return nil
}
