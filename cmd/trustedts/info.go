package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/trustedts/internal/cli"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

func newInfoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <response-file>",
		Short: "Display timestamp response information",
		Long: `Display the status and TSTInfo fields of a timestamp response (.tsr).

Nothing is validated: the attested time is shown as the TSA encoded it.
A bare timestamp token (CMS ContentInfo) is accepted as well.

Examples:
  trustedts info file.tsr
  trustedts info - < file.tsr`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			raw, err := cli.ReadDER(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			var parseOpts []tsp.ParseOption
			if opts.cfg.Validation.StrictGenTime {
				parseOpts = append(parseOpts, tsp.WithStrictGenTime())
			}

			resp, err := tsp.ParseResponse(raw, parseOpts...)
			switch {
			case err == nil:
				cli.WriteResponseInfo(out, resp)
				return nil
			case cli.WriteRejection(out, err):
				return nil
			}

			tok, tokErr := tsp.ParseToken(raw, parseOpts...)
			if tokErr != nil {
				return fmt.Errorf("failed to parse timestamp response: %w", err)
			}
			cli.WriteTokenInfo(out, tok)
			return nil
		},
	}
}
