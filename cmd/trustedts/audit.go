package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/trustedts/internal/audit"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log management",
		Long: `Commands for verifying and reading the audit log.

The audit log records every request sent, response received and token
validated. Each event is chained to the previous one with a SHA-256 hash.

Examples:
  # Verify audit log integrity
  trustedts audit verify --log /var/log/trustedts/audit.jsonl

  # Show last 10 events
  trustedts audit tail --log /var/log/trustedts/audit.jsonl -n 10`,
	}
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditTailCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify audit log integrity",
		Long: `Verify the cryptographic hash chain of an audit log file.

The chain starts with hash_prev="sha256:genesis" for the first event.
Modified, deleted or inserted events break the chain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Verifying audit log: %s\n\n", logFile)

			count, err := audit.VerifyChain(logFile)
			if err != nil {
				_, _ = fmt.Fprintf(out, "VERIFICATION FAILED\n")
				_, _ = fmt.Fprintf(out, "  Valid events: %d\n", count)
				_, _ = fmt.Fprintf(out, "  Error: %s\n", err)
				return fmt.Errorf("audit log verification failed: %w", err)
			}

			_, _ = fmt.Fprintf(out, "VERIFICATION PASSED\n")
			_, _ = fmt.Fprintf(out, "  Total events: %d\n", count)
			_, _ = fmt.Fprintf(out, "  Hash chain: VALID\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&logFile, "log", "", "Path to audit log file (required)")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		logFile  string
		num      int
		showJSON bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			data, err := os.ReadFile(logFile)
			if err != nil {
				return fmt.Errorf("failed to read audit log: %w", err)
			}
			if len(data) == 0 {
				_, _ = fmt.Fprintln(out, "Audit log is empty")
				return nil
			}

			var lines []string
			scanner := bufio.NewScanner(bytes.NewReader(data))
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					lines = append(lines, line)
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read audit log: %w", err)
			}
			if len(lines) > num {
				lines = lines[len(lines)-num:]
			}

			if showJSON {
				_, _ = fmt.Fprintln(out, "[")
				_, _ = fmt.Fprint(out, strings.Join(lines, ",\n"))
				_, _ = fmt.Fprintln(out, "\n]")
				return nil
			}
			for _, line := range lines {
				var event audit.Event
				if err := json.Unmarshal([]byte(line), &event); err != nil {
					_, _ = fmt.Fprintf(out, "  [ERROR] %s\n", err)
					continue
				}
				printEvent(out, &event)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logFile, "log", "", "Path to audit log file (required)")
	_ = cmd.MarkFlagRequired("log")
	cmd.Flags().IntVarP(&num, "num", "n", 10, "Number of events to show")
	cmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	return cmd
}

func printEvent(w io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	_, _ = fmt.Fprintf(w, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	_, _ = fmt.Fprintf(w, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	var obj []string
	for _, kv := range [][2]string{
		{"digest", e.Object.Digest}, {"serial", e.Object.Serial},
		{"path", e.Object.Path}, {"url", e.Object.URL},
	} {
		if kv[1] != "" {
			obj = append(obj, kv[0]+"="+kv[1])
		}
	}
	if e.Object.Type != "" {
		_, _ = fmt.Fprintf(w, "    Object: %s %s\n", e.Object.Type, strings.Join(obj, " "))
	}

	var ctx []string
	for _, kv := range [][2]string{
		{"gen_time", e.Context.GenTime}, {"status", e.Context.Status},
		{"kind", e.Context.Kind}, {"reason", e.Context.Reason},
	} {
		if kv[1] != "" {
			ctx = append(ctx, kv[0]+"="+kv[1])
		}
	}
	if len(ctx) > 0 {
		_, _ = fmt.Fprintf(w, "    Context: %s\n", strings.Join(ctx, " "))
	}
}
