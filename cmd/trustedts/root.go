package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/remiblancher/trustedts/internal/audit"
	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/internal/log"
)

// Environment variables consulted when the matching flag is not set.
const (
	envConfig   = "TRUSTEDTS_CONFIG"
	envAuditLog = "TRUSTEDTS_AUDIT_LOG"
)

// globalOptions holds the persistent flags and the state derived from
// them before any subcommand runs.
type globalOptions struct {
	configPath string
	auditLog   string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "trustedts",
		Short: "RFC 3161 trusted timestamp client and validator",
		Long: `trustedts obtains trusted timestamps from a Time-Stamp Authority (RFC 3161)
and validates them against the original data, the time recorded when the
response arrived and a trust anchor for the TSA certificate.

Examples:
  # Timestamp a file and validate the answer against the TSA root
  trustedts stamp --data contract.pdf --url https://freetsa.org/tsr --ca cacert.pem -o contract.tsr

  # Build a request offline
  trustedts request --data contract.pdf --hash sha512 -o contract.tsq

  # Show what a response attests
  trustedts info contract.tsr

  # Validate later, with the time recorded at receipt
  trustedts verify contract.tsr --data contract.pdf --time 2024-05-01T12:00:00Z --ca cacert.pem`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Configuration file (YAML, or set "+envConfig+")")
	pf.StringVar(&opts.auditLog, "audit-log", "", "Path to audit log file (or set "+envAuditLog+")")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(newRequestCmd(opts))
	cmd.AddCommand(newStampCmd(opts))
	cmd.AddCommand(newInfoCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// setup loads the configuration, applies flag overrides, installs the
// logger in the command context and opens the audit log.
func (o *globalOptions) setup(cmd *cobra.Command) error {
	path := o.configPath
	if path == "" {
		path = os.Getenv(envConfig)
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.auditLog != "" {
		cfg.Audit.File = o.auditLog
	} else if env := os.Getenv(envAuditLog); env != "" {
		cfg.Audit.File = env
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cmd, cfg.Logging)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	cmd.SetContext(log.WithLogger(cmd.Context(), logger))

	if err := audit.InitFile(cfg.Audit.File); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	if audit.Enabled() {
		logger.Debugf("audit log: %s", cfg.Audit.File)
	}
	return nil
}

func newLogger(cmd *cobra.Command, lc config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	if lc.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
