package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/djbf-gateway/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the djbf command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "djbf",
		Short: "Convert and serve DJBF asset containers",
		Long: `djbf reads and writes the DJBF asset container: a 37-byte header followed by
a body that may be FastLZ compressed and AES encrypted with a per-profile key.

It converts whole directories or S3 prefixes, inspects headers, and runs an
HTTP gateway that encodes and decodes on the fly.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")

	root.AddCommand(
		newConvertCommand(opts, config.ModeDecrypt),
		newConvertCommand(opts, config.ModeEncrypt),
		newInspectCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the configuration and builds a logger writing to w.
func (o *rootOptions) load(w io.Writer, formatter logrus.Formatter) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(formatter)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)
	return cfg, logger, nil
}
