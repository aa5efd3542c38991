package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/djbf-gateway/internal/audit"
	"github.com/kenneth/djbf-gateway/internal/config"
	"github.com/kenneth/djbf-gateway/internal/converter"
	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/metrics"
	"github.com/kenneth/djbf-gateway/internal/s3"
)

// convertFlags are the command line overrides of the converter section.
type convertFlags struct {
	profile     string
	version     string
	flags       string
	pattern     string
	dir         string
	out         string
	workers     int
	bucket      string
	prefix      string
	rules       []string
	metricsFile string
}

func newConvertCommand(root *rootOptions, mode string) *cobra.Command {
	f := &convertFlags{}

	short := "Decode every DJBF file in a directory or bucket prefix"
	if mode == config.ModeEncrypt {
		short = "Encode every file in a directory or bucket prefix as DJBF"
	}

	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, root, f, mode)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.profile, "key", "k", "", "Key profile name, alias or ID (kakao, qq, 1, 2)")
	flags.StringVar(&f.version, "version", "", "Envelope version for encrypt: 0-3 or 0x0100-0x0103")
	flags.StringVar(&f.flags, "flags", "", `Envelope flags for encrypt, e.g. "AES_ECB, FastLZ"`)
	flags.StringVarP(&f.pattern, "pattern", "p", "", "Glob selecting the files to convert")
	flags.StringVarP(&f.dir, "dir", "d", "", "Source directory")
	flags.StringVarP(&f.out, "out", "o", "", "Output directory (default: next to the source)")
	flags.IntVarP(&f.workers, "workers", "w", 0, "Concurrent conversions (default: one per CPU)")
	flags.StringVar(&f.bucket, "bucket", "", "Read from this S3 bucket instead of a directory")
	flags.StringVar(&f.prefix, "prefix", "", "Key prefix inside --bucket")
	flags.StringSliceVar(&f.rules, "rules", nil, "Glob patterns of rule files overriding options per file")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write run metrics to this node_exporter textfile")
	return cmd
}

// apply copies the flags that were set onto the converter configuration.
func (f *convertFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	c := &cfg.Converter
	if changed("key") {
		c.Profile = f.profile
	}
	if changed("version") {
		c.Version = f.version
	}
	if changed("flags") {
		c.Flags = f.flags
	}
	if changed("pattern") {
		c.SearchPattern = f.pattern
	}
	if changed("dir") {
		c.SourceDir = f.dir
	}
	if changed("out") {
		c.OutputDir = f.out
	}
	if changed("workers") {
		c.Workers = f.workers
	}
	if changed("bucket") {
		c.Bucket = f.bucket
	}
	if changed("prefix") {
		c.Prefix = f.prefix
	}
	if changed("rules") {
		c.RulesFiles = f.rules
	}
	if changed("metrics-file") {
		cfg.Metrics.Textfile = f.metricsFile
	}
}

func runConvert(cmd *cobra.Command, root *rootOptions, f *convertFlags, mode string) error {
	cfg, logger, err := root.load(cmd.ErrOrStderr(), &logrus.TextFormatter{FullTimestamp: true})
	if err != nil {
		return err
	}
	f.apply(cmd, cfg)
	cfg.Converter.Mode = mode
	if err := cfg.Converter.Validate(); err != nil {
		return err
	}
	cc := cfg.Converter

	keys, err := config.LoadKeychain(cfg.Keychain.ProfilesFile)
	if err != nil {
		return err
	}
	codec := djbf.New(keys, djbf.WithLogger(logger))

	rules := config.NewRuleSet()
	if len(cc.RulesFiles) > 0 {
		if err := rules.Load(cc.RulesFiles); err != nil {
			return err
		}
		logger.WithField("rules", rules.Len()).Info("Loaded conversion rules")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, dst, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	opts := []converter.Option{converter.WithMetrics(m)}
	if cfg.Audit.Enabled {
		opts = append(opts, converter.WithAudit(audit.NewLogger(cfg.Audit.MaxEvents, nil)))
	}
	conv := converter.New(codec, logger, opts...)

	logger.WithFields(logrus.Fields{
		"mode":    mode,
		"source":  fmt.Sprint(src),
		"target":  fmt.Sprint(dst),
		"pattern": cc.SearchPattern,
		"profile": cc.Profile,
	}).Info("Starting conversion")

	report, runErr := conv.Run(ctx, src, dst, converter.Options{
		Mode:    mode,
		Pattern: cc.SearchPattern,
		Workers: cc.Workers,
		Encode:  cc.EncodeConfig,
		Rules:   rules,
	})

	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).WithField("path", cfg.Metrics.Textfile).Error("Failed to write metrics textfile")
		}
	}

	if report != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%d converted, %d failed, %d skipped\n", report.Processed, report.Failed, report.Skipped)
	}
	if runErr != nil {
		return runErr
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, len(report.Results))
	}
	return nil
}

// openStores returns the source and target of a run. Without an output
// directory results are written next to their source.
func openStores(ctx context.Context, cfg *config.Config) (converter.Store, converter.Store, error) {
	cc := cfg.Converter

	var src converter.Store
	if cc.Bucket != "" {
		client, err := s3.NewClient(ctx, &cfg.Backend)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		src = s3.NewBucketStore(client, cc.Bucket, cc.Prefix)
	} else {
		src = converter.NewDirStore(cc.SourceDir)
	}

	if cc.OutputDir != "" {
		return src, converter.NewDirStore(cc.OutputDir), nil
	}
	return src, src, nil
}
