// Package converter batch converts assets between DJBF envelopes and plain
// payloads.
package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/djbf-gateway/internal/audit"
	"github.com/kenneth/djbf-gateway/internal/config"
	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/metrics"
)

// Output extensions per mode.
const (
	DecodedExt = ".bin"
	EncodedExt = ".djb"
)

// File outcomes.
const (
	ResultConverted = "converted"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Options describes one batch run.
type Options struct {
	Mode    string
	Pattern string
	// Workers bounds concurrent conversions. Zero means one per CPU.
	Workers int
	// Encode holds the profile for both modes and the envelope format for
	// encrypt runs.
	Encode config.EncodeConfig
	// Rules optionally override Encode per file name.
	Rules *config.RuleSet
}

// FileResult is the outcome of converting a single file.
type FileResult struct {
	Name     string
	Output   string
	Result   string
	Profile  string
	Version  uint16
	Flags    djbf.Flags
	BytesIn  int
	BytesOut int
	Duration time.Duration
	Err      error
}

// Report summarizes a batch run. Results are ordered by input name.
type Report struct {
	Processed int
	Failed    int
	Skipped   int
	Results   []FileResult
}

// Converter runs batch conversions with a shared codec.
type Converter struct {
	codec   *djbf.Codec
	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithMetrics records per-file codec and converter metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Converter) { c.metrics = m }
}

// WithAudit records an audit event per converted file.
func WithAudit(a audit.Logger) Option {
	return func(c *Converter) { c.audit = a }
}

// New creates a converter.
func New(codec *djbf.Codec, logger *logrus.Logger, opts ...Option) *Converter {
	c := &Converter{codec: codec, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type job struct {
	index int
	name  string
}

// Run converts every file of src matching the pattern and writes the output
// to dst under the name with its extension replaced. A failing file is
// recorded and does not stop the run. Cancelling ctx stops handing out new
// files; the report then covers the files already started and ctx.Err() is
// returned with it.
func (c *Converter) Run(ctx context.Context, src, dst Store, opts Options) (*Report, error) {
	if opts.Mode != config.ModeDecrypt && opts.Mode != config.ModeEncrypt {
		return nil, fmt.Errorf("%w: unknown mode %q", djbf.ErrInvalidOptions, opts.Mode)
	}

	names, err := src.List(ctx, opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, len(names)))

	source := storeName(src)
	results := make([]*FileResult, len(names))
	jobs := make(chan job)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := c.convertFile(ctx, src, dst, source, j.name, opts)
				results[j.index] = &res
			}
		}()
	}

feed:
	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{index: i, name: name}:
		}
	}
	close(jobs)
	wg.Wait()

	report := &Report{Results: make([]FileResult, 0, len(names))}
	for _, res := range results {
		if res == nil {
			continue
		}
		switch res.Result {
		case ResultConverted:
			report.Processed++
		case ResultFailed:
			report.Failed++
		case ResultSkipped:
			report.Skipped++
		}
		report.Results = append(report.Results, *res)
	}

	return report, ctx.Err()
}

func (c *Converter) convertFile(ctx context.Context, src, dst Store, source, name string, opts Options) FileResult {
	start := time.Now()
	enc := opts.Rules.Resolve(name, opts.Encode)
	res := FileResult{Name: name, Profile: enc.Profile}

	data, err := src.Read(ctx, name)
	if err != nil {
		res.Err = fmt.Errorf("failed to read %s: %w", name, err)
		return c.finish(res, source, opts.Mode, start)
	}
	res.BytesIn = len(data)

	var out []byte
	if opts.Mode == config.ModeDecrypt {
		res.Output = ChangeExt(name, DecodedExt)
		out, err = c.decode(data, enc.Profile, &res)
		if errors.Is(err, djbf.ErrInvalidHeader) {
			res.Result = ResultSkipped
			res.Err = err
			return c.finish(res, source, opts.Mode, start)
		}
	} else {
		res.Output = ChangeExt(name, EncodedExt)
		out, err = c.encode(data, enc, &res)
	}
	if err != nil {
		res.Err = err
		return c.finish(res, source, opts.Mode, start)
	}

	if err := dst.Write(ctx, res.Output, out); err != nil {
		res.Err = fmt.Errorf("failed to write %s: %w", res.Output, err)
		return c.finish(res, source, opts.Mode, start)
	}
	res.BytesOut = len(out)
	res.Result = ResultConverted
	return c.finish(res, source, opts.Mode, start)
}

func (c *Converter) decode(data []byte, profile string, res *FileResult) ([]byte, error) {
	out, h, err := c.codec.Decode(data, profile)
	if h != nil {
		res.Version = h.Version
		res.Flags = h.Flags
		if err == nil && h.Flags.Compressed() && c.metrics != nil {
			c.metrics.RecordCompressionRatio(len(data)-djbf.HeaderSize+len(h.Suffix), len(out))
		}
	}
	return out, err
}

func (c *Converter) encode(data []byte, enc config.EncodeConfig, res *FileResult) ([]byte, error) {
	opts, err := enc.Options()
	if err != nil {
		return nil, err
	}
	res.Version = opts.Version
	res.Flags = djbf.NormalizeFlags(opts.Version, opts.Flags)

	out, err := c.codec.Encode(data, opts)
	if err == nil && res.Flags.Compressed() && c.metrics != nil {
		c.metrics.RecordCompressionRatio(len(out)-djbf.HeaderSize, len(data))
	}
	return out, err
}

// finish settles the result and reports it to the log, metrics and audit.
func (c *Converter) finish(res FileResult, source, mode string, start time.Time) FileResult {
	res.Duration = time.Since(start)
	if res.Result == "" {
		res.Result = ResultFailed
	}

	fields := logrus.Fields{
		"file":        res.Name,
		"mode":        mode,
		"profile":     res.Profile,
		"flags":       res.Flags.String(),
		"bytes_in":    res.BytesIn,
		"bytes_out":   res.BytesOut,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Version != 0 {
		fields["version"] = fmt.Sprintf("0x%04X", res.Version)
	}

	switch res.Result {
	case ResultConverted:
		c.logger.WithFields(fields).WithField("output", res.Output).Info("Converted file")
	case ResultSkipped:
		c.logger.WithFields(fields).WithError(res.Err).Info("Skipping file without DJBF header")
	default:
		c.logger.WithFields(fields).WithError(res.Err).Error("Failed to convert file")
	}

	operation := "decode"
	if mode == config.ModeEncrypt {
		operation = "encode"
	}

	if c.metrics != nil {
		c.metrics.RecordConverterFile(mode, res.Result)
		switch res.Result {
		case ResultConverted:
			c.metrics.RecordCodecOperation(operation, res.Duration, res.BytesIn, res.BytesOut)
		case ResultFailed:
			c.metrics.RecordCodecError(operation, djbf.Kind(res.Err))
		}
	}

	if c.audit != nil && res.Result != ResultSkipped {
		rec := audit.CodecRecord{
			Source:   source,
			Asset:    res.Name,
			Profile:  res.Profile,
			Version:  res.Version,
			Flags:    res.Flags,
			BytesIn:  res.BytesIn,
			BytesOut: res.BytesOut,
		}
		if mode == config.ModeEncrypt {
			c.audit.LogEncode(rec, res.Err, res.Duration)
		} else {
			c.audit.LogDecode(rec, res.Err, res.Duration)
		}
	}

	return res
}

func storeName(s Store) string {
	if named, ok := s.(fmt.Stringer); ok {
		return named.String()
	}
	return ""
}

// ChangeExt replaces the extension of name, or appends ext when there is none.
func ChangeExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
