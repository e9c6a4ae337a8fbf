package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"erpsync/internal/config"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/metrics/datadog"
	"erpsync/internal/metrics/prompush"
	"erpsync/internal/pipeline"
	"erpsync/internal/storage"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath     string
	EnvFiles       []string
	LogLevel       string
	LogFormat      string
	Output         string // table | json
	MetricsBackend string
	PushgatewayURL string
}

var outputFormats = []string{"table", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "erpsync",
		Short: "Sync ERP records into the reporting database",
		Long: `erpsync extracts sales, invoices, payables, stock movements and the
product catalog from the ERP database and loads them into the reporting
database, then exports pending invoice XML files.

Connection settings come from the environment (UNICO_* for the source,
MERCADO_* for the target by default); a .env file is loaded if present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range outputFormats {
				if f == opts.Output {
					return nil
				}
			}
			return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, outputFormats)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "erpsync.yaml", "run configuration file (YAML or JSON)")
	f.StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files to load; existing variables win")
	f.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&opts.LogFormat, "log-format", "text", "log format (text, json, color)")
	f.StringVarP(&opts.Output, "output", "o", "table", "result format (table, json)")
	f.StringVar(&opts.MetricsBackend, "metrics-backend", "", "metrics backend (none, pushgateway, datadog); overrides config and METRICS_BACKEND")
	f.StringVar(&opts.PushgatewayURL, "pushgateway-url", "", "Pushgateway base URL; overrides config and PUSHGATEWAY_URL")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newRunAllCommand(opts))
	cmd.AddCommand(newAttachmentsCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newProbeCommand(opts))
	return cmd
}

// app is the per-invocation state shared by the subcommands.
type app struct {
	opts *rootOptions
	cfg  config.File
	log  *log.Logger
	out  io.Writer
}

// setup loads the environment and config file and rejects a config with
// validation errors. Warnings are logged.
func (o *rootOptions) setup(cmd *cobra.Command) (*app, error) {
	a, err := o.load(cmd)
	if err != nil {
		return nil, err
	}

	var errs []string
	for _, i := range config.ValidateFile(a.cfg, pipeline.Names(), loadModes) {
		if i.Severity == config.SeverityError {
			errs = append(errs, i.Path+": "+i.Message)
			continue
		}
		a.log.WithField("path", i.Path).Warn(i.Message)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", config.ErrConfig, o.ConfigPath, strings.Join(errs, "; "))
	}
	return a, nil
}

// load is setup without validation, for the validate command.
func (o *rootOptions) load(cmd *cobra.Command) (*app, error) {
	logger, err := logging.New(cmd.ErrOrStderr(), logging.Config{Level: o.LogLevel, Format: o.LogFormat})
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(o.EnvFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	return &app{opts: o, cfg: cfg, log: logger, out: cmd.OutOrStdout()}, nil
}

// open connects to the store described by the environment prefix.
func (a *app) open(ctx context.Context, prefix string) (storage.Repository, error) {
	db, err := config.DBFromEnv(prefix)
	if err != nil {
		return nil, err
	}
	sc, err := db.Storage()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prefix, err)
	}
	repo, err := storage.New(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", db.Redacted(), err)
	}
	a.log.WithFields(log.Fields{"env": prefix, "db": db.Redacted()}).Debug("connected")
	return repo, nil
}

// openBoth opens the source and target stores; close releases both.
func (a *app) openBoth(ctx context.Context) (source, target storage.Repository, closeAll func(), err error) {
	source, err = a.open(ctx, a.cfg.SourceEnv)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err = a.open(ctx, a.cfg.TargetEnv)
	if err != nil {
		source.Close()
		return nil, nil, nil, err
	}
	return source, target, func() { source.Close(); target.Close() }, nil
}

// settings resolves the named pipeline's config block and query files. A
// pipeline without a schema writes to the target's <PREFIX>_SCHEMA, if set.
func (a *app) settings(name string) (pipeline.Settings, error) {
	p, err := a.cfg.Pipeline(name)
	if err != nil {
		return pipeline.Settings{}, err
	}
	if p.Schema == "" {
		target, err := config.DBFromEnv(a.cfg.TargetEnv)
		if err != nil {
			return pipeline.Settings{}, err
		}
		p.Schema = target.Schema
	}
	q := config.Queries{Dir: a.cfg.QueriesDir}
	query, err := q.Load(p.QueryFile)
	if err != nil {
		return pipeline.Settings{}, fmt.Errorf("pipeline %s: %w", name, err)
	}
	missing, err := q.LoadOptional(p.MissingDatesQuery)
	if err != nil {
		return pipeline.Settings{}, fmt.Errorf("pipeline %s: %w", name, err)
	}
	mode, err := pipeline.ParseMode(p.Load)
	if err != nil {
		return pipeline.Settings{}, fmt.Errorf("%w: pipeline %s: %v", config.ErrConfig, name, err)
	}
	return pipeline.Settings{
		Query:             query,
		MissingUnitsQuery: missing,
		Table:             p.Table,
		Schema:            p.Schema,
		UniqueKeys:        p.UniqueColumns,
		Mode:              mode,
		BatchSize:         p.BatchSize,
	}, nil
}

// startMetrics installs the configured metrics backend. The returned func
// flushes and releases it. Backend failures only disable metrics.
//
// Precedence: flag, then config file, then environment.
func (a *app) startMetrics(ctx context.Context) func() {
	mc := a.cfg.Metrics
	backend := firstNonEmpty(a.opts.MetricsBackend, mc.Backend, os.Getenv("METRICS_BACKEND"))
	job := firstNonEmpty(mc.Job, "erpsync")
	l := a.log.WithField("backend", backend)

	switch backend {
	case "pushgateway":
		url := firstNonEmpty(a.opts.PushgatewayURL, mc.PushgatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err := prompush.New(url, job)
		if err != nil {
			l.WithError(err).Warn("metrics disabled")
			return func() {}
		}
		metrics.SetBackend(b)
		l.WithFields(log.Fields{"url": url, "job": job}).Debug("metrics enabled")
		return func() {
			if err := metrics.Flush(); err != nil {
				l.WithError(err).Warn("metrics push failed")
			}
			metrics.SetBackend(nil)
		}

	case "datadog":
		tags := append(append([]string(nil), mc.Tags...), datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)
		b, err := datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: tags, FlushEvery: 60 * time.Second})
		if err != nil {
			l.WithError(err).Warn("metrics disabled")
			return func() {}
		}
		metrics.SetBackend(b)
		l.WithFields(log.Fields{"job": job, "tags": tags}).Debug("metrics enabled")
		return func() {
			if err := b.Close(); err != nil {
				l.WithError(err).Warn("datadog flush failed")
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		return func() {}

	default:
		l.Warn("unknown metrics backend, metrics disabled")
		return func() {}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
