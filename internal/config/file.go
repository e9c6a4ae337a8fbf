package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the run configuration. JSON files are accepted as well, since JSON
// is valid YAML.
type File struct {
	// QueriesDir holds the SQL files named by query_file and friends.
	// Relative paths resolve against the config file's directory.
	QueriesDir string `yaml:"queries_dir"`

	// SourceEnv and TargetEnv are the environment prefixes of the two stores.
	SourceEnv string `yaml:"source_env"`
	TargetEnv string `yaml:"target_env"`

	Pipelines   map[string]Pipeline `yaml:"pipelines"`
	Attachments Attachments         `yaml:"attachments"`
	Metrics     Metrics             `yaml:"metrics"`
}

// Pipeline is the per-pipeline block. Empty fields fall back to the
// pipeline's built-in defaults.
type Pipeline struct {
	QueryFile         string   `yaml:"query_file"`
	Table             string   `yaml:"table"`
	Schema            string   `yaml:"schema"`
	UniqueColumns     []string `yaml:"unique_columns"`
	MissingDatesQuery string   `yaml:"missing_dates_query"`
	Load              string   `yaml:"load"`
	BatchSize         int      `yaml:"batch_size"`
}

// Attachments configures the invoice XML export.
type Attachments struct {
	PendingQuery  string  `yaml:"pending_query"`
	FetchQuery    string  `yaml:"fetch_query"`
	Sink          string  `yaml:"sink"` // file (default) or s3
	Dir           string  `yaml:"dir"`
	Extension     string  `yaml:"extension"`
	Workers       int     `yaml:"workers"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	S3            S3      `yaml:"s3"`
}

// S3 addresses an S3-compatible bucket. Credentials come from the
// environment (S3_ACCESS_KEY, S3_SECRET_KEY) when left empty here.
type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string   `yaml:"backend"` // none, pushgateway, datadog
	Job            string   `yaml:"job"`
	PushgatewayURL string   `yaml:"pushgateway_url"`
	Tags           []string `yaml:"tags"`
}

// LoadFile reads and decodes path. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	defer f.Close()

	var cfg File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return File{}, fmt.Errorf("%w: decode %s: %v", ErrConfig, path, err)
	}

	if cfg.QueriesDir == "" {
		cfg.QueriesDir = "queries"
	}
	if !filepath.IsAbs(cfg.QueriesDir) {
		cfg.QueriesDir = filepath.Join(filepath.Dir(path), cfg.QueriesDir)
	}
	if cfg.SourceEnv == "" {
		cfg.SourceEnv = SourcePrefix
	}
	if cfg.TargetEnv == "" {
		cfg.TargetEnv = TargetPrefix
	}
	return cfg, nil
}

// Pipeline returns the named block.
func (f File) Pipeline(name string) (Pipeline, error) {
	p, ok := f.Pipelines[name]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: no configuration for pipeline %q", ErrConfig, name)
	}
	return p, nil
}

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path.
type Issue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// ValidateFile checks f against the known pipeline names and load modes and
// that every referenced query file exists. Findings are sorted by path.
func ValidateFile(f File, known []string, modes []string) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	isKnown := make(map[string]bool, len(known))
	for _, k := range known {
		isKnown[k] = true
	}
	queries := Queries{Dir: f.QueriesDir}

	if len(f.Pipelines) == 0 {
		add(SeverityWarning, "pipelines", "no pipelines configured")
	}
	for name, p := range f.Pipelines {
		base := "pipelines." + name
		if !isKnown[name] {
			add(SeverityError, base, "unknown pipeline (known: %s)", strings.Join(known, ", "))
			continue
		}
		if p.QueryFile == "" {
			add(SeverityError, base+".query_file", "required")
		} else if !queries.Exists(p.QueryFile) {
			add(SeverityError, base+".query_file", "file %q not found in %s", p.QueryFile, f.QueriesDir)
		}
		if p.MissingDatesQuery != "" && !queries.Exists(p.MissingDatesQuery) {
			add(SeverityError, base+".missing_dates_query", "file %q not found in %s", p.MissingDatesQuery, f.QueriesDir)
		}
		if p.Load != "" && !contains(modes, p.Load) {
			add(SeverityError, base+".load", "unknown load mode %q (known: %s)", p.Load, strings.Join(modes, ", "))
		}
		if p.Load == "upsert_by_unit" && p.MissingDatesQuery == "" {
			add(SeverityWarning, base+".missing_dates_query", "incremental pipeline without discovery query will never process a unit")
		}
		if p.BatchSize < 0 {
			add(SeverityError, base+".batch_size", "must not be negative")
		}
		for i, c := range p.UniqueColumns {
			if strings.TrimSpace(c) == "" {
				add(SeverityError, fmt.Sprintf("%s.unique_columns[%d]", base, i), "empty column name")
			}
		}
	}

	a := f.Attachments
	if a.PendingQuery != "" || a.FetchQuery != "" {
		if a.PendingQuery == "" || !queries.Exists(a.PendingQuery) {
			add(SeverityError, "attachments.pending_query", "query file %q not found", a.PendingQuery)
		}
		if a.FetchQuery == "" || !queries.Exists(a.FetchQuery) {
			add(SeverityError, "attachments.fetch_query", "query file %q not found", a.FetchQuery)
		}
		switch a.Sink {
		case "", "file":
			if a.Dir == "" {
				add(SeverityError, "attachments.dir", "required for the file sink")
			}
		case "s3":
			if a.S3.Endpoint == "" || a.S3.Bucket == "" {
				add(SeverityError, "attachments.s3", "endpoint and bucket are required")
			}
		default:
			add(SeverityError, "attachments.sink", "unknown sink %q (known: file, s3)", a.Sink)
		}
		if a.Workers < 0 {
			add(SeverityError, "attachments.workers", "must not be negative")
		}
		if a.RatePerSecond < 0 {
			add(SeverityError, "attachments.rate_per_second", "must not be negative")
		}
	}

	switch f.Metrics.Backend {
	case "", "none", "pushgateway", "datadog":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q", f.Metrics.Backend)
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
