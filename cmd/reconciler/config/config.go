// Package config loads reconciliation profiles for the CLI and the HTTP
// server. Profiles come from a config file, RECONCILER_* environment
// variables and the built-in credcom and minerva presets, in that order.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/matcher"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/internal/reporter"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the whole configuration file
type Config struct {
	Log      logger.Config       `mapstructure:"log"`
	History  string              `mapstructure:"history"`
	Server   ServerConfig        `mapstructure:"server"`
	Jobs     []string            `mapstructure:"jobs"`
	Profiles map[string]*Profile `mapstructure:"profiles"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// SidePair holds one value per ledger
type SidePair struct {
	A string `mapstructure:"a"`
	B string `mapstructure:"b"`
}

// ColumnAliases holds extra header spellings per ledger
type ColumnAliases struct {
	A map[string][]string `mapstructure:"a"`
	B map[string][]string `mapstructure:"b"`
}

// Profile is one reconciliation flavour: which ledgers, how they are
// matched and where the result table lives.
type Profile struct {
	Name             string        `mapstructure:"name"`
	Labels           SidePair      `mapstructure:"labels"`
	Partition        string        `mapstructure:"partition"`
	Scoring          string        `mapstructure:"scoring"`
	Tolerance        string        `mapstructure:"tolerance"`
	MinTokenOverlap  int           `mapstructure:"min_token_overlap"`
	InstallmentGuard bool          `mapstructure:"installment_guard"`
	Workers          int           `mapstructure:"workers"`
	Installments     SidePair      `mapstructure:"installments"`
	Columns          ColumnAliases `mapstructure:"columns"`
	Files            SidePair      `mapstructure:"files"`
	Output           string        `mapstructure:"output"`
}

// Presets returns the built-in profiles
func Presets() map[string]*Profile {
	return map[string]*Profile{
		"credcom": {
			Name:             "credcom",
			Labels:           SidePair{A: "TRIER", B: "CREDCOM"},
			Partition:        string(models.PartitionBranchDate),
			Scoring:          string(matcher.ScoringNameTokens),
			Tolerance:        matcher.DefaultTolerance.String(),
			MinTokenOverlap:  matcher.DefaultMinTokenOverlap,
			InstallmentGuard: true,
			Workers:          1,
			Installments:     SidePair{A: string(normalizer.StyleFraction), B: string(normalizer.StyleNumber)},
			Output:           "conferencia_credcom.csv",
		},
		"minerva": {
			Name:             "minerva",
			Labels:           SidePair{A: "TRIER", B: "MINERVA"},
			Partition:        string(models.PartitionDocument),
			Scoring:          string(matcher.ScoringValueClosest),
			Tolerance:        matcher.DefaultTolerance.String(),
			MinTokenOverlap:  matcher.DefaultMinTokenOverlap,
			InstallmentGuard: true,
			Workers:          1,
			Output:           "conferencia_minerva.csv",
		},
	}
}

// SetDefaults registers the presets and global defaults on v. Every key
// is registered so RECONCILER_* variables can reach it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", logger.InfoLevel)
	v.SetDefault("log.format", logger.TextFormat)
	v.SetDefault("log.output", logger.StderrOutput)
	v.SetDefault("history", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_body_bytes", 32<<20)

	for name, p := range Presets() {
		prefix := "profiles." + name + "."
		v.SetDefault(prefix+"name", p.Name)
		v.SetDefault(prefix+"labels.a", p.Labels.A)
		v.SetDefault(prefix+"labels.b", p.Labels.B)
		v.SetDefault(prefix+"partition", p.Partition)
		v.SetDefault(prefix+"scoring", p.Scoring)
		v.SetDefault(prefix+"tolerance", p.Tolerance)
		v.SetDefault(prefix+"min_token_overlap", p.MinTokenOverlap)
		v.SetDefault(prefix+"installment_guard", p.InstallmentGuard)
		v.SetDefault(prefix+"workers", p.Workers)
		v.SetDefault(prefix+"installments.a", p.Installments.A)
		v.SetDefault(prefix+"installments.b", p.Installments.B)
		v.SetDefault(prefix+"files.a", "")
		v.SetDefault(prefix+"files.b", "")
		v.SetDefault(prefix+"output", p.Output)
	}
}

// Load unmarshals v into a Config and validates every profile
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	for name, p := range cfg.Profiles {
		if p == nil {
			delete(cfg.Profiles, name)
			continue
		}
		if p.Name == "" {
			p.Name = name
		}
		if _, err := p.MatchingConfig(); err != nil {
			return nil, err
		}
	}
	for _, job := range cfg.Jobs {
		if _, ok := cfg.Profiles[job]; !ok {
			return nil, errors.ConfigurationError(errors.CodeConfigConflict, "jobs", job,
				fmt.Errorf("job %q names no profile", job)).
				WithSuggestion("define the profile or remove it from jobs")
		}
	}
	return &cfg, nil
}

// Profile returns the named profile
func (c *Config) Profile(name string) (*Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "profile", name,
			fmt.Errorf("unknown profile %q", name)).
			WithSuggestion("available profiles: " + strings.Join(c.ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames returns the profile names in sorted order
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobNames lists the profiles run by reconcile --all
func (c *Config) JobNames() []string {
	if len(c.Jobs) > 0 {
		return c.Jobs
	}
	return c.ProfileNames()
}

// Templates builds one request template per profile for the HTTP server
func (c *Config) Templates() (map[string]*reconciler.ReconciliationRequest, error) {
	templates := make(map[string]*reconciler.ReconciliationRequest, len(c.Profiles))
	for name, p := range c.Profiles {
		req, err := p.Request()
		if err != nil {
			return nil, err
		}
		templates[name] = req
	}
	return templates, nil
}

// MatchingConfig converts the profile's matching settings. Empty fields
// fall back to the defaults of the profile's partition mode.
func (p *Profile) MatchingConfig() (*matcher.MatchingConfig, error) {
	mc := matcher.DefaultMatchingConfig()
	if models.PartitionMode(p.Partition) == models.PartitionDocument {
		mc = matcher.DocumentMatchingConfig()
	}
	if p.Partition != "" {
		mc.Partition = models.PartitionMode(p.Partition)
	}
	if p.Scoring != "" {
		mc.Scoring = matcher.ScoringMode(p.Scoring)
	}
	if p.Tolerance != "" {
		tol, err := decimal.NewFromString(strings.Replace(p.Tolerance, ",", ".", 1))
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, p.Name+".tolerance", p.Tolerance, err)
		}
		mc.Tolerance = tol
	}
	if p.MinTokenOverlap != 0 {
		mc.MinTokenOverlap = p.MinTokenOverlap
	}
	mc.InstallmentGuard = p.InstallmentGuard
	if p.Workers != 0 {
		mc.Workers = p.Workers
	}

	if err := mc.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, p.Name, mc.String(), err).
			WithSuggestion("check partition, scoring and tolerance of the profile")
	}
	return mc, nil
}

// Request builds the reconciliation request described by the profile
func (p *Profile) Request() (*reconciler.ReconciliationRequest, error) {
	mc, err := p.MatchingConfig()
	if err != nil {
		return nil, err
	}
	return &reconciler.ReconciliationRequest{
		Profile:  p.Name,
		Labels:   models.SideLabels{A: p.Labels.A, B: p.Labels.B},
		Matching: mc,
		A: reconciler.LedgerSource{
			Name:         strings.ToLower(p.Labels.A),
			Path:         p.Files.A,
			Aliases:      p.Columns.A,
			Installments: normalizer.InstallmentStyle(p.Installments.A),
		},
		B: reconciler.LedgerSource{
			Name:         strings.ToLower(p.Labels.B),
			Path:         p.Files.B,
			Aliases:      p.Columns.B,
			Installments: normalizer.InstallmentStyle(p.Installments.B),
		},
		Output: p.Output,
	}, nil
}

// CreateReportConfig creates a report configuration for the named format
func CreateReportConfig(format string, colors bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(format)
	config.UseColors = colors && config.Format == reporter.FormatConsole

	switch config.Format {
	case reporter.FormatJSON:
		config.IncludeRows = true
	case reporter.FormatCSV:
		config.CSVDelimiter = ';'
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", format, err).
			WithSuggestion("use one of the formats console, json or csv")
	}
	return config, nil
}
