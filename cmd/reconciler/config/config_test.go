package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/drogcidadeinfo/convenios-2/internal/matcher"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/internal/reporter"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/spf13/viper"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if yaml != "" {
		path := filepath.Join(t.TempDir(), "convenios.yaml")
		if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig failed: %v", err)
		}
	}
	return v
}

func TestLoad_Presets(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if names := cfg.ProfileNames(); !reflect.DeepEqual(names, []string{"credcom", "minerva"}) {
		t.Fatalf("expected both presets, got %v", names)
	}
	if cfg.Server.Addr != ":8080" || cfg.Log.Level != "info" {
		t.Errorf("unexpected global defaults %+v %+v", cfg.Server, cfg.Log)
	}

	tests := []struct {
		profile   string
		labels    models.SideLabels
		partition models.PartitionMode
		scoring   matcher.ScoringMode
		styleA    normalizer.InstallmentStyle
		styleB    normalizer.InstallmentStyle
	}{
		{"credcom", models.SideLabels{A: "TRIER", B: "CREDCOM"}, models.PartitionBranchDate, matcher.ScoringNameTokens, normalizer.StyleFraction, normalizer.StyleNumber},
		{"minerva", models.SideLabels{A: "TRIER", B: "MINERVA"}, models.PartitionDocument, matcher.ScoringValueClosest, normalizer.StyleNone, normalizer.StyleNone},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			p, err := cfg.Profile(tt.profile)
			if err != nil {
				t.Fatalf("Profile failed: %v", err)
			}
			req, err := p.Request()
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			if req.Profile != tt.profile || req.Labels != tt.labels {
				t.Errorf("unexpected identity %q %+v", req.Profile, req.Labels)
			}
			if req.Matching.Partition != tt.partition || req.Matching.Scoring != tt.scoring {
				t.Errorf("unexpected matching %s", req.Matching)
			}
			if !req.Matching.Tolerance.Equal(matcher.DefaultTolerance) {
				t.Errorf("expected default tolerance, got %s", req.Matching.Tolerance)
			}
			if req.A.Installments != tt.styleA || req.B.Installments != tt.styleB {
				t.Errorf("unexpected installment styles %q %q", req.A.Installments, req.B.Installments)
			}
			if req.Output != "conferencia_"+tt.profile+".csv" {
				t.Errorf("unexpected output %q", req.Output)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(newViper(t, `
history: sqlite://runs.db
jobs: [credcom, mercado]
profiles:
  credcom:
    tolerance: "0,10"
    workers: 4
    files:
      a: trier.csv
      b: credcom.csv
    columns:
      b:
        cliente: ["nome do associado"]
  mercado:
    labels:
      a: TRIER
      b: MERCADO
    partition: document
    scoring: aggregate
    output: sqlite://runs.db?table=mercado
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.History != "sqlite://runs.db" {
		t.Errorf("unexpected history %q", cfg.History)
	}
	if !reflect.DeepEqual(cfg.JobNames(), []string{"credcom", "mercado"}) {
		t.Errorf("unexpected jobs %v", cfg.JobNames())
	}

	credcom, err := cfg.Profiles["credcom"].Request()
	if err != nil {
		t.Fatalf("credcom Request failed: %v", err)
	}
	if credcom.Labels.B != "CREDCOM" {
		t.Errorf("preset labels should survive a partial override, got %+v", credcom.Labels)
	}
	if credcom.A.Path != "trier.csv" || credcom.B.Path != "credcom.csv" {
		t.Errorf("unexpected files %q %q", credcom.A.Path, credcom.B.Path)
	}
	if credcom.Matching.Tolerance.String() != "0.1" || credcom.Matching.Workers != 4 {
		t.Errorf("unexpected matching %s", credcom.Matching)
	}
	if got := credcom.B.Aliases["cliente"]; !reflect.DeepEqual(got, []string{"nome do associado"}) {
		t.Errorf("unexpected aliases %v", credcom.B.Aliases)
	}

	mercado, err := cfg.Profiles["mercado"].Request()
	if err != nil {
		t.Fatalf("mercado Request failed: %v", err)
	}
	if mercado.Profile != "mercado" || mercado.Matching.Scoring != matcher.ScoringAggregate {
		t.Errorf("unexpected custom profile %q %s", mercado.Profile, mercado.Matching)
	}

	templates, err := cfg.Templates()
	if err != nil {
		t.Fatalf("Templates failed: %v", err)
	}
	if len(templates) != 3 {
		t.Errorf("expected 3 templates, got %d", len(templates))
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RECONCILER_PROFILES_MINERVA_OUTPUT", "sqlite://env.db?table=minerva")

	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Profiles["minerva"].Output; got != "sqlite://env.db?table=minerva" {
		t.Errorf("expected the environment to win, got %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		code errors.ErrorCode
	}{
		{
			name: "bad tolerance",
			yaml: "profiles:\n  credcom:\n    tolerance: abc\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "scoring needs document partition",
			yaml: "profiles:\n  credcom:\n    scoring: value_closest\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "job without profile",
			yaml: "jobs: [unknown]\n",
			code: errors.CodeConfigConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestConfig_UnknownProfile(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	_, err = cfg.Profile("nope")
	if !errors.HasCode(err, errors.CodeMissingConfig) {
		t.Fatalf("expected missing config, got %v", err)
	}
	if !strings.Contains(err.Error(), "credcom, minerva") {
		t.Errorf("expected the available profiles in %q", err.Error())
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format      string
		colors      bool
		expectError bool
		wantColors  bool
		wantDelim   rune
	}{
		{"console", true, false, true, ','},
		{"json", true, false, false, ','},
		{"csv", false, false, false, ';'},
		{"xml", false, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format, tt.colors)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Format != reporter.OutputFormat(tt.format) {
				t.Errorf("expected format %s, got %s", tt.format, config.Format)
			}
			if config.UseColors != tt.wantColors {
				t.Errorf("expected colors %v, got %v", tt.wantColors, config.UseColors)
			}
			if config.CSVDelimiter != tt.wantDelim {
				t.Errorf("expected delimiter %q, got %q", tt.wantDelim, config.CSVDelimiter)
			}
		})
	}
}
