package reconciler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/matcher"
	"github.com/drogcidadeinfo/convenios-2/internal/merge"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/internal/parsers"
	"github.com/drogcidadeinfo/convenios-2/internal/store"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/google/uuid"
)

// ReconciliationService runs one reconciliation: read both ledgers and the
// prior table, match, merge and write the new table.
type ReconciliationService struct {
	config *Config
	logger logger.Logger
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Diagnostics *matcher.DiagnosticsConfig
	// MaxErrorSamples bounds the excluded-record samples kept per ledger
	MaxErrorSamples int
	// RecordHistory writes a run entry to stores that keep one
	RecordHistory bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Diagnostics:     matcher.DefaultDiagnosticsConfig(),
		MaxErrorSamples: 20,
		RecordHistory:   true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxErrorSamples < 0 {
		return fmt.Errorf("max error samples cannot be negative, got %d", c.MaxErrorSamples)
	}
	if c.Diagnostics != nil && c.Diagnostics.MaxDistance < 0 {
		return fmt.Errorf("diagnostics max distance cannot be negative, got %d", c.Diagnostics.MaxDistance)
	}
	return nil
}

// LedgerSource says where one ledger comes from. Rows take precedence over
// Reader, and Reader over Path.
type LedgerSource struct {
	Name         string
	Path         string
	Reader       io.Reader
	Rows         []map[string]interface{}
	Aliases      map[string][]string
	Installments normalizer.InstallmentStyle
	Delimiter    rune
}

func (s *LedgerSource) sourceName() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Name
}

// ReconciliationRequest represents a request for reconciliation
type ReconciliationRequest struct {
	Profile  string
	Labels   models.SideLabels
	Matching *matcher.MatchingConfig
	A        LedgerSource
	B        LedgerSource
	// Output is a store URL; empty skips both the prior table and the write
	Output string
	// DryRun reads the prior table but does not write
	DryRun bool
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if err := r.Labels.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "labels", r.Labels, err)
	}
	if r.Matching == nil {
		r.Matching = matcher.DefaultMatchingConfig()
	}
	if err := r.Matching.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", r.Matching.String(), err)
	}

	for _, side := range []struct {
		name string
		src  *LedgerSource
	}{{"a", &r.A}, {"b", &r.B}} {
		if side.src.Path == "" && side.src.Reader == nil && side.src.Rows == nil {
			return errors.ValidationError(errors.CodeMissingField, "ledger."+side.name, "", nil).
				WithSuggestion("give a file path or inline rows for both ledgers")
		}
		if !side.src.Installments.IsValid() {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "installments."+side.name, side.src.Installments, nil)
		}
	}
	return nil
}

// ReconciliationResult contains the complete results of reconciliation
type ReconciliationResult struct {
	RunID       uuid.UUID                  `json:"run_id"`
	Profile     string                     `json:"profile"`
	Mode        models.PartitionMode       `json:"mode"`
	Labels      models.SideLabels          `json:"labels"`
	Table       *merge.Table               `json:"-"`
	Summary     *Summary                   `json:"summary"`
	Daily       []*DailySummary            `json:"daily"`
	Matching    matcher.MatchingSummary    `json:"matching"`
	Exclusions  []*ExclusionStats          `json:"exclusions"`
	ParseStats  []*parsers.ParseStats      `json:"-"`
	Diagnostics *matcher.DiagnosticsReport `json:"-"`
	Output      string                     `json:"output,omitempty"`
	Written     bool                       `json:"written"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
}

// Duration returns how long the run took
func (r *ReconciliationResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExcludedTotal sums the excluded records of both ledgers
func (r *ReconciliationResult) ExcludedTotal() int {
	total := 0
	for _, e := range r.Exclusions {
		total += e.Excluded
	}
	return total
}

// RunRecord converts the result to a run history entry
func (r *ReconciliationResult) RunRecord(runErr error) *store.RunRecord {
	rec := &store.RunRecord{
		ID:         r.RunID,
		Profile:    r.Profile,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Excluded:   r.ExcludedTotal(),
		Outcome:    store.RunSucceeded,
	}
	if r.Summary != nil {
		rec.Rows = r.Summary.TotalRows
		rec.OK = r.Summary.OK
		rec.Divergent = r.Summary.Divergent
		rec.OnlyA = r.Summary.OnlyA
		rec.OnlyB = r.Summary.OnlyB
	}
	if runErr != nil {
		rec.Outcome = store.RunFailed
		rec.Error = runErr.Error()
	}
	return rec
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(config *Config) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", fmt.Sprintf("%+v", *config), err)
	}
	return &ReconciliationService{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// ProcessReconciliation reads both ledgers, loads the prior table from the
// output store, reconciles and replaces the stored table. A missing
// required column aborts before anything is written.
func (rs *ReconciliationService) ProcessReconciliation(ctx context.Context, request *ReconciliationRequest) (*ReconciliationResult, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	startedAt := time.Now()

	op := logger.NewOperationLogger("reconciliation", rs.logger).
		WithField("profile", request.Profile).
		WithField("mode", request.Matching.Partition)

	op.Step("read ledgers")
	mode := request.Matching.Partition
	rawA, statsA, err := rs.readLedger(ctx, models.SideA, &request.A, mode)
	if err != nil {
		op.Error(err, "Reading ledger A failed")
		return nil, err
	}
	rawB, statsB, err := rs.readLedger(ctx, models.SideB, &request.B, mode)
	if err != nil {
		op.Error(err, "Reading ledger B failed")
		return nil, err
	}

	var st store.Store
	var prior [][]string
	if request.Output != "" {
		op.Step("load prior table")
		st, err = store.Open(ctx, request.Output)
		if err != nil {
			op.Error(err, "Opening output store failed")
			return nil, err
		}
		defer st.Close()

		if prior, err = st.Load(ctx); err != nil {
			op.Error(err, "Loading prior table failed")
			return nil, err
		}
	}

	result, err := rs.Reconcile(ctx, request, rawA, rawB, prior)
	if err != nil {
		op.Error(err, "Reconciliation failed")
		return nil, err
	}
	result.StartedAt = startedAt
	result.ParseStats = []*parsers.ParseStats{statsA, statsB}

	if st != nil {
		result.Output = outputName(request.Output)
		if !request.DryRun {
			op.Step("write table")
			err = st.Replace(ctx, result.Table.Values())
			result.Written = err == nil
		}
		result.FinishedAt = time.Now()
		rs.recordRun(ctx, st, result, err)
		if err != nil {
			op.Error(err, "Writing result table failed")
			return nil, err
		}
	}
	result.FinishedAt = time.Now()

	op.WithField("rows", result.Summary.TotalRows).
		WithField("ok", result.Summary.OK).
		WithField("written", result.Written).
		Success("Reconciliation completed")
	return result, nil
}

// Reconcile runs the in-memory part of a reconciliation over already read
// ledgers and prior table rows. It performs no I/O.
func (rs *ReconciliationService) Reconcile(
	ctx context.Context,
	request *ReconciliationRequest,
	rawA, rawB []*models.RawRecord,
	prior [][]string,
) (*ReconciliationResult, error) {
	if request.Matching == nil {
		request.Matching = matcher.DefaultMatchingConfig()
	}
	config := request.Matching
	now := time.Now()

	result := &ReconciliationResult{
		RunID:     uuid.New(),
		Profile:   request.Profile,
		Mode:      config.Partition,
		Labels:    request.Labels,
		StartedAt: now,
	}

	a, exclA := NewDataPreprocessor(config.Partition, request.A.Installments, rs.config.MaxErrorSamples).Normalize(models.SideA, rawA)
	b, exclB := NewDataPreprocessor(config.Partition, request.B.Installments, rs.config.MaxErrorSamples).Normalize(models.SideB, rawB)
	result.Exclusions = []*ExclusionStats{exclA, exclB}

	matching, err := matcher.NewMatchingEngine(config).Match(ctx, a, b)
	if err != nil {
		return nil, err
	}
	result.Matching = matching.Summary
	result.Diagnostics = matcher.NewDiagnostics(rs.config.Diagnostics).Analyze(matching.Results)

	classifier := matcher.NewClassifier(config.Tolerance, request.Labels)
	result.Table = merge.NewWriter(config.Partition, classifier).Build(matching.Results, prior)

	result.Summary = BuildSummary(result.Table.Rows, a, b)
	result.Daily = BuildDailySummary(result.Table.Rows, config.Partition)
	result.FinishedAt = time.Now()

	rs.logger.WithFields(logger.Fields{
		"run_id":    result.RunID,
		"rows":      result.Summary.TotalRows,
		"ok":        result.Summary.OK,
		"divergent": result.Summary.Divergent,
		"only_a":    result.Summary.OnlyA,
		"only_b":    result.Summary.OnlyB,
		"excluded":  result.ExcludedTotal(),
	}).Info("Result table built")

	return result, nil
}

func (rs *ReconciliationService) readLedger(
	ctx context.Context,
	side models.Side,
	src *LedgerSource,
	mode models.PartitionMode,
) ([]*models.RawRecord, *parsers.ParseStats, error) {
	name := src.Name
	if name == "" {
		name = string(side)
	}

	config := parsers.DefaultLedgerConfig(name, side, mode)
	config.MergeAliases(src.Aliases)
	config.Delimiter = src.Delimiter

	parser, err := parsers.NewLedgerParser(config)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case src.Rows != nil:
		records, err := parser.ParseRows(name, src.Rows)
		if err != nil {
			return nil, nil, err
		}
		stats := parsers.NewParseStats(name)
		stats.TotalLines = len(src.Rows)
		stats.RecordsParsed = len(records)
		return records, stats, nil
	case src.Reader != nil:
		return parser.Parse(ctx, src.Reader, src.sourceName())
	default:
		return parser.ParseFile(ctx, src.Path)
	}
}

func (rs *ReconciliationService) recordRun(ctx context.Context, st store.Store, result *ReconciliationResult, runErr error) {
	if !rs.config.RecordHistory {
		return
	}
	recorder, ok := st.(store.RunRecorder)
	if !ok {
		return
	}
	if err := recorder.RecordRun(ctx, result.RunRecord(runErr)); err != nil {
		rs.logger.WithError(err).Warn("Could not record run history")
	}
}

func outputName(raw string) string {
	loc, err := store.ParseLocation(raw)
	if err != nil {
		return raw
	}
	return loc.Redacted()
}
