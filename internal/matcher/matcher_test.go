package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/shopspring/decimal"
)

var testDate = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func branchRecord(side models.Side, index, branch int, date time.Time, name, amount string, installment int) *models.NormalizedRecord {
	b := branch
	r := &models.NormalizedRecord{
		Side:       side,
		Index:      index,
		Branch:     &b,
		ClientName: name,
		NameTokens: normalizer.NameTokens(name),
		Amount:     decimal.RequireFromString(amount),
		Date:       date,
	}
	if installment > 0 {
		r.Installment = &models.Installment{Number: installment, Label: fmt.Sprintf("PARCELA %d", installment)}
	}
	return r
}

func documentRecord(side models.Side, index int, doc, name, amount string) *models.NormalizedRecord {
	return &models.NormalizedRecord{
		Side:       side,
		Index:      index,
		DocumentID: doc,
		ClientName: name,
		NameTokens: normalizer.NameTokens(name),
		Amount:     decimal.RequireFromString(amount),
	}
}

func matchOrFail(t *testing.T, config *MatchingConfig, a, b []*models.NormalizedRecord) *MatchingResult {
	t.Helper()
	result, err := NewMatchingEngine(config).Match(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	return result
}

func TestNewMatchingEngine(t *testing.T) {
	engine := NewMatchingEngine(nil)
	if engine.Config == nil {
		t.Fatal("Expected default config to be set")
	}
	if engine.Config.Scoring != ScoringNameTokens {
		t.Errorf("Expected name_tokens scoring, got %s", engine.Config.Scoring)
	}

	engine = NewMatchingEngine(DocumentMatchingConfig())
	if engine.Config.Partition != models.PartitionDocument {
		t.Errorf("Expected document partitioning, got %s", engine.Config.Partition)
	}
}

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *MatchingConfig)
		wantErr bool
	}{
		{"default", func(c *MatchingConfig) {}, false},
		{"unknown partition", func(c *MatchingConfig) { c.Partition = "weekly" }, true},
		{"unknown scoring", func(c *MatchingConfig) { c.Scoring = "fuzzy" }, true},
		{"value closest on branch date", func(c *MatchingConfig) { c.Scoring = ScoringValueClosest }, true},
		{"aggregate on branch date", func(c *MatchingConfig) { c.Scoring = ScoringAggregate }, true},
		{"zero token floor", func(c *MatchingConfig) { c.MinTokenOverlap = 0 }, true},
		{"negative tolerance", func(c *MatchingConfig) { c.Tolerance = decimal.NewFromInt(-1) }, true},
		{"negative workers", func(c *MatchingConfig) { c.Workers = -1 }, true},
		{"zero workers", func(c *MatchingConfig) { c.Workers = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	doc := DocumentMatchingConfig()
	doc.Scoring = ScoringAggregate
	doc.MinTokenOverlap = 0
	if err := doc.Validate(); err != nil {
		t.Errorf("Expected aggregate on document partition to be valid, got %v", err)
	}
}

func TestMatch_InvalidConfig(t *testing.T) {
	config := DefaultMatchingConfig()
	config.Scoring = ScoringValueClosest

	_, err := NewMatchingEngine(config).Match(context.Background(), nil, nil)
	if !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("Expected invalid config error, got %v", err)
	}
}

func TestMatchingConfig_Clone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()
	clone.MinTokenOverlap = 5
	if original.MinTokenOverlap == 5 {
		t.Error("Clone should not share state with the original")
	}
	if (*MatchingConfig)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestMatch_NameTokens(t *testing.T) {
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 12, testDate, "JOAO SILVA", "100.00", 1),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 12, testDate, "JOAO DA SILVA", "100.00", 1),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if len(result.Results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(result.Results))
	}

	r := result.Results[0]
	if r.Kind != KindMatched {
		t.Fatalf("Expected Matched, got %s", r.Kind)
	}
	if r.Score != 2 {
		t.Errorf("Expected score 2, got %d", r.Score)
	}
	if !r.Diff.IsZero() {
		t.Errorf("Expected zero diff, got %s", r.Diff)
	}

	classifier := NewClassifier(DefaultTolerance, models.DefaultSideLabels())
	if status := classifier.Classify(r); status != models.StatusOK {
		t.Errorf("Expected OK, got %s", status)
	}
}

func TestMatch_NameTokensTieBreak(t *testing.T) {
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 1, testDate, "MARIA SOUZA", "50.00", 0),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 1, testDate, "MARIA SOUZA LIMA", "40.00", 0),
		branchRecord(models.SideB, 1, 1, testDate, "MARIA SOUZA", "50.00", 0),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(result.Results))
	}

	first := result.Results[0]
	if first.Kind != KindMatched || first.B != b[0] {
		t.Errorf("Expected tie to go to the first candidate, got %s", first)
	}
	if result.Results[1].Kind != KindOnlyB || result.Results[1].B != b[1] {
		t.Errorf("Expected leftover B to be reported, got %s", result.Results[1])
	}
}

func TestMatch_NameTokensBestScoreWins(t *testing.T) {
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 1, testDate, "ANA PAULA COSTA", "10.00", 0),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 1, testDate, "ANA PAULA", "10.00", 0),
		branchRecord(models.SideB, 1, 1, testDate, "ANA PAULA COSTA", "10.00", 0),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if result.Results[0].B != b[1] || result.Results[0].Score != 3 {
		t.Errorf("Expected the three-token candidate, got %s score %d", result.Results[0], result.Results[0].Score)
	}
}

func TestMatch_NameTokensFloor(t *testing.T) {
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 3, testDate, "CARLOS PEREIRA", "80.00", 0),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 3, testDate, "CARLOS ALMEIDA", "80.00", 0),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if result.Summary.Matched != 0 || result.Summary.OnlyA != 1 || result.Summary.OnlyB != 1 {
		t.Errorf("Expected one shared token to stay below the floor, got %+v", result.Summary)
	}

	config := DefaultMatchingConfig()
	config.MinTokenOverlap = 1
	result = matchOrFail(t, config, a, b)
	if result.Summary.Matched != 1 {
		t.Errorf("Expected a match with floor 1, got %+v", result.Summary)
	}
}

func TestMatch_InstallmentGuard(t *testing.T) {
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 7, testDate, "PEDRO HENRIQUE ROCHA", "30.00", 2),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 7, testDate, "PEDRO HENRIQUE ROCHA", "30.00", 1),
		branchRecord(models.SideB, 1, 7, testDate, "PEDRO ROCHA", "30.00", 2),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if result.Results[0].Kind != KindMatched || result.Results[0].B != b[1] {
		t.Errorf("Expected the equal-installment candidate, got %s", result.Results[0])
	}

	config := DefaultMatchingConfig()
	config.InstallmentGuard = false
	result = matchOrFail(t, config, a, b)
	if result.Results[0].B != b[0] {
		t.Errorf("Expected the best-named candidate without the guard, got %s", result.Results[0])
	}

	noInstallment := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 7, testDate, "PEDRO HENRIQUE ROCHA", "30.00", 0),
	}
	result = matchOrFail(t, DefaultMatchingConfig(), a, noInstallment)
	if result.Results[0].Kind != KindMatched {
		t.Errorf("Expected a missing installment not to block the match, got %s", result.Results[0])
	}
}

func TestMatch_PartitionsDoNotMix(t *testing.T) {
	other := testDate.AddDate(0, 0, 1)
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 1, testDate, "LUCAS MOREIRA", "10.00", 0),
		branchRecord(models.SideA, 1, 2, testDate, "LUCAS MOREIRA", "10.00", 0),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 1, other, "LUCAS MOREIRA", "10.00", 0),
		branchRecord(models.SideB, 1, 2, testDate, "LUCAS MOREIRA", "10.00", 0),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if result.Summary.Partitions != 3 {
		t.Fatalf("Expected 3 partitions, got %d", result.Summary.Partitions)
	}
	if result.Summary.Matched != 1 || result.Summary.OnlyA != 1 || result.Summary.OnlyB != 1 {
		t.Errorf("Unexpected summary %+v", result.Summary)
	}

	// (date, branch) order: 1|05, 2|05, 1|06
	wantKeys := []string{"1|2024-01-05", "2|2024-01-05", "1|2024-01-06"}
	for i, want := range wantKeys {
		if got := result.Results[i].PartitionKey.String(); got != want {
			t.Errorf("Result %d: expected partition %s, got %s", i, want, got)
		}
	}
}

func TestMatch_ExcludesRecordsWithoutKey(t *testing.T) {
	noBranch := branchRecord(models.SideA, 1, 1, testDate, "SEM FILIAL", "5.00", 0)
	noBranch.Branch = nil
	noDate := branchRecord(models.SideB, 1, 1, time.Time{}, "SEM DATA", "5.00", 0)

	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 1, testDate, "JOSE ARAUJO", "5.00", 0),
		noBranch,
	}
	b := []*models.NormalizedRecord{noDate}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	if result.Summary.ExcludedA != 1 || result.Summary.ExcludedB != 1 {
		t.Errorf("Expected one exclusion per side, got %+v", result.Summary)
	}
	if len(result.Results) != 1 {
		t.Errorf("Expected excluded records to produce no rows, got %d", len(result.Results))
	}
}

func TestMatch_ValueClosest(t *testing.T) {
	a := []*models.NormalizedRecord{
		documentRecord(models.SideA, 0, "12345678901", "ANA", "100.00"),
		documentRecord(models.SideA, 1, "12345678901", "ANA", "50.00"),
		documentRecord(models.SideA, 2, "99999999999", "BRUNO", "20.00"),
	}
	b := []*models.NormalizedRecord{
		documentRecord(models.SideB, 0, "12345678901", "ANA MARIA", "49.00"),
		documentRecord(models.SideB, 1, "12345678901", "ANA MARIA", "100.02"),
		documentRecord(models.SideB, 2, "55555555555", "CAIO", "70.00"),
	}

	result := matchOrFail(t, DocumentMatchingConfig(), a, b)

	type want struct {
		kind ResultKind
		a    *models.NormalizedRecord
		b    *models.NormalizedRecord
	}
	// partitions sorted by document id
	expected := []want{
		{KindMatched, a[0], b[1]},
		{KindMatched, a[1], b[0]},
		{KindOnlyB, nil, b[2]},
		{KindOnlyA, a[2], nil},
	}
	if len(result.Results) != len(expected) {
		t.Fatalf("Expected %d results, got %d", len(expected), len(result.Results))
	}
	for i, w := range expected {
		r := result.Results[i]
		if r.Kind != w.kind || r.A != w.a || r.B != w.b {
			t.Errorf("Result %d: got %s", i, r)
		}
	}

	classifier := NewClassifier(DefaultTolerance, models.DefaultSideLabels())
	if s := classifier.Classify(result.Results[0]); s != models.StatusOK {
		t.Errorf("Expected 0.02 difference to be OK, got %s", s)
	}
	if s := classifier.Classify(result.Results[1]); s != models.StatusValueDivergent {
		t.Errorf("Expected 1.00 difference to diverge, got %s", s)
	}
}

func TestMatch_ValueClosestTieGoesFirst(t *testing.T) {
	a := []*models.NormalizedRecord{
		documentRecord(models.SideA, 0, "11111111111", "X", "10.00"),
	}
	b := []*models.NormalizedRecord{
		documentRecord(models.SideB, 0, "11111111111", "X", "11.00"),
		documentRecord(models.SideB, 1, "11111111111", "X", "9.00"),
	}

	result := matchOrFail(t, DocumentMatchingConfig(), a, b)
	if result.Results[0].B != b[0] {
		t.Errorf("Expected the first equally close candidate, got %s", result.Results[0])
	}
}

func TestMatch_Aggregate(t *testing.T) {
	config := DocumentMatchingConfig()
	config.Scoring = ScoringAggregate

	a := []*models.NormalizedRecord{
		documentRecord(models.SideA, 0, "22222222222", "DIANA", "60.00"),
		documentRecord(models.SideA, 1, "22222222222", "DIANA", "40.00"),
		documentRecord(models.SideA, 2, "33333333333", "EDSON", "15.00"),
	}
	b := []*models.NormalizedRecord{
		documentRecord(models.SideB, 0, "22222222222", "DIANA R", "100.00"),
		documentRecord(models.SideB, 1, "44444444444", "FABIO", "12.00"),
		documentRecord(models.SideB, 2, "44444444444", "FABIO", "8.00"),
	}

	result := matchOrFail(t, config, a, b)
	if len(result.Results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(result.Results))
	}

	classifier := NewClassifier(DefaultTolerance, models.DefaultSideLabels())
	for i := 0; i < 2; i++ {
		r := result.Results[i]
		if r.Kind != KindMatched || r.B != b[0] {
			t.Errorf("Result %d: expected group match, got %s", i, r)
		}
		if !r.AmountB.Decimal.Equal(decimal.NewFromInt(100)) {
			t.Errorf("Result %d: expected B total 100, got %s", i, r.AmountB.Decimal)
		}
		if classifier.Classify(r) != models.StatusOK {
			t.Errorf("Result %d: expected OK for balanced group", i)
		}
	}
	if !result.Results[1].AmountA.Decimal.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected per-line A amount, got %s", result.Results[1].AmountA.Decimal)
	}

	onlyA := result.Results[2]
	if onlyA.Kind != KindOnlyA || onlyA.A != a[2] {
		t.Errorf("Expected OnlyA for document without B lines, got %s", onlyA)
	}

	onlyB := result.Results[3]
	if onlyB.Kind != KindOnlyB || onlyB.B != b[1] {
		t.Errorf("Expected a single OnlyB for document without A lines, got %s", onlyB)
	}
	if !onlyB.AmountB.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected OnlyB to carry the B total, got %s", onlyB.AmountB.Decimal)
	}
}

func TestMatch_WorkersMatchSequential(t *testing.T) {
	var a, b []*models.NormalizedRecord
	for i := 0; i < 40; i++ {
		date := testDate.AddDate(0, 0, i%5)
		a = append(a, branchRecord(models.SideA, i, i%4, date, fmt.Sprintf("CLIENTE NUMERO %d", i), "10.00", 0))
		if i%3 != 0 {
			b = append(b, branchRecord(models.SideB, i, i%4, date, fmt.Sprintf("CLIENTE NUMERO %d", i), "10.01", 0))
		}
	}

	sequential := matchOrFail(t, DefaultMatchingConfig(), a, b)

	config := DefaultMatchingConfig()
	config.Workers = 4
	concurrent := matchOrFail(t, config, a, b)

	if len(sequential.Results) != len(concurrent.Results) {
		t.Fatalf("Result counts differ: %d vs %d", len(sequential.Results), len(concurrent.Results))
	}
	for i := range sequential.Results {
		s, c := sequential.Results[i], concurrent.Results[i]
		if s.Kind != c.Kind || s.A != c.A || s.B != c.B {
			t.Errorf("Result %d differs: %s vs %s", i, s, c)
		}
	}
	if sequential.Summary != concurrent.Summary {
		t.Errorf("Summaries differ: %+v vs %+v", sequential.Summary, concurrent.Summary)
	}
}

func TestMatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 1, testDate, "A B", "1.00", 0),
		branchRecord(models.SideA, 1, 2, testDate, "A B", "1.00", 0),
	}

	for _, workers := range []int{1, 2} {
		config := DefaultMatchingConfig()
		config.Workers = workers
		_, err := NewMatchingEngine(config).Match(ctx, a, nil)
		if !errors.HasCode(err, errors.CodeCancelled) {
			t.Errorf("workers=%d: expected cancelled error, got %v", workers, err)
		}
	}
}

func TestClassifier_ToleranceBoundary(t *testing.T) {
	classifier := NewClassifier(decimal.RequireFromString("0.05"), models.DefaultSideLabels())

	tests := []struct {
		name   string
		result *MatchResult
		want   models.Status
	}{
		{"exact", &MatchResult{Kind: KindMatched, Diff: decimal.Zero}, models.StatusOK},
		{"at tolerance", &MatchResult{Kind: KindMatched, Diff: decimal.RequireFromString("0.05")}, models.StatusOK},
		{"negative at tolerance", &MatchResult{Kind: KindMatched, Diff: decimal.RequireFromString("-0.05")}, models.StatusOK},
		{"above tolerance", &MatchResult{Kind: KindMatched, Diff: decimal.RequireFromString("0.06")}, models.StatusValueDivergent},
		{"only a", &MatchResult{Kind: KindOnlyA}, models.StatusOnlyA},
		{"only b", &MatchResult{Kind: KindOnlyB}, models.StatusOnlyB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifier.Classify(tt.result); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}

	labels := models.SideLabels{A: "CREDCOM", B: "FARMA"}
	display := NewClassifier(DefaultTolerance, labels).Display(&MatchResult{Kind: KindOnlyB})
	if display != "⚠️ SOMENTE FARMA" {
		t.Errorf("Unexpected display %q", display)
	}
}

func TestPartitioner_DocumentOrder(t *testing.T) {
	p := NewPartitioner(models.PartitionDocument)
	set := p.Partition(
		[]*models.NormalizedRecord{documentRecord(models.SideA, 0, "90000000000", "Z", "1")},
		[]*models.NormalizedRecord{
			documentRecord(models.SideB, 0, "10000000000", "Y", "1"),
			documentRecord(models.SideB, 1, "", "NO DOC", "1"),
		},
	)

	if len(set.Partitions) != 2 {
		t.Fatalf("Expected 2 partitions, got %d", len(set.Partitions))
	}
	if set.Partitions[0].Key.DocumentID != "10000000000" {
		t.Errorf("Expected partitions sorted by document id, got %s first", set.Partitions[0].Key)
	}
	if set.Excluded[models.SideB] != 1 {
		t.Errorf("Expected one B exclusion, got %d", set.Excluded[models.SideB])
	}
}

func TestDiagnostics_Analyze(t *testing.T) {
	a := []*models.NormalizedRecord{
		branchRecord(models.SideA, 0, 1, testDate, "GUILHERME", "10.00", 0),
		branchRecord(models.SideA, 1, 1, testDate, "HELENA CASTRO", "25.00", 0),
		branchRecord(models.SideA, 2, 1, testDate, "HELENA CASTRO", "25.00", 0),
	}
	b := []*models.NormalizedRecord{
		branchRecord(models.SideB, 0, 1, testDate, "GUILERME", "10.00", 0),
	}

	result := matchOrFail(t, DefaultMatchingConfig(), a, b)
	report := NewDiagnostics(nil).Analyze(result.Results)

	if len(report.NearMisses) != 1 {
		t.Fatalf("Expected 1 near miss, got %d", len(report.NearMisses))
	}
	hint := report.NearMisses[0]
	if hint.A != a[0] || hint.B != b[0] || hint.Distance != 1 {
		t.Errorf("Unexpected near miss %+v", hint)
	}

	if len(report.Duplicates) != 1 {
		t.Fatalf("Expected 1 duplicate group, got %d", len(report.Duplicates))
	}
	dup := report.Duplicates[0]
	if dup.Side != models.SideA || len(dup.Records) != 2 {
		t.Errorf("Unexpected duplicate group %+v", dup)
	}
	if dup.Reason == "" {
		t.Error("Expected a reason for the duplicate group")
	}

	// hints never change the outcome
	if result.Summary.Matched != 0 {
		t.Errorf("Expected no matches, got %d", result.Summary.Matched)
	}
}

func TestDiagnostics_MaxHints(t *testing.T) {
	var results []*MatchResult
	key := PartitionKey{Mode: models.PartitionBranchDate, Branch: 1, Date: testDate}
	for i := 0; i < 5; i++ {
		results = append(results,
			onlyA(key, branchRecord(models.SideA, i, 1, testDate, fmt.Sprintf("NOME%d", i), "1.00", 0)),
			onlyB(key, branchRecord(models.SideB, i, 1, testDate, fmt.Sprintf("NOME%d", i), "2.00", 0)),
		)
	}

	report := NewDiagnostics(&DiagnosticsConfig{MaxDistance: 2, MaxHints: 3}).Analyze(results)
	if len(report.NearMisses) != 3 {
		t.Errorf("Expected hints capped at 3, got %d", len(report.NearMisses))
	}
}
