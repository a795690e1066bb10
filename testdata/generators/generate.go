// Command generate writes a pair of synthetic ledger exports for manual
// runs and load checks:
//
//	go run ./testdata/generators -profile=credcom -rows=5000 -output-dir=generated
//	go run ./testdata/generators -profile=minerva -rows=200 -seed=42
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LedgerGenerator produces ledger A and ledger B rows with a known mix of
// matching, divergent and one-sided records.
type LedgerGenerator struct {
	Profile        string
	Rows           int
	Branches       int
	Days           int
	StartDate      time.Time
	MatchRatio     float64
	DivergentRatio float64
	OnlyB          int
	rng            *rand.Rand
}

// LedgerRow is one generated sale before it is rendered for a ledger
type LedgerRow struct {
	Branch      int
	Client      string
	Document    string
	Date        time.Time
	Installment int
	Installs    int
	Amount      decimal.Decimal
}

var (
	firstNames = []string{"ANA", "BRUNO", "CARLA", "DANIEL", "EDUARDO", "FERNANDA", "GABRIEL", "HELENA",
		"IGOR", "JOAO", "JULIANA", "LUCAS", "MARIA", "PAULO", "RAFAELA", "SERGIO", "TATIANE", "VITOR"}
	lastNames = []string{"SILVA", "SOUZA", "OLIVEIRA", "SANTOS", "LIMA", "PEREIRA", "COSTA", "ALVES",
		"RIBEIRO", "CARVALHO", "GOMES", "MARTINS", "ROCHA", "MENDES", "BARBOSA", "ARAUJO"}
	connectives = []string{"DA", "DE", "DOS", "DAS"}
)

func main() {
	var (
		profile   = flag.String("profile", "credcom", "ledger layout: credcom (branch+date) or minerva (document)")
		rows      = flag.Int("rows", 1000, "number of ledger A rows")
		branches  = flag.Int("branches", 8, "number of branches")
		days      = flag.Int("days", 30, "number of emission days")
		startDate = flag.String("start-date", "2024-01-01", "first emission date (YYYY-MM-DD)")
		match     = flag.Float64("match-ratio", 0.85, "share of A rows present in B")
		divergent = flag.Float64("divergent-ratio", 0.1, "share of matched rows whose B amount differs")
		onlyB     = flag.Int("only-b", 20, "rows present in B only")
		outputDir = flag.String("output-dir", "generated", "output directory")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed for reproducible generation")
	)
	flag.Parse()

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	if *profile != "credcom" && *profile != "minerva" {
		log.Fatalf("Unknown profile: %s", *profile)
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &LedgerGenerator{
		Profile:        *profile,
		Rows:           *rows,
		Branches:       *branches,
		Days:           *days,
		StartDate:      start,
		MatchRatio:     *match,
		DivergentRatio: *divergent,
		OnlyB:          *onlyB,
		rng:            rand.New(rand.NewSource(*seed)),
	}

	a, b := generator.Generate()

	pathA := filepath.Join(*outputDir, "trier.csv")
	pathB := filepath.Join(*outputDir, *profile+".csv")
	if err := generator.WriteLedgerA(pathA, a); err != nil {
		log.Fatalf("Failed to write %s: %v", pathA, err)
	}
	if err := generator.WriteLedgerB(pathB, b); err != nil {
		log.Fatalf("Failed to write %s: %v", pathB, err)
	}

	fmt.Printf("Generated %d rows in %s and %d rows in %s\n", len(a), pathA, len(b), pathB)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate returns the rows of both ledgers. B rows reuse A's sale with a
// reworded client name, so name-token matching has realistic input.
func (lg *LedgerGenerator) Generate() ([]LedgerRow, []LedgerRow) {
	a := make([]LedgerRow, 0, lg.Rows)
	b := make([]LedgerRow, 0, lg.Rows+lg.OnlyB)

	for i := 0; i < lg.Rows; i++ {
		row := lg.randomRow()
		a = append(a, row)

		if lg.rng.Float64() >= lg.MatchRatio {
			continue
		}
		partner := row
		partner.Client = lg.reword(row.Client)
		if lg.rng.Float64() < lg.DivergentRatio {
			cents := decimal.New(int64(lg.rng.Intn(2000)+10), -2)
			if lg.rng.Intn(2) == 0 {
				cents = cents.Neg()
			}
			partner.Amount = row.Amount.Add(cents)
			if partner.Amount.IsNegative() {
				partner.Amount = partner.Amount.Neg()
			}
		}
		b = append(b, partner)
	}

	for i := 0; i < lg.OnlyB; i++ {
		b = append(b, lg.randomRow())
	}

	lg.rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
	return a, b
}

func (lg *LedgerGenerator) randomRow() LedgerRow {
	name := firstNames[lg.rng.Intn(len(firstNames))]
	if lg.rng.Intn(3) == 0 {
		name += " " + connectives[lg.rng.Intn(len(connectives))]
	}
	name += " " + lastNames[lg.rng.Intn(len(lastNames))] + " " + lastNames[lg.rng.Intn(len(lastNames))]

	installs := 1
	if lg.rng.Intn(4) == 0 {
		installs = lg.rng.Intn(10) + 2
	}

	return LedgerRow{
		Branch:      lg.rng.Intn(lg.Branches) + 1,
		Client:      name,
		Document:    fmt.Sprintf("%011d", lg.rng.Int63n(99999999999)),
		Date:        lg.StartDate.AddDate(0, 0, lg.rng.Intn(lg.Days)),
		Installment: lg.rng.Intn(installs) + 1,
		Installs:    installs,
		Amount:      decimal.New(int64(lg.rng.Intn(50000)+500), -2),
	}
}

// reword drops connectives and sometimes a surname, the way partner
// portals shorten names
func (lg *LedgerGenerator) reword(name string) string {
	var kept []string
	for _, tok := range strings.Fields(name) {
		skip := false
		for _, c := range connectives {
			if tok == c {
				skip = true
			}
		}
		if !skip {
			kept = append(kept, tok)
		}
	}
	if len(kept) > 2 && lg.rng.Intn(4) == 0 {
		kept = kept[:len(kept)-1]
	}
	out := strings.Join(kept, " ")
	if lg.Profile == "minerva" {
		out = cases.Title(language.BrazilianPortuguese).String(strings.ToLower(out))
	}
	return out
}

// WriteLedgerA writes the store's export: ';' delimited, R$ amounts and
// "PARCELA n/t" installments
func (lg *LedgerGenerator) WriteLedgerA(path string, rows []LedgerRow) error {
	header := []string{"Filial", "Cliente", "Data Emissão", "Parcela", "Valor"}
	if lg.Profile == "minerva" {
		header = []string{"Filial", "CPF", "Cliente", "Valor"}
	}

	return writeCSV(path, header, len(rows), func(i int) []string {
		r := rows[i]
		if lg.Profile == "minerva" {
			return []string{fmt.Sprint(r.Branch), normalizer.FormatDocumentID(r.Document), r.Client, normalizer.FormatDecimal(r.Amount)}
		}
		installment := ""
		if r.Installs > 1 {
			installment = fmt.Sprintf("PARCELA %d/%d", r.Installment, r.Installs)
		}
		return []string{fmt.Sprint(r.Branch), r.Client, r.Date.Format("02/01/2006"), installment, normalizer.FormatDecimal(r.Amount)}
	})
}

// WriteLedgerB writes the partner's export: bare numbers and plain decimal
// comma amounts
func (lg *LedgerGenerator) WriteLedgerB(path string, rows []LedgerRow) error {
	header := []string{"Filial", "Nome", "Data", "Parcela", "Valor"}
	if lg.Profile == "minerva" {
		header = []string{"CPF", "Nome", "Valor"}
	}

	return writeCSV(path, header, len(rows), func(i int) []string {
		r := rows[i]
		amount := strings.Replace(r.Amount.StringFixed(2), ".", ",", 1)
		if lg.Profile == "minerva" {
			// leading zeros are lost by the partner's spreadsheet export
			return []string{strings.TrimLeft(r.Document, "0"), r.Client, amount}
		}
		installment := ""
		if r.Installs > 1 {
			installment = fmt.Sprint(r.Installment)
		}
		return []string{fmt.Sprint(r.Branch), r.Client, r.Date.Format("02/01/2006"), installment, amount}
	})
}

func writeCSV(path string, header []string, n int, row func(int) []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = ';'
	if err := writer.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
