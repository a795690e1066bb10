package parsers

import (
	"fmt"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
)

// Canonical column names, already in normalized form.
const (
	ColumnBranch      = "filial"
	ColumnClient      = "cliente"
	ColumnDate        = "data emissao"
	ColumnInstallment = "parcela"
	ColumnAmount      = "valor"
	ColumnDocument    = "cpf"
)

// RequiredColumns lists the columns a ledger must carry for a partition mode
func RequiredColumns(mode models.PartitionMode) []string {
	if mode == models.PartitionBranchDate {
		return []string{ColumnBranch, ColumnClient, ColumnDate, ColumnInstallment, ColumnAmount}
	}
	return []string{ColumnClient, ColumnDocument, ColumnAmount}
}

// DefaultColumnAliases maps canonical columns to header spellings seen in
// portal exports.
func DefaultColumnAliases() map[string][]string {
	return map[string][]string{
		ColumnBranch:      {"loja", "unidade", "cod filial"},
		ColumnClient:      {"nome", "nome cliente", "associado", "conveniado"},
		ColumnDate:        {"data", "emissao", "data venda", "data da venda"},
		ColumnInstallment: {"parcelas", "n parcela"},
		ColumnAmount:      {"valor total", "vlr", "valor parcela"},
		ColumnDocument:    {"cpf/cnpj", "documento", "cpf cliente"},
	}
}

// LedgerConfig describes how one ledger export is read
type LedgerConfig struct {
	Name      string              `json:"name" mapstructure:"name"`
	Side      models.Side         `json:"side" mapstructure:"side"`
	Required  []string            `json:"required" mapstructure:"required"`
	Aliases   map[string][]string `json:"aliases,omitempty" mapstructure:"aliases"`
	HasHeader bool                `json:"has_header" mapstructure:"has_header"`
	// Delimiter is detected from the header line when zero.
	Delimiter rune `json:"delimiter,omitempty" mapstructure:"delimiter"`
}

// DefaultLedgerConfig returns a reader config for the given side and mode
func DefaultLedgerConfig(name string, side models.Side, mode models.PartitionMode) *LedgerConfig {
	return &LedgerConfig{
		Name:      name,
		Side:      side,
		Required:  RequiredColumns(mode),
		Aliases:   DefaultColumnAliases(),
		HasHeader: true,
	}
}

// Validate checks if the ledger configuration is valid
func (lc *LedgerConfig) Validate() error {
	if strings.TrimSpace(lc.Name) == "" {
		return fmt.Errorf("ledger name cannot be empty")
	}
	if lc.Side != models.SideA && lc.Side != models.SideB {
		return fmt.Errorf("invalid ledger side: %q", lc.Side)
	}
	if len(lc.Required) == 0 {
		return fmt.Errorf("ledger %s requires at least one column", lc.Name)
	}
	if lc.Delimiter != 0 && lc.Delimiter != ',' && lc.Delimiter != ';' && lc.Delimiter != '\t' {
		return fmt.Errorf("unsupported delimiter %q", lc.Delimiter)
	}
	return nil
}

// MergeAliases adds extra header spellings, typically from a profile
func (lc *LedgerConfig) MergeAliases(extra map[string][]string) {
	if lc.Aliases == nil {
		lc.Aliases = make(map[string][]string)
	}
	for canonical, aliases := range extra {
		key := normalizer.NormalizeColumnName(canonical)
		lc.Aliases[key] = append(lc.Aliases[key], aliases...)
	}
}

// aliasIndex maps every normalized spelling to its canonical column
func (lc *LedgerConfig) aliasIndex() map[string]string {
	index := make(map[string]string)
	for canonical, aliases := range lc.Aliases {
		c := normalizer.NormalizeColumnName(canonical)
		for _, alias := range aliases {
			index[normalizer.NormalizeColumnName(alias)] = c
		}
	}
	return index
}
