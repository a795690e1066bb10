package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/drogcidadeinfo/convenios-2/internal/parsers"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// CSVStore keeps the result table in a CSV file
type CSVStore struct {
	path   string
	reader *parsers.TableReader
	logger logger.Logger
}

// NewCSVStore creates a store backed by the file at path
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{
		path:   path,
		reader: parsers.NewTableReader(),
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}
}

// Path returns the backing file path
func (s *CSVStore) Path() string {
	return s.path
}

// Load reads the file. A missing file is a first run and yields no rows.
func (s *CSVStore) Load(ctx context.Context) ([][]string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithField("path", s.path).Debug("No prior table")
			return nil, nil
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, s.path, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, s.path, err)
	}
	defer file.Close()

	rows, err := s.reader.Read(ctx, file, s.path)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{"path": s.path, "rows": len(rows)}).Debug("Loaded prior table")
	return rows, nil
}

// Replace writes values to a temporary file next to the target and renames
// it over the target, so readers never see a partial table.
func (s *CSVStore) Replace(ctx context.Context, values [][]string) error {
	if err := ctx.Err(); err != nil {
		return errors.ReconciliationError(errors.CodeCancelled, "store replace", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.StoreError(errors.CodeStoreWrite, s.path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.StoreError(errors.CodeStoreWrite, s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := parsers.WriteTable(tmp, values); err != nil {
		tmp.Close()
		return errors.StoreError(errors.CodeStoreWrite, s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.StoreError(errors.CodeStoreWrite, s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.StoreError(errors.CodeStoreWrite, s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.StoreError(errors.CodeStoreWrite, s.path, err)
	}

	s.logger.WithFields(logger.Fields{"path": s.path, "rows": len(values)}).Info("Result table written")
	return nil
}

// Close is a no-op for files
func (s *CSVStore) Close() error {
	return nil
}
