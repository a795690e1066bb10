package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

const (
	loadRowsQuery = `SELECT branch, row_key, name_a, amount_a, name_b, amount_b, status, COALESCE(annotation, '')
		FROM result_rows WHERE table_name = ? ORDER BY row_index`
	deleteRowsQuery = `DELETE FROM result_rows WHERE table_name = ?`
	insertRowQuery  = `INSERT INTO result_rows
		(table_name, row_index, branch, row_key, name_a, amount_a, name_b, amount_b, status, annotation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertRunQuery = `INSERT INTO reconciliation_runs
		(id, profile, table_name, started_at, finished_at, row_count, ok_count, divergent_count,
		 only_a_count, only_b_count, excluded_count, outcome, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	listRunsQuery = `SELECT id, profile, table_name, started_at, finished_at, row_count, ok_count,
		divergent_count, only_a_count, only_b_count, excluded_count, outcome, COALESCE(error_message, '')
		FROM reconciliation_runs ORDER BY started_at DESC LIMIT ?`
)

// SQLStore keeps result tables and the run history in SQLite or MySQL
type SQLStore struct {
	db     *sql.DB
	loc    *Location
	logger logger.Logger
}

// OpenSQL migrates the database at loc and opens it
func OpenSQL(ctx context.Context, loc *Location) (*SQLStore, error) {
	if _, err := Migrate(loc, MigrateUp); err != nil {
		return nil, err
	}

	db, _, err := openDB(loc)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.StoreError(errors.CodeStoreUnavailable, loc.Redacted(), err)
	}

	s := &SQLStore{
		db:     db,
		loc:    loc,
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}
	s.logger.WithFields(logger.Fields{
		"location": loc.Redacted(),
		"table":    loc.Table,
	}).Debug("Opened SQL store")
	return s, nil
}

// openDB opens loc with the driver for its scheme and returns the driver
// name, which is also the migrations directory name.
func openDB(loc *Location) (*sql.DB, string, error) {
	switch loc.Scheme {
	case SchemeSQLite:
		params := loc.Params
		if params.Get("_busy_timeout") == "" {
			params.Set("_busy_timeout", "5000")
		}
		dsn := fmt.Sprintf("file:%s?%s", loc.Path, params.Encode())
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, "", errors.StoreError(errors.CodeStoreUnavailable, loc.Redacted(), err)
		}
		// single writer
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		return db, "sqlite3", nil

	case SchemeMySQL:
		cfg, err := mysqldriver.ParseDSN(loc.Path)
		if err != nil {
			return nil, "", errors.ConfigurationError(errors.CodeInvalidConfig, "output", loc.Redacted(), err)
		}
		cfg.ParseTime = true
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		for k := range loc.Params {
			cfg.Params[k] = loc.Params.Get(k)
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, "", errors.StoreError(errors.CodeStoreUnavailable, loc.Redacted(), err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		return db, "mysql", nil
	}
	return nil, "", errors.ConfigurationError(errors.CodeInvalidConfig, "output", loc.Redacted(),
		fmt.Errorf("unsupported store scheme %q", loc.Scheme))
}

// Table returns the logical table name
func (s *SQLStore) Table() string {
	return s.loc.Table
}

// Load returns the stored rows of the logical table in write order
func (s *SQLStore) Load(ctx context.Context) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, loadRowsQuery, s.loc.Table)
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, s.loc.Redacted(), err)
	}
	defer rows.Close()

	var values [][]string
	for rows.Next() {
		row := make([]string, models.OutputColumns)
		if err := rows.Scan(&row[0], &row[1], &row[2], &row[3], &row[4], &row[5], &row[6], &row[7]); err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, s.loc.Redacted(), err)
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, s.loc.Redacted(), err)
	}
	return values, nil
}

// Replace deletes the logical table and inserts values in one transaction.
// Rows are padded or cut to eight cells.
func (s *SQLStore) Replace(ctx context.Context, values [][]string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteRowsQuery, s.loc.Table); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, insertRowQuery)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, row := range values {
			cells := make([]string, models.OutputColumns)
			copy(cells, row)
			if _, err := stmt.ExecContext(ctx, s.loc.Table, i,
				cells[0], cells[1], cells[2], cells[3], cells[4], cells[5], cells[6], cells[7]); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.StoreError(errors.CodeStoreWrite, s.loc.Redacted(), err)
	}

	s.logger.WithFields(logger.Fields{"table": s.loc.Table, "rows": len(values)}).Info("Result table written")
	return nil
}

// RecordRun appends run to the history. A zero ID is replaced by a new one.
func (s *SQLStore) RecordRun(ctx context.Context, run *RunRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Table == "" {
		run.Table = s.loc.Table
	}

	_, err := s.db.ExecContext(ctx, insertRunQuery,
		run.ID.String(), run.Profile, run.Table, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Rows, run.OK, run.Divergent, run.OnlyA, run.OnlyB, run.Excluded, run.Outcome, run.Error)
	if err != nil {
		return errors.StoreError(errors.CodeStoreWrite, s.loc.Redacted(), err)
	}
	return nil
}

// ListRuns returns the most recent runs first
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listRunsQuery, limit)
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, s.loc.Redacted(), err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var id string
		run := &RunRecord{}
		if err := rows.Scan(&id, &run.Profile, &run.Table, &run.StartedAt, &run.FinishedAt,
			&run.Rows, &run.OK, &run.Divergent, &run.OnlyA, &run.OnlyB, &run.Excluded,
			&run.Outcome, &run.Error); err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, s.loc.Redacted(), err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			s.logger.WithField("id", id).Warn("Skipping run with invalid id")
			continue
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, s.loc.Redacted(), err)
	}
	return runs, nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
