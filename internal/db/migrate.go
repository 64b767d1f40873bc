package db

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies every *.sql file in fsys not yet recorded in
// schema_migrations, in name order, each in its own transaction. It returns
// the files applied by this call.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) ([]string, error) {
	if err := ensureSchemaTable(ctx, pool); err != nil {
		return nil, err
	}
	files, err := listSQLFiles(fsys)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		done, err := isApplied(ctx, pool, file)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, err
		}
		err = WithTx(ctx, pool, DefaultTxOptions(), func(tx pgx.Tx) error {
			if sql := strings.TrimSpace(string(data)); sql != "" {
				if _, err := tx.Exec(ctx, sql); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file)
			return err
		})
		if err != nil {
			return applied, &MigrationError{File: file, Err: err}
		}
		applied = append(applied, file)
	}
	return applied, nil
}

type MigrationError struct {
	File string
	Err  error
}

func (e *MigrationError) Error() string {
	return "migration " + e.File + ": " + e.Err.Error()
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func ensureSchemaTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if path.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, pool *pgxpool.Pool, file string) (bool, error) {
	var exists bool
	row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, file)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
