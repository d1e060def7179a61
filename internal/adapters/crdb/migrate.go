package crdb

import (
	"context"
	"embed"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every embedded migration not yet recorded in schema_migrations.
// It returns the versions applied by this call.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}

	var applied []string
	for _, f := range files {
		var done bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, f).Scan(&done); err != nil {
			return applied, errors.Wrapf(err, "check %s", f)
		}
		if done {
			continue
		}

		sql, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return applied, errors.Wrapf(err, "read %s", f)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return applied, errors.Wrapf(err, "apply %s", f)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, f); err != nil {
			return applied, errors.Wrapf(err, "record %s", f)
		}
		applied = append(applied, f)
	}
	return applied, nil
}
