package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Execer is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Migrate applies every embedded migration in file name order. All statements
// are idempotent, so running it on every start is safe.
func Migrate(ctx context.Context, exec Execer) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to list migrations: %w", err)
	}
	sort.Strings(names)

	applied := make([]string, 0, len(names))
	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return applied, fmt.Errorf("[DATABASE] failed to read migration %s: %w", name, err)
		}
		if _, err := exec.Exec(ctx, string(sql)); err != nil {
			return applied, fmt.Errorf("[DATABASE] migration %s failed: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
