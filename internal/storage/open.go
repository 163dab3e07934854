package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/masahif/idarchiver/internal/crawler"
)

// IsPostgresDSN reports whether target names a Postgres database rather than a SQLite file
func IsPostgresDSN(target string) bool {
	return strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://")
}

// Open returns the store for target: a postgres:// DSN or a SQLite file path.
// The SQLite parent directory is created when missing.
func Open(ctx context.Context, target string) (crawler.Storage, error) {
	if IsPostgresDSN(target) {
		return NewPostgresStorage(ctx, target)
	}

	if dir := filepath.Dir(target); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return NewSQLiteStorage(target)
}
