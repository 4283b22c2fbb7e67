package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/migrations"
)

// Migrate applies every pending migration to the database at dsn.
func Migrate(ctx context.Context, dsn string, logger *slog.Logger) error {
	pool, err := db.New(ctx, dsn, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("migrate: connect: %w", err)
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, migrations.FS, logger)
}
