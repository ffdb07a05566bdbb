package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/md-rashed-zaman/tutorslots/libs/db"
)

// Migrate applies every *.sql file in files, in name order. The scripts are
// written to be re-runnable.
func Migrate(ctx context.Context, pool *db.Pool, files fs.FS, logger *slog.Logger) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return err
	}
	slices.Sort(names)
	for _, name := range names {
		sql, err := fs.ReadFile(files, name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		logger.Info("migration applied", "file", name)
	}
	return nil
}
