package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// advisoryLockKey защищает миграции от конкурентного запуска
// несколькими экземплярами сервиса.
const advisoryLockKey int64 = 794_215_038

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Migration описывает одну версию схемы с парой up/down скриптов.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type migrationBuilder struct {
	version int64
	name    string
	upSQL   string
	downSQL string
}

// MigrateUp применяет up-миграции до версии target включительно.
// target == 0 означает "все доступные миграции".
func (s *Store) MigrateUp(ctx context.Context, target int64) error {
	migrations, err := loadMigrationsFromFS()
	if err != nil {
		return err
	}

	return s.withAdvisoryLock(ctx, func(ctx context.Context) error {
		if err := s.ensureMigrationsTable(ctx); err != nil {
			return err
		}
		applied, err := s.loadAppliedVersions(ctx)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			if target > 0 && m.Version > target {
				break
			}
			if applied[m.Version] {
				continue
			}
			if err := s.applyOneUp(ctx, m); err != nil {
				return fmt.Errorf("apply migration %d_%s: %w", m.Version, m.Name, err)
			}
		}
		return nil
	})
}

// MigrateDown откатывает миграции до версии target. target == 0
// откатывает всё.
func (s *Store) MigrateDown(ctx context.Context, target int64) error {
	migrations, err := loadMigrationsFromFS()
	if err != nil {
		return err
	}
	byVersion := make(map[int64]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	return s.withAdvisoryLock(ctx, func(ctx context.Context) error {
		if err := s.ensureMigrationsTable(ctx); err != nil {
			return err
		}
		applied, err := s.loadAppliedVersionsDesc(ctx)
		if err != nil {
			return err
		}
		for _, version := range applied {
			if version <= target {
				break
			}
			m, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("no down script for applied version %d", version)
			}
			if err := s.applyOneDown(ctx, m); err != nil {
				return fmt.Errorf("revert migration %d_%s: %w", m.Version, m.Name, err)
			}
		}
		return nil
	})
}

// MigrationStatus возвращает версии миграций и отметку о применении.
func (s *Store) MigrationStatus(ctx context.Context) ([]Migration, map[int64]bool, error) {
	migrations, err := loadMigrationsFromFS()
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := s.loadAppliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return migrations, applied, nil
}

func (s *Store) withAdvisoryLock(ctx context.Context, fn func(context.Context) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockKey)
	}()

	return fn(ctx)
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return nil
}

func (s *Store) loadAppliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version ASC")
	if err != nil {
		return nil, fmt.Errorf("load applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) loadAppliedVersionsDesc(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version DESC")
	if err != nil {
		return nil, fmt.Errorf("load applied versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (s *Store) applyOneUp(ctx context.Context, m Migration) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
			m.Version, m.Name)
		return err
	})
}

func (s *Store) applyOneDown(ctx context.Context, m Migration) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM schema_migrations WHERE version = $1", m.Version)
		return err
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func loadMigrationsFromFS() ([]Migration, error) {
	entries, err := fs.Glob(migrationsFS, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}

	builders := make(map[int64]*migrationBuilder)
	for _, path := range entries {
		base := path[strings.LastIndex(path, "/")+1:]
		match := migrationFilePattern.FindStringSubmatch(base)
		if match == nil {
			return nil, fmt.Errorf("migration file %q does not match NNN_name.(up|down).sql", base)
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", match[1], err)
		}
		body, err := migrationsFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", path, err)
		}

		b, ok := builders[version]
		if !ok {
			b = &migrationBuilder{version: version, name: match[2]}
			builders[version] = b
		}
		if b.name != match[2] {
			return nil, fmt.Errorf("migration version %d has conflicting names %q and %q", version, b.name, match[2])
		}
		switch match[3] {
		case "up":
			b.upSQL = string(body)
		case "down":
			b.downSQL = string(body)
		}
	}

	migrations := make([]Migration, 0, len(builders))
	for _, b := range builders {
		if b.upSQL == "" {
			return nil, fmt.Errorf("migration %d_%s is missing up script", b.version, b.name)
		}
		migrations = append(migrations, Migration{
			Version: b.version,
			Name:    b.name,
			UpSQL:   b.upSQL,
			DownSQL: b.downSQL,
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
