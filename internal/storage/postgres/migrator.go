package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Схема маркетплейса версионируется парами embedded-файлов
// NNNNNN_name.up.sql / NNNNNN_name.down.sql.

const (
	migrationsDir = "sql/migrations"
	// schemaLockID: ключ pg_advisory_lock, сериализующий параллельные запуски migrate.
	schemaLockID = int64(71142026)

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationNameRe = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)
)

type migrationStep string

const (
	stepUp   migrationStep = "up"
	stepDown migrationStep = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// migrationSet отсортирован по возрастанию версии.
type migrationSet []migration

func (set migrationSet) find(version int64) (migration, bool) {
	idx, ok := slices.BinarySearchFunc(set, version, func(m migration, v int64) int {
		return cmp.Compare(m.Version, v)
	})
	if !ok {
		return migration{}, false
	}
	return set[idx], true
}

// pending возвращает ещё не применённые миграции; limit<=0 снимает ограничение.
func (set migrationSet) pending(applied []int64, limit int) migrationSet {
	var out migrationSet
	for _, m := range set {
		if slices.Contains(applied, m.Version) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// MigrateUp накатывает схему каталога, заказов, outbox и идемпотентности.
// steps=0 применяет всё, что ещё не применено.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, stepUp, steps)
}

// MigrateDown откатывает последние steps миграций (минимум одну).
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, stepDown, max(steps, 1))
}

// MigrationStatus возвращает максимальную применённую версию и число записей в schema_migrations.
func (s *Store) MigrationStatus(ctx context.Context) (version int64, applied int, err error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err = s.db.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	err = s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &applied)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	return version, applied, nil
}

func (s *Store) migrate(ctx context.Context, step migrationStep, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if step != stepUp && step != stepDown {
		return fmt.Errorf("unknown migration step %q", step)
	}

	set, err := readMigrationSet(migrationsFS)
	if err != nil {
		return err
	}

	return s.withSchemaLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersionsDesc(ctx, conn)
		if err != nil {
			return err
		}

		if step == stepUp {
			for _, m := range set.pending(applied, steps) {
				if err := runMigration(ctx, conn, m, stepUp); err != nil {
					return err
				}
			}
			return nil
		}

		for _, version := range applied[:min(steps, len(applied))] {
			m, ok := set.find(version)
			if !ok {
				return fmt.Errorf("schema has version %d that is not embedded in this build", version)
			}
			if err := runMigration(ctx, conn, m, stepDown); err != nil {
				return err
			}
		}
		return nil
	})
}

// withSchemaLock держит advisory lock на выделенном соединении на время fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("take schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, schemaLockID)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn)
}

// runMigration выполняет скрипт и учёт в schema_migrations одной транзакцией.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, step migrationStep) (err error) {
	script, bookkeeping, args := m.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
	if step == stepDown {
		script, bookkeeping, args = m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s %s: begin: %w", step, m.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("migrate %s %s: %w", step, m.label(), err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("migrate %s %s: bookkeeping: %w", step, m.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migrate %s %s: commit: %w", step, m.label(), err)
	}
	return nil
}

func appliedVersionsDesc(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// readMigrationSet собирает пары up/down из migrationsDir и проверяет их полноту.
func readMigrationSet(fsys fs.FS) (migrationSet, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsDir, err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		parts := migrationNameRe.FindStringSubmatch(fileName)
		if parts == nil {
			return nil, fmt.Errorf("migration %s: name must look like 000001_name.up.sql", fileName)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: version: %w", fileName, err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, fileName))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", fileName, err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration %s: file is empty", fileName)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d is named both %q and %q", version, m.Name, parts[2])
		}

		target := &m.UpSQL
		if migrationStep(parts[3]) == stepDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("migration %s: duplicate %s script", m.label(), parts[3])
		}
		*target = script
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migrations embedded")
	}

	set := make(migrationSet, 0, len(byVersion))
	for _, m := range byVersion {
		switch {
		case m.UpSQL == "":
			return nil, fmt.Errorf("migration %s is missing its up script", m.label())
		case m.DownSQL == "":
			return nil, fmt.Errorf("migration %s is missing its down script", m.label())
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return set, nil
}
