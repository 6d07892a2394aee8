// Package migrate applies the embedded helix schema and seed data.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Embedded holds the schema migrations under sql/ and seeds under seeds/.
func Embedded() fs.FS { return embedded }

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNothingApplied is returned by Down when no migration has run.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// stage is one bookkept directory of SQL files.
type stage struct {
	kind   string
	table  string
	dir    string
	suffix string
}

// Manager executes SQL migrations and seed files read from a file system.
// Every file runs in its own transaction together with its bookkeeping row.
type Manager struct {
	db         *sql.DB
	files      fs.FS
	migrations stage
	seeds      stage
	logger     *zap.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table. Names that
// are not plain lower-case identifiers are ignored.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.migrations.table = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.seeds.table = name
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager over files. Directory names are relative to
// the root of files; an empty name disables that stage.
func NewManager(db *sql.DB, files fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		files:      files,
		migrations: stage{kind: "migration", table: defaultMigrationsTable, dir: migrationsDir, suffix: upSuffix},
		seeds:      stage{kind: "seed", table: defaultSeedsTable, dir: seedsDir, suffix: ".sql"},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations)
}

// Seed applies pending seed files. Seeds already recorded are skipped.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds)
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrations.table)
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.migrations.table)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1]
	down := path.Join(m.migrations.dir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	src, err := fs.ReadFile(m.files, down)
	if err != nil {
		return fmt.Errorf("missing down migration for %s: %w", last, err)
	}

	record := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.runFile(ctx, string(src), record, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.logger.Info("migration rolled back", zap.String("name", last))
	return nil
}

func (m *Manager) applyPending(ctx context.Context, st stage) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, st.table)
	if err != nil {
		return err
	}
	done := make(map[string]struct{}, len(applied))
	for _, name := range applied {
		done[name] = struct{}{}
	}

	files, err := listSQL(m.files, st.dir, st.suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, st.table)
	for _, file := range files {
		name := path.Base(file)
		if _, ok := done[name]; ok {
			continue
		}
		src, err := fs.ReadFile(m.files, file)
		if err != nil {
			return err
		}
		if err := m.runFile(ctx, string(src), record, name, time.Now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", st.kind, name, err)
		}
		m.logger.Info(st.kind+" applied", zap.String("name", name))
	}
	return nil
}

// runFile executes every statement of src and then record in one transaction.
func (m *Manager) runFile(ctx context.Context, src, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(src) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// listSQL returns the files directly under dir ending in suffix, ordered by
// base name. A missing directory yields nothing.
func listSQL(fsys fs.FS, dir, suffix string) ([]string, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, path.Join(dir, e.Name()))
	}
	sort.Slice(files, func(i, j int) bool { return path.Base(files[i]) < path.Base(files[j]) })
	return files, nil
}

// splitStatements splits src on semicolons that are outside single quotes
// and $$ bodies. Whole-line "--" comments and blank statements are dropped.
func splitStatements(src string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
		dollar  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(src, "\n") {
		if !quoted && !dollar && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			c := line[i]
			if !quoted && c == '$' && i+1 < len(line) && line[i+1] == '$' {
				dollar = !dollar
				current.WriteString("$$")
				i++
				continue
			}
			current.WriteByte(c)
			switch {
			case c == '\'' && !dollar:
				quoted = !quoted
			case c == ';' && !quoted && !dollar:
				flush()
			}
		}
		current.WriteByte('\n')
	}
	flush()
	return stmts
}
