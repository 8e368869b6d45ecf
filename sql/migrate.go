package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"dsp/store"
)

//go:embed migrations
var migrations embed.FS

// Migrator applies the embedded schema migrations for the service's dialect.
// Applied versions are recorded in schema_migrations.
type Migrator struct {
	service *Service
	log     *zap.Logger
}

func NewMigrator(service *Service, log *zap.Logger) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{service: service, log: log}
}

// Up applies every migration newer than the recorded version. Each script
// runs in its own transaction.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	source, err := fs.Sub(migrations, "migrations/"+m.service.adapter.Dialect())
	if err != nil {
		return 0, store.WrapDriverError(err, m.service.Name(), "migrations")
	}
	list, err := fs.ReadDir(source, ".")
	if err != nil {
		return 0, store.WrapDriverError(err, m.service.Name(), "migrations")
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})

	if err := m.service.ExecuteSQL(ctx, m.service.adapter.MigrationTableSQL()); err != nil {
		return 0, err
	}
	current, err := m.Version(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, f := range list {
		n := f.Name()
		v, err := scriptVersion(n)
		if err != nil {
			return applied, err
		}
		if v <= current {
			continue
		}

		m.log.Debug("Executing schema migration", zap.String("migration_name", n))
		script, err := fs.ReadFile(source, n)
		if err != nil {
			return applied, err
		}
		err = m.service.WithTx(ctx, func(ctx context.Context) error {
			for _, stmt := range splitStatements(string(script)) {
				if err := m.service.ExecuteSQL(ctx, stmt); err != nil {
					return err
				}
			}
			return m.record(ctx, v)
		})
		if err != nil {
			return applied, err
		}
		applied++
	}

	if applied > 0 {
		m.log.Info("Applied schema migrations",
			zap.String("dialect", m.service.adapter.Dialect()),
			zap.Int("migration_count", applied))
	}
	return applied, nil
}

// Version returns the highest applied migration version, 0 when none.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	recs, err := m.service.Query(ctx, "schema_migrations", store.Criteria{Select: []string{"version"}})
	if err != nil {
		return 0, err
	}
	current := 0
	for _, rec := range recs {
		v, err := strconv.Atoi(store.FormatID(rec.Value("version")))
		if err != nil {
			continue
		}
		if v > current {
			current = v
		}
	}
	return current, nil
}

func (m *Migrator) record(ctx context.Context, version int) error {
	_, err := m.service.Mutate(ctx, "schema_migrations",
		store.NewInsert(store.RecordOf("version", fmt.Sprintf("%04d", version))))
	return err
}

// scriptVersion extracts the version from a file named like "0002_name.sql".
func scriptVersion(filename string) (int, error) {
	v, err := strconv.Atoi(strings.Split(filename, "_")[0])
	if err != nil {
		return 0, store.NewConfigErrorForField("migration", filename, "file name must start with a version number")
	}
	return v, nil
}

// splitStatements breaks a script into statements terminated by ";" at the
// end of a line.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if part == "" || isComment(part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

func isComment(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
