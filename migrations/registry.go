package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"

	wearables "github.com/goliatone/go-wearables"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			if dialect := NormalizeDialect(target); dialect != "" {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			r.ValidationTargets = dedupe(next)
		}
	}
}

func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		copied := make([]FilesystemSpec, 0, len(filesystems))
		for _, fsys := range filesystems {
			dialect := NormalizeDialect(fsys.Dialect)
			if dialect == "" || fsys.FS == nil {
				continue
			}
			copied = append(copied, FilesystemSpec{Dialect: dialect, Path: fsys.Path, FS: fsys.FS})
		}
		if len(copied) > 0 {
			r.Filesystems = copied
		}
	}
}

// NormalizeDialect maps driver names onto the two migration dialects.
func NormalizeDialect(value string) string {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return ""
	}
}

// Filesystems resolves the postgres and sqlite trees and checks both carry
// the same set of migration files.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := wearables.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: data/sql/migrations not found: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: base},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}

	var reference []string
	for i, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no migration files", fsys.Dialect, fsys.Path)
		}
		slices.Sort(matches)
		if i == 0 {
			reference = matches
			continue
		}
		if !slices.Equal(reference, matches) {
			return nil, fmt.Errorf("migrations: %s migrations diverge from %s", fsys.Dialect, filesystems[0].Dialect)
		}
	}
	return filesystems, nil
}

func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       "go-wearables",
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	if len(reg.ValidationTargets) == 0 {
		return reg, fmt.Errorf("migrations: validation targets are required")
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	for _, fsys := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, fsys.Dialect) {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, reg.SourceLabel, fsys.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
	}
	return reg, nil
}

// Apply registers the tree for one dialect on the client and runs it.
func Apply(ctx context.Context, client *persistence.Client, dialect string) error {
	if client == nil {
		return fmt.Errorf("migrations: persistence client is required")
	}
	target := NormalizeDialect(dialect)
	if target == "" {
		return fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	_, err := Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, WithValidationTargets(target))
	if err != nil {
		return err
	}
	return client.Migrate(ctx)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
