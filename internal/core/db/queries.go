package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries runs named SQL queries loaded from embedded .sql files.
type Queries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
}

// LoadQueries parses every embedded query file into one named query set.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	var combined strings.Builder

	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		combined.Write(content)
		combined.WriteString("\n")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combined.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}
	return &Queries{dot: dot, db: db}, nil
}

func (q *Queries) raw(name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return q.db.Rebind(query), nil
}

// Select runs a named query into dest. Placeholders are rebound for the driver.
func (q *Queries) Select(ctx context.Context, name string, dest interface{}, args ...interface{}) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return q.db.SelectContext(ctx, dest, query, args...)
}

// Exec runs a named statement.
func (q *Queries) Exec(ctx context.Context, name string, args ...interface{}) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, query, args...)
	return err
}

// DenylistStore serves the server-only denylists from the database.
type DenylistStore struct {
	queries *Queries
}

// NewDenylistStore wraps loaded queries.
func NewDenylistStore(q *Queries) *DenylistStore {
	return &DenylistStore{queries: q}
}

// ListBannedDomains returns banned email domains in lowercase, sorted.
func (s *DenylistStore) ListBannedDomains(ctx context.Context) ([]string, error) {
	var domains []string
	if err := s.queries.Select(ctx, "list-banned-domains", &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// ListReservedUsernames returns reserved usernames, sorted.
func (s *DenylistStore) ListReservedUsernames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.queries.Select(ctx, "list-reserved-usernames", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// AddBannedDomain inserts a domain. Duplicates are ignored.
func (s *DenylistStore) AddBannedDomain(ctx context.Context, domain string) error {
	return s.queries.Exec(ctx, "add-banned-domain", strings.ToLower(strings.TrimSpace(domain)))
}

// AddReservedUsername inserts a username. Duplicates are ignored.
func (s *DenylistStore) AddReservedUsername(ctx context.Context, name string) error {
	return s.queries.Exec(ctx, "add-reserved-username", strings.TrimSpace(name))
}
