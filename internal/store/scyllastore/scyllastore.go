// Package scyllastore keeps domain mappings in ScyllaDB or Cassandra.
//
// A mapping is one row in each of two tables keyed by name and by code.
// Uniqueness on both sides comes from lightweight transactions: the code row
// is claimed first, then the name row, and a lost name race releases the code.
package scyllastore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/scylladb/gocqlx/v3"
	"github.com/scylladb/gocqlx/v3/qb"
	"github.com/scylladb/gocqlx/v3/table"

	"github.com/die-net/samehost/internal/registry"
)

type domainRow struct {
	Name string
	Code string
}

var byNameMetadata = table.Metadata{
	Name:    "domains_by_name",
	Columns: []string{"name", "code"},
	PartKey: []string{"name"},
}

var byCodeMetadata = table.Metadata{
	Name:    "domains_by_code",
	Columns: []string{"code", "name"},
	PartKey: []string{"code"},
}

var (
	byNameTable = table.New(byNameMetadata)
	byCodeTable = table.New(byCodeMetadata)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS domains_by_name (name text PRIMARY KEY, code text)`,
	`CREATE TABLE IF NOT EXISTS domains_by_code (code text PRIMARY KEY, name text)`,
}

// Store implements registry.Store on a gocqlx session.
type Store struct {
	session gocqlx.Session
}

func New(session gocqlx.Session) *Store {
	return &Store{session: session}
}

// Open connects to hosts, selects keyspace and creates the tables if needed.
func Open(hosts []string, keyspace string, timeout time.Duration) (*Store, error) {
	if len(hosts) == 0 {
		return nil, errors.New("scylla: no hosts")
	}
	if keyspace == "" {
		return nil, errors.New("scylla: missing keyspace")
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	if timeout > 0 {
		cluster.Timeout = timeout
		cluster.ConnectTimeout = timeout
	}

	session, err := gocqlx.WrapSession(cluster.CreateSession())
	if err != nil {
		return nil, fmt.Errorf("scylla connect: %w", err)
	}

	s := New(session)
	if err := s.CreateTables(); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

// OpenURL opens a store described as scylla://host1[:port],host2/keyspace.
func OpenURL(rawURL string, timeout time.Duration) (*Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("scylla url: %w", err)
	}
	var hosts []string
	for h := range strings.SplitSeq(u.Host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return Open(hosts, strings.Trim(u.Path, "/"), timeout)
}

// CreateTables creates the mapping tables if they do not exist yet.
func (s *Store) CreateTables() error {
	for _, stmt := range schema {
		if err := s.session.ExecStmt(stmt); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
	}
	return nil
}

func (s *Store) FindByName(ctx context.Context, name string) (registry.Mapping, error) {
	var row domainRow
	q := s.session.Query(byNameTable.Get()).WithContext(ctx).BindMap(qb.M{"name": name})
	if err := q.GetRelease(&row); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return registry.Mapping{}, registry.ErrNotFound
		}
		return registry.Mapping{}, fmt.Errorf("scylla find name: %w", err)
	}
	return registry.Mapping{Name: row.Name, Code: row.Code}, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (registry.Mapping, error) {
	var row domainRow
	q := s.session.Query(byCodeTable.Get()).WithContext(ctx).BindMap(qb.M{"code": code})
	if err := q.GetRelease(&row); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return registry.Mapping{}, registry.ErrNotFound
		}
		return registry.Mapping{}, fmt.Errorf("scylla find code: %w", err)
	}
	return registry.Mapping{Name: row.Name, Code: row.Code}, nil
}

func (s *Store) InsertUnique(ctx context.Context, m registry.Mapping) error {
	row := domainRow{Name: m.Name, Code: m.Code}

	applied, err := s.session.Query(byCodeTable.InsertBuilder().Unique().ToCql()).
		WithContext(ctx).BindStruct(row).ExecCASRelease()
	if err != nil {
		return fmt.Errorf("scylla claim code: %w", err)
	}
	if !applied {
		owner, err := s.FindByCode(ctx, m.Code)
		if err != nil {
			return fmt.Errorf("scylla read code owner: %w", err)
		}
		if owner.Name != m.Name {
			return registry.ErrCodeConflict
		}
		// An earlier attempt for this name claimed the code and stopped
		// before writing the name row. Finish it.
	}

	applied, err = s.session.Query(byNameTable.InsertBuilder().Unique().ToCql()).
		WithContext(ctx).BindStruct(row).ExecCASRelease()
	if err != nil {
		return fmt.Errorf("scylla claim name: %w", err)
	}
	if applied {
		return nil
	}

	if existing, err := s.FindByName(ctx, m.Name); err == nil && existing.Code == m.Code {
		return nil
	}
	release := s.session.Query(byCodeTable.DeleteBuilder().If(qb.Eq("name")).ToCql()).
		WithContext(ctx).BindMap(qb.M{"code": m.Code, "name": m.Name})
	if _, err := release.ExecCASRelease(); err != nil {
		return fmt.Errorf("scylla release code %q: %w", m.Code, err)
	}
	return registry.ErrNameConflict
}

// Close closes the session.
func (s *Store) Close() {
	s.session.Close()
}
