// Package store implements the store database of §4.2: a schema-versioned,
// embedded-SQL-backed catalog of folders and per-folder message records,
// with online migration between schema versions.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/camelmail/camelstore/framework/log"
	"github.com/camelmail/camelstore/internal/dbadapter"
)

// reservedKeyPrefix is the namespace §3.3 reserves for internal keys;
// writes to keys under this prefix through the public API must fail.
const reservedKeyPrefix = "csdb::"

// CurrentGeneration is the schema generation this package reads and
// writes. Generation 3 introduced userheaders/preview columns (§4.2).
const CurrentGeneration = 3

// Config is passed into Open instead of relying on process-global state,
// per Design Notes §9 ("pass a Config struct into every constructor").
type Config struct {
	// MaxReadConns bounds the read-connection pool; zero picks a default.
	MaxReadConns int
	Log          log.Logger
}

// Store is a single SQLite-file-backed catalog of folders and their
// message tables (§6.1: "a single Store instance per process").
type Store struct {
	adapter *dbadapter.Adapter
	log     log.Logger

	// id is mixed into vUID hashing (§3.5 "source_store_uid") by callers
	// in the vfolder package; Store only hands it out.
	id uuid.UUID

	mu          sync.Mutex // serializes folder_id/next-id bookkeeping
	matchIdxSeq int64      // MatchIndex handle allocator (see search pkg)
}

// Open opens (creating if necessary) the store database at path and runs
// any pending migration (§4.2 "Migration"). The returned Store is ready
// for CRUD use.
func Open(path string, cfg Config) (*Store, error) {
	adapter, err := dbadapter.Open(dbadapter.Opts{
		Path:         path,
		MaxReadConns: cfg.MaxReadConns,
		Log:          cfg.Log,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		adapter: adapter,
		log:     cfg.Log,
		id:      uuid.New(),
	}

	ctx := context.Background()
	if err := s.ensureSchema(ctx, nil); err != nil {
		adapter.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database connections.
func (s *Store) Close() error { return s.adapter.Close() }

// ID returns this store's process-lifetime-stable identifier, used as the
// "source_store_uid" input to vUID hashing (§3.5).
func (s *Store) ID() uuid.UUID { return s.id }

// Adapter exposes the underlying dbadapter.Adapter for packages (search,
// vfolder) that need direct SQL access beyond this package's CRUD surface
// — e.g. compiled WHERE-clause execution against message tables whose
// names are only known at query time.
func (s *Store) Adapter() *dbadapter.Adapter { return s.adapter }

// NextMatchIndexHandle allocates a process-unique handle used by the
// search package's MatchIndex to stand in for the spec's pointer-identity
// requirement (§4.4.6, Open Questions: "implementations may substitute a
// registered integer handle").
func (s *Store) NextMatchIndexHandle() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchIdxSeq++
	return s.matchIdxSeq
}

func isReservedKey(key string) bool {
	return len(key) >= len(reservedKeyPrefix) && key[:len(reservedKeyPrefix)] == reservedKeyPrefix
}
