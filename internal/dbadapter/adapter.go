// Package dbadapter is a thin wrapper over an embedded SQL engine: pooled
// connections, re-entrant transactions, prepared-statement helpers and
// user-defined collations. It is THE CORE's only point of contact with the
// database/sql driver.
package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/camelmail/camelstore/framework/exterrors"
	"github.com/camelmail/camelstore/framework/log"
)

// Writes against a busy SQLite file surface as a generic *sql.Rows/Exec
// error; isBusyErr picks the lock-contention ones out of that and tags
// them exterrors.WithTemporary(true) so exterrors.IsTemporary can tell a
// transient busy window from a permanent write failure (a constraint
// violation, say), mirroring the queue's use of IsTemporary to decide
// whether a delivery failure is worth retrying. A small bounded retry
// smooths over that busy window instead of failing a write outright;
// retries never cross a transaction boundary, since re-running a
// statement against an already-broken *sql.Tx would not be safe.
const (
	maxWriteRetries = 3
	writeRetryDelay = 10 * time.Millisecond

	// slowQueryThreshold is the floor above which a statement or query is
	// worth a log line; below it, the prometheus histogram already covers
	// latency without spamming the log on every call.
	slowQueryThreshold = 250 * time.Millisecond
)

// Collation is a user-defined string comparison function, registered
// under a name before any connection is used. It mirrors the (len1,
// bytes1, len2, bytes2) -> i32 signature of the C adapter this package
// is modeled on: implementations receive raw strings instead of
// length/pointer pairs because Go strings already carry their length.
//
// Collations registered here are not pushed down as SQLite COLLATE
// sequences (the modernc.org/sqlite driver's support for that varies by
// version and is not something this package depends on); instead
// Lookup gives callers — chiefly the search package's subject/thread
// comparisons — a named, centrally registered comparator so query
// compilation and result post-processing agree on collation order
// without duplicating locale logic at each call site.
type Collation func(a, b string) int

// Lookup returns the collation registered under name, or nil.
func Lookup(name string) Collation {
	collationMu.Lock()
	defer collationMu.Unlock()
	return collationFunc[name]
}

// Opts configures a new Adapter.
type Opts struct {
	// Path is the SQLite file path, or ":memory:" for an ephemeral store.
	Path string
	// MaxReadConns bounds the read-connection pool. Zero means a small
	// sane default.
	MaxReadConns int
	// Collations are registered under their name before first use.
	Collations map[string]Collation
	Log        log.Logger
}

// Adapter owns one write connection and a pool of read connections over the
// same SQLite file. Writers serialize on writeMu; readers run concurrently
// through database/sql's own pool.
type Adapter struct {
	path string
	log  log.Logger

	writeMu   sync.Mutex
	writeDB   *sql.DB
	writeTxMu sync.Mutex
	writeTx   *sql.Tx
	txDepth   int // re-entrant transaction counter

	readDB *sql.DB

	metrics *metrics
}

// collationFunc is the process-wide name->Collation map read by Lookup,
// shared by every Adapter instance and guarded by collationMu. It is
// never handed to the SQLite driver.
var (
	collationMu   sync.Mutex
	collationFunc = map[string]Collation{}
)

// Open opens (or creates) the SQLite file at opts.Path and returns a ready
// Adapter. Collations passed in opts are added to the process-wide map
// that Lookup reads; they are not registered with SQLite, so SQL text
// cannot name them. Because the map is shared, a later Open that passes
// the same name replaces the function for every Adapter — callers should
// use adapter-instance-qualified collation names if isolation across
// multiple open stores in one process matters.
func Open(opts Opts) (*Adapter, error) {
	if opts.Path == "" {
		return nil, exterrors.New(exterrors.KindInvalid, "dbadapter: empty path")
	}
	if opts.MaxReadConns <= 0 {
		opts.MaxReadConns = 4
	}

	registerCollations(opts.Collations)

	dsn := opts.Path
	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, exterrors.Wrap(exterrors.KindIO, err, "dbadapter: open write conn")
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, exterrors.Wrap(exterrors.KindIO, err, "dbadapter: open read pool")
	}
	readDB.SetMaxOpenConns(opts.MaxReadConns)

	a := &Adapter{
		path:    opts.Path,
		log:     opts.Log,
		writeDB: writeDB,
		readDB:  readDB,
		metrics: newMetrics(opts.Path),
	}

	if err := a.exec(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.exec(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func registerCollations(cols map[string]Collation) {
	if len(cols) == 0 {
		return
	}
	collationMu.Lock()
	defer collationMu.Unlock()
	for name, fn := range cols {
		collationFunc[name] = fn
	}
}

// Close releases both connection pools. It is safe to call once.
func (a *Adapter) Close() error {
	var err error
	if a.writeDB != nil {
		if e := a.writeDB.Close(); e != nil {
			err = e
		}
	}
	if a.readDB != nil {
		if e := a.readDB.Close(); e != nil {
			err = e
		}
	}
	return err
}

// Begin starts (or, if already inside a transaction on this Adapter,
// joins) a write transaction. Nested Begin/Commit pairs are counted so
// inner callers can treat the adapter as always-transactional without
// knowing whether an outer caller already opened one.
func (a *Adapter) Begin(ctx context.Context) error {
	a.writeTxMu.Lock()
	defer a.writeTxMu.Unlock()

	if a.txDepth > 0 {
		a.txDepth++
		return nil
	}

	a.writeMu.Lock()
	tx, err := a.writeDB.BeginTx(ctx, nil)
	if err != nil {
		a.writeMu.Unlock()
		return exterrors.Wrap(exterrors.KindIO, err, "dbadapter: begin")
	}
	a.writeTx = tx
	a.txDepth = 1
	return nil
}

// Commit ends one level of transaction nesting, committing to disk only
// when the outermost Begin's matching Commit is reached.
func (a *Adapter) Commit() error {
	a.writeTxMu.Lock()
	defer a.writeTxMu.Unlock()

	if a.txDepth == 0 {
		return exterrors.New(exterrors.KindInvalid, "dbadapter: commit without begin")
	}
	a.txDepth--
	if a.txDepth > 0 {
		return nil
	}

	tx := a.writeTx
	a.writeTx = nil
	defer a.writeMu.Unlock()
	if err := tx.Commit(); err != nil {
		return exterrors.Wrap(exterrors.KindIO, err, "dbadapter: commit")
	}
	return nil
}

// Abort rolls back the entire transaction regardless of nesting depth —
// a single Abort call unwinds every level, matching the "abort
// transaction" op of the C adapter this package is modeled on.
func (a *Adapter) Abort() error {
	a.writeTxMu.Lock()
	defer a.writeTxMu.Unlock()

	if a.txDepth == 0 {
		return nil
	}
	tx := a.writeTx
	a.writeTx = nil
	a.txDepth = 0
	defer a.writeMu.Unlock()
	if err := tx.Rollback(); err != nil {
		return exterrors.Wrap(exterrors.KindIO, err, "dbadapter: rollback")
	}
	return nil
}

// InTransaction reports whether a write transaction is currently open on
// this Adapter.
func (a *Adapter) InTransaction() bool {
	a.writeTxMu.Lock()
	defer a.writeTxMu.Unlock()
	return a.txDepth > 0
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (a *Adapter) writeExecer() execer {
	if a.writeTx != nil {
		return a.writeTx
	}
	return a.writeDB
}

func (a *Adapter) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := a.ExecStatement(ctx, query, args...)
	return err
}

// trackQuery records query volume/latency via metrics and logs a line for
// any statement slower than slowQueryThreshold, so the query text shows up
// in the log rather than only as an anonymous histogram sample. It goes
// through Zap() rather than Msg/Error directly, since zap.Field values are
// what a caller already holding a *zap.Logger-shaped dependency expects.
func (a *Adapter) trackQuery(query string) func() {
	stopMetrics := a.metrics.startQuery()
	start := time.Now()
	return func() {
		stopMetrics()
		if d := time.Since(start); d > slowQueryThreshold {
			a.log.Zap().Warn("slow query", zap.Duration("duration", d), zap.String("query", query))
		}
	}
}

// isBusyErr reports whether err is modernc.org/sqlite's way of saying the
// write connection found the file locked (SQLITE_BUSY), as opposed to
// some other Exec failure (a constraint violation, a malformed
// statement) that retrying will never fix. The driver surfaces this as a
// plain error string rather than a typed value, so string matching is
// what's available.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ExecStatement runs a write statement (INSERT/UPDATE/DELETE/DDL),
// honoring any transaction opened with Begin. If no transaction is open,
// the statement runs in its own auto-committed transaction and a transient
// failure (SQLite busy) is retried a bounded number of times.
func (a *Adapter) ExecStatement(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stop := a.trackQuery(query)
	defer stop()

	a.writeTxMu.Lock()
	inTx := a.txDepth > 0
	exec := a.writeExecer()
	a.writeTxMu.Unlock()

	if !inTx {
		a.writeMu.Lock()
		defer a.writeMu.Unlock()
	}

	var lastErr error
	for attempt := 0; attempt <= maxWriteRetries; attempt++ {
		res, err := exec.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, exterrors.Wrap(exterrors.KindCancelled, err, "dbadapter: exec cancelled")
		}

		wrapped := exterrors.Wrap(exterrors.KindIO, err, "dbadapter: exec %q", query)
		lastErr = exterrors.WithTemporary(wrapped, isBusyErr(err))
		if inTx || attempt == maxWriteRetries || !exterrors.IsTemporary(lastErr) {
			return nil, lastErr
		}
		a.log.Zap().Warn("retrying write after transient error", zap.Error(lastErr), zap.Int("attempt", attempt+1))
		time.Sleep(writeRetryDelay)
	}
	return nil, lastErr
}

// ExecMulti runs each statement in order within the current transaction
// (or, if none is open, within one transaction spanning all of them),
// short-circuiting on the first error.
func (a *Adapter) ExecMulti(ctx context.Context, stmts ...string) error {
	owned := !a.InTransaction()
	if owned {
		if err := a.Begin(ctx); err != nil {
			return err
		}
		defer func() {
			if owned {
				a.Abort()
			}
		}()
	}
	for _, stmt := range stmts {
		if _, err := a.ExecStatement(ctx, stmt); err != nil {
			return err
		}
	}
	if owned {
		if err := a.Commit(); err != nil {
			return err
		}
		owned = false
	}
	return nil
}

// RowCallback is invoked once per result row. Returning an error aborts
// the scan and is propagated to the caller of ExecSelect.
type RowCallback func(scan func(dest ...interface{}) error) error

// ExecSelect runs a read query and streams each row through cb. Reads use
// the read pool unless a write transaction is currently open, in which
// case they are routed through it so callers see their own uncommitted
// writes (read-your-writes within one transaction).
func (a *Adapter) ExecSelect(ctx context.Context, query string, cb RowCallback, args ...interface{}) error {
	stop := a.trackQuery(query)
	defer stop()

	a.writeTxMu.Lock()
	inTx := a.txDepth > 0
	var exec execer
	if inTx {
		exec = a.writeTx
	} else {
		exec = a.readDB
	}
	a.writeTxMu.Unlock()

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return exterrors.Wrap(exterrors.KindCancelled, err, "dbadapter: select cancelled")
		}
		return exterrors.Wrap(exterrors.KindIO, err, "dbadapter: select %q", query)
	}
	defer rows.Close()

	for rows.Next() {
		if err := cb(rows.Scan); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return exterrors.Wrap(exterrors.KindIO, err, "dbadapter: row iteration")
	}
	return nil
}

// HasTable reports whether a table with the given name exists.
func (a *Adapter) HasTable(ctx context.Context, name string) (bool, error) {
	found := false
	err := a.ExecSelect(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name=?`,
		func(scan func(dest ...interface{}) error) error {
			found = true
			var one int
			return scan(&one)
		}, name)
	return found, err
}

// HasTableWithColumn reports whether table has a column named column.
func (a *Adapter) HasTableWithColumn(ctx context.Context, table, column string) (bool, error) {
	has, err := a.HasTable(ctx, table)
	if err != nil || !has {
		return false, err
	}
	found := false
	err = a.ExecSelect(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table),
		func(scan func(dest ...interface{}) error) error {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt interface{}
			if err := scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return err
			}
			if name == column {
				found = true
			}
			return nil
		})
	return found, err
}

// Maintenance runs engine housekeeping (VACUUM/ANALYZE-equivalent). It
// must not be called while a transaction is open.
func (a *Adapter) Maintenance(ctx context.Context) error {
	if a.InTransaction() {
		return exterrors.New(exterrors.KindInvalid, "dbadapter: maintenance during transaction")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.writeDB.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return exterrors.Wrap(exterrors.KindIO, err, "dbadapter: maintenance")
	}
	return nil
}

// ReleaseMemory drops per-connection caches. Safe to call from any
// goroutine at any time.
func (a *Adapter) ReleaseMemory() {
	ctx := context.Background()
	a.readDB.ExecContext(ctx, "PRAGMA shrink_memory")
	if !a.InTransaction() {
		a.writeDB.ExecContext(ctx, "PRAGMA shrink_memory")
	}
}
