package store

import (
	"context"
	"fmt"

	"github.com/camelmail/camelstore/framework/exterrors"
)

const createFoldersTable = `
CREATE TABLE IF NOT EXISTS folders (
	folder_name     TEXT PRIMARY KEY,
	folder_id       INTEGER UNIQUE,
	version         INTEGER NOT NULL DEFAULT 0,
	flags           INTEGER NOT NULL DEFAULT 0,
	nextuid         INTEGER NOT NULL DEFAULT 1,
	time            INTEGER NOT NULL DEFAULT 0,
	saved_count     INTEGER NOT NULL DEFAULT 0,
	unread_count    INTEGER NOT NULL DEFAULT 0,
	deleted_count   INTEGER NOT NULL DEFAULT 0,
	junk_count      INTEGER NOT NULL DEFAULT 0,
	visible_count   INTEGER NOT NULL DEFAULT 0,
	jnd_count       INTEGER NOT NULL DEFAULT 0,
	bdata           TEXT NOT NULL DEFAULT ''
)`

const createKeysTable = `
CREATE TABLE IF NOT EXISTS keys (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
)`

// messagesTableDDL returns the CREATE TABLE statement for one folder's
// message table (§4.2: "messages_<folder_id>").
func messagesTableDDL(folderID int64) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	uid          TEXT PRIMARY KEY,
	flags        INTEGER NOT NULL DEFAULT 0,
	dirty        INTEGER NOT NULL DEFAULT 0,
	subject      TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	to_addr      TEXT NOT NULL DEFAULT '',
	cc_addr      TEXT NOT NULL DEFAULT '',
	mlist        TEXT NOT NULL DEFAULT '',
	dsent        INTEGER NOT NULL DEFAULT 0,
	dreceived    INTEGER NOT NULL DEFAULT 0,
	size         INTEGER NOT NULL DEFAULT 0,
	part         TEXT NOT NULL DEFAULT '',
	labels       TEXT NOT NULL DEFAULT '',
	usertags     TEXT NOT NULL DEFAULT '0',
	cinfo        TEXT NOT NULL DEFAULT '',
	bdata        TEXT NOT NULL DEFAULT '',
	userheaders  TEXT NOT NULL DEFAULT '',
	preview      TEXT NOT NULL DEFAULT '',
	deleted      INTEGER GENERATED ALWAYS AS (flags & 2) STORED,
	junk         INTEGER GENERATED ALWAYS AS (flags & 64) STORED,
	read         INTEGER GENERATED ALWAYS AS (flags & 1) STORED
)`, messagesTableName(folderID))
}

func messagesTableIndexesDDL(folderID int64) []string {
	t := messagesTableName(folderID)
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_deleted_idx ON %s (deleted)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_junk_idx ON %s (junk)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_read_idx ON %s (read)`, t, t),
	}
}

func messagesTableName(folderID int64) string {
	return fmt.Sprintf("messages_%d", folderID)
}

// ensureSchema creates the base tables if absent and performs a one-shot
// legacy migration when an older generation is detected (§4.2
// "Migration"). progress, if non-nil, receives human-readable progress
// messages; it may be nil when the caller does not care.
func (s *Store) ensureSchema(ctx context.Context, progress func(msg string, percent int)) error {
	hasFolders, err := s.adapter.HasTable(ctx, "folders")
	if err != nil {
		return err
	}

	if !hasFolders {
		// Fresh store: create current-generation schema directly.
		if err := s.adapter.Begin(ctx); err != nil {
			return err
		}
		if err := s.adapter.ExecMulti(ctx, createFoldersTable, createKeysTable); err != nil {
			s.adapter.Abort()
			return err
		}
		if err := s.setStringKeyTx(ctx, "csdb::folders_version", fmt.Sprint(CurrentGeneration)); err != nil {
			s.adapter.Abort()
			return err
		}
		if err := s.setStringKeyTx(ctx, "csdb::messages_version", fmt.Sprint(CurrentGeneration)); err != nil {
			s.adapter.Abort()
			return err
		}
		return s.adapter.Commit()
	}

	hasFolderID, err := s.adapter.HasTableWithColumn(ctx, "folders", "folder_id")
	if err != nil {
		return err
	}
	if !hasFolderID {
		return s.migrateLegacy(ctx, progress)
	}

	// folder_id column exists; ensure generation-3 columns are present in
	// case a prior run stopped between gen-2 and gen-3 (idempotent retry,
	// §4.2 "the migration must be idempotent on re-open").
	return s.ensureGenerationColumns(ctx, progress)
}

func isReservedKeyErr(key string) error {
	if isReservedKey(key) {
		return exterrors.New(exterrors.KindInvalid, "store: %q is reserved for internal use", key).WithContext("key", key)
	}
	return nil
}
