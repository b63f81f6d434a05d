package store

import (
	"context"
	"fmt"
	"sort"
)

// ProgressFunc reports migration progress as a human-readable message and
// a 0-100 percent-complete estimate (§4.2: "Progress must be reportable
// through the cancellable handle (push message / percent)").
type ProgressFunc func(msg string, percent int)

// Migrate runs the legacy-schema migration if one is pending, reporting
// progress through progress (may be nil). It is idempotent: calling it on
// an already-current store is a cheap no-op.
func (s *Store) Migrate(ctx context.Context, progress ProgressFunc) error {
	return s.ensureSchema(ctx, progress)
}

// legacyFolderNames returns the distinct folder names present in a
// pre-folder_id folders table, in deterministic (alphabetical) order so
// the freshly assigned folder_ids are reproducible across re-runs of a
// migration that is interrupted and retried — relevant because §4.2
// requires migration to be idempotent on re-open.
func (s *Store) legacyFolderNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.adapter.ExecSelect(ctx, `SELECT folder_name FROM folders`,
		func(scan func(dest ...interface{}) error) error {
			var n string
			if err := scan(&n); err != nil {
				return err
			}
			names = append(names, n)
			return nil
		})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// migrateLegacy performs the one-shot migration described in §4.2. It
// runs under a single transaction so that a crash or cancellation leaves
// the pre-migration schema untouched.
func (s *Store) migrateLegacy(ctx context.Context, progress ProgressFunc) error {
	report := func(msg string, pct int) {
		if progress != nil {
			progress(msg, pct)
		}
	}

	s.log.Msg("starting legacy schema migration")

	report("detecting legacy folders", 0)
	names, err := s.legacyFolderNames(ctx)
	if err != nil {
		s.log.Error("legacy migration failed", err)
		return err
	}

	if err := s.adapter.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			s.adapter.Abort()
		}
	}()

	// (i) add folder_id column and assign fresh ids, deterministically,
	// before any renaming so concurrent readers never see a half-migrated
	// folders table referencing a not-yet-created messages_<id> table.
	if _, err := s.adapter.ExecStatement(ctx, `ALTER TABLE folders ADD COLUMN folder_id INTEGER`); err != nil {
		return err
	}

	ids := make(map[string]int64, len(names))
	for i, name := range names {
		id := int64(i + 1)
		ids[name] = id
		if _, err := s.adapter.ExecStatement(ctx, `UPDATE folders SET folder_id=? WHERE folder_name=?`, id, name); err != nil {
			return err
		}
	}
	if _, err := s.adapter.ExecStatement(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS folders_folder_id_idx ON folders(folder_id)`); err != nil {
		return err
	}

	if err := s.ensureFolderCounterColumns(ctx); err != nil {
		return err
	}

	total := len(names)
	for i, name := range names {
		id := ids[name]
		report(fmt.Sprintf("migrating folder %q", name), (i * 80 / max1(total)))

		legacyTable := quoteIdent(name)
		hasLegacy, err := s.adapter.HasTable(ctx, name)
		if err != nil {
			return err
		}
		if hasLegacy {
			// (ii) rename "<folder_name>" -> messages_<folder_id>
			if _, err := s.adapter.ExecStatement(ctx, `ALTER TABLE `+legacyTable+` RENAME TO `+messagesTableName(id)); err != nil {
				return err
			}
		} else {
			if err := s.adapter.ExecMulti(ctx, messagesTableDDL(id)); err != nil {
				return err
			}
		}

		// (iii) add generation <= current columns with defaults.
		if err := s.addColumnIfMissing(ctx, messagesTableName(id), "userheaders", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		if err := s.addColumnIfMissing(ctx, messagesTableName(id), "preview", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		if err := s.addColumnIfMissing(ctx, messagesTableName(id), "dirty", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}

		// (iv) merge <name>_preview / <name>_bodystructure side tables.
		if err := s.mergeSideTable(ctx, name, id, name+"_preview", "preview"); err != nil {
			return err
		}
		if err := s.mergeSideTable(ctx, name, id, name+"_bodystructure", "cinfo"); err != nil {
			return err
		}

		// (v) drop <name>_version side tables.
		if _, err := s.adapter.ExecStatement(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name+"_version")); err != nil {
			return err
		}

		for _, idx := range messagesTableIndexesDDL(id) {
			if _, err := s.adapter.ExecStatement(ctx, idx); err != nil {
				return err
			}
		}
	}

	// (vi) write schema-version keys.
	if _, err := s.adapter.HasTable(ctx, "keys"); err != nil {
		return err
	}
	if _, err := s.adapter.ExecStatement(ctx, createKeysTable); err != nil {
		return err
	}
	if err := s.setStringKeyTx(ctx, "csdb::folders_version", fmt.Sprint(CurrentGeneration)); err != nil {
		return err
	}
	if err := s.setStringKeyTx(ctx, "csdb::messages_version", fmt.Sprint(CurrentGeneration)); err != nil {
		return err
	}

	report("migration complete", 100)

	if err := s.adapter.Commit(); err != nil {
		s.log.Error("legacy migration failed", err)
		return err
	}
	committed = true
	s.log.Msg("legacy schema migration complete", "folders", total)
	return nil
}

// ensureGenerationColumns is the idempotent-retry path: folder_id already
// exists, but a prior migration attempt may have stopped before adding
// generation-3 columns to every message table.
func (s *Store) ensureGenerationColumns(ctx context.Context, progress ProgressFunc) error {
	if _, found, err := s.DupStringKey(ctx, "csdb::folders_version"); err != nil {
		return err
	} else if found {
		return nil // already fully migrated
	}

	var ids []int64
	err := s.adapter.ExecSelect(ctx, `SELECT folder_id FROM folders WHERE folder_id IS NOT NULL`,
		func(scan func(dest ...interface{}) error) error {
			var id int64
			if err := scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	if err != nil {
		return err
	}

	if err := s.adapter.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			s.adapter.Abort()
		}
	}()

	if err := s.ensureFolderCounterColumns(ctx); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.addColumnIfMissing(ctx, messagesTableName(id), "userheaders", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		if err := s.addColumnIfMissing(ctx, messagesTableName(id), "preview", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	if _, err := s.adapter.ExecStatement(ctx, createKeysTable); err != nil {
		return err
	}
	if err := s.setStringKeyTx(ctx, "csdb::folders_version", fmt.Sprint(CurrentGeneration)); err != nil {
		return err
	}
	if err := s.setStringKeyTx(ctx, "csdb::messages_version", fmt.Sprint(CurrentGeneration)); err != nil {
		return err
	}
	if err := s.adapter.Commit(); err != nil {
		return err
	}
	committed = true
	if progress != nil {
		progress("generation columns ensured", 100)
	}
	return nil
}

func (s *Store) ensureFolderCounterColumns(ctx context.Context) error {
	cols := []struct{ name, ddl string }{
		{"version", "INTEGER NOT NULL DEFAULT 0"},
		{"flags", "INTEGER NOT NULL DEFAULT 0"},
		{"nextuid", "INTEGER NOT NULL DEFAULT 1"},
		{"time", "INTEGER NOT NULL DEFAULT 0"},
		{"saved_count", "INTEGER NOT NULL DEFAULT 0"},
		{"unread_count", "INTEGER NOT NULL DEFAULT 0"},
		{"deleted_count", "INTEGER NOT NULL DEFAULT 0"},
		{"junk_count", "INTEGER NOT NULL DEFAULT 0"},
		{"visible_count", "INTEGER NOT NULL DEFAULT 0"},
		{"jnd_count", "INTEGER NOT NULL DEFAULT 0"},
		{"bdata", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, c := range cols {
		if err := s.addColumnIfMissing(ctx, "folders", c.name, c.ddl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) addColumnIfMissing(ctx context.Context, table, column, ddl string) error {
	has, err := s.adapter.HasTableWithColumn(ctx, table, column)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.adapter.ExecStatement(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, quoteIdent(table), column, ddl))
	return err
}

// mergeSideTable copies column targetColumn of every row in sideTable
// (keyed by uid) into the already-renamed main message table, then drops
// sideTable. Missing side tables are a no-op — not every legacy folder
// accumulated preview/bodystructure side data.
func (s *Store) mergeSideTable(ctx context.Context, folderName string, folderID int64, sideTable, targetColumn string) error {
	has, err := s.adapter.HasTable(ctx, sideTable)
	if err != nil || !has {
		return err
	}

	hasValueCol, err := s.adapter.HasTableWithColumn(ctx, sideTable, "value")
	if err != nil {
		return err
	}
	if !hasValueCol {
		// Unknown legacy layout; drop without merging rather than guessing
		// at a column name and silently corrupting data.
		_, err := s.adapter.ExecStatement(ctx, `DROP TABLE IF EXISTS `+quoteIdent(sideTable))
		return err
	}

	_, err = s.adapter.ExecStatement(ctx, fmt.Sprintf(
		`UPDATE %s SET %s = (SELECT value FROM %s WHERE %s.uid = %s.uid)
		 WHERE uid IN (SELECT uid FROM %s)`,
		messagesTableName(folderID), targetColumn, quoteIdent(sideTable), quoteIdent(sideTable), messagesTableName(folderID), quoteIdent(sideTable)))
	if err != nil {
		return err
	}

	_, err = s.adapter.ExecStatement(ctx, `DROP TABLE IF EXISTS `+quoteIdent(sideTable))
	return err
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
