package store

import (
	"context"

	"github.com/camelmail/camelstore/framework/exterrors"
)

// FolderRecord is one row of the folders table (§3.1).
type FolderRecord struct {
	Name         string
	FolderID     int64
	Version      int64
	Flags        int64
	NextUID      int64
	Timestamp    int64
	SavedCount   int64
	UnreadCount  int64
	DeletedCount int64
	JunkCount    int64
	VisibleCount int64
	JndCount     int64
	BData        string
}

// CountKind selects which counter CountMessages reports (§4.2).
type CountKind int

const (
	CountTotal CountKind = iota
	CountUnread
	CountJunk
	CountDeleted
	CountNotJunkNotDeleted
	CountNotJunkNotDeletedUnread
	CountJunkNotDeleted
)

// WriteFolder inserts or replaces the folder record named rec.Name. On
// insert, FolderID is assigned as max(folder_id)+1 over existing records
// (reusing the current maximum only when no higher-numbered record
// exists — §4.2, and the Open Question in §8 resolved in DESIGN.md); on
// replace, the existing FolderID is kept regardless of rec.FolderID.
// First-insert has the side effect of creating the folder's message
// table (§4.2).
func (s *Store) WriteFolder(ctx context.Context, rec FolderRecord) (FolderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.adapter.Begin(ctx); err != nil {
		return FolderRecord{}, err
	}
	committed := false
	defer func() {
		if !committed {
			s.adapter.Abort()
		}
	}()

	existing, found, err := s.readFolderTx(ctx, rec.Name)
	if err != nil {
		return FolderRecord{}, err
	}

	if found {
		rec.FolderID = existing.FolderID
	} else {
		id, err := s.nextFolderIDTx(ctx)
		if err != nil {
			return FolderRecord{}, err
		}
		rec.FolderID = id
	}

	_, err = s.adapter.ExecStatement(ctx, `
		INSERT INTO folders (folder_name, folder_id, version, flags, nextuid, time,
			saved_count, unread_count, deleted_count, junk_count, visible_count, jnd_count, bdata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(folder_name) DO UPDATE SET
			version=excluded.version, flags=excluded.flags, nextuid=excluded.nextuid,
			time=excluded.time, saved_count=excluded.saved_count, unread_count=excluded.unread_count,
			deleted_count=excluded.deleted_count, junk_count=excluded.junk_count,
			visible_count=excluded.visible_count, jnd_count=excluded.jnd_count, bdata=excluded.bdata`,
		rec.Name, rec.FolderID, rec.Version, rec.Flags, rec.NextUID, rec.Timestamp,
		rec.SavedCount, rec.UnreadCount, rec.DeletedCount, rec.JunkCount, rec.VisibleCount, rec.JndCount, rec.BData)
	if err != nil {
		return FolderRecord{}, err
	}

	if !found {
		if err := s.adapter.ExecMulti(ctx, messagesTableDDL(rec.FolderID)); err != nil {
			return FolderRecord{}, err
		}
		for _, idx := range messagesTableIndexesDDL(rec.FolderID) {
			if _, err := s.adapter.ExecStatement(ctx, idx); err != nil {
				return FolderRecord{}, err
			}
		}
	}

	if err := s.adapter.Commit(); err != nil {
		return FolderRecord{}, err
	}
	committed = true
	return rec, nil
}

// nextFolderIDTx computes max(folder_id)+1, or 1 if the table is empty.
// Must be called with s.mu held and inside an open transaction.
func (s *Store) nextFolderIDTx(ctx context.Context) (int64, error) {
	var max int64
	err := s.adapter.ExecSelect(ctx, `SELECT COALESCE(MAX(folder_id), 0) FROM folders`,
		func(scan func(dest ...interface{}) error) error { return scan(&max) })
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (s *Store) readFolderTx(ctx context.Context, name string) (FolderRecord, bool, error) {
	var rec FolderRecord
	found := false
	err := s.adapter.ExecSelect(ctx, `
		SELECT folder_name, folder_id, version, flags, nextuid, time,
			saved_count, unread_count, deleted_count, junk_count, visible_count, jnd_count, bdata
		FROM folders WHERE folder_name=?`,
		func(scan func(dest ...interface{}) error) error {
			found = true
			return scan(&rec.Name, &rec.FolderID, &rec.Version, &rec.Flags, &rec.NextUID, &rec.Timestamp,
				&rec.SavedCount, &rec.UnreadCount, &rec.DeletedCount, &rec.JunkCount, &rec.VisibleCount, &rec.JndCount, &rec.BData)
		}, name)
	if err != nil {
		return FolderRecord{}, false, err
	}
	return rec, found, nil
}

// ReadFolder reads the folder record named name.
func (s *Store) ReadFolder(ctx context.Context, name string) (FolderRecord, error) {
	rec, found, err := s.readFolderTx(ctx, name)
	if err != nil {
		return FolderRecord{}, err
	}
	if !found {
		return FolderRecord{}, exterrors.New(exterrors.KindNotFound, "store: folder %q not found", name).WithContext("folder", name)
	}
	return rec, nil
}

// ListFolders returns every folder name in the store, alphabetically.
func (s *Store) ListFolders(ctx context.Context) ([]string, error) {
	var names []string
	err := s.adapter.ExecSelect(ctx, `SELECT folder_name FROM folders ORDER BY folder_name`,
		func(scan func(dest ...interface{}) error) error {
			var name string
			if err := scan(&name); err != nil {
				return err
			}
			names = append(names, name)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// GetFolderID returns the folder_id for name, or 0 if not found (mirrors
// §8.4 scenario 1's "get_folder_id(...) != 0" assertion style).
func (s *Store) GetFolderID(ctx context.Context, name string) (int64, error) {
	rec, found, err := s.readFolderTx(ctx, name)
	if err != nil || !found {
		return 0, err
	}
	return rec.FolderID, nil
}

// RenameFolder renames a folder record in place, preserving its folder_id
// and message table. Fails with KindExists if target already exists, or
// KindNotFound if source does not (§4.2).
func (s *Store) RenameFolder(ctx context.Context, oldName, newName string) error {
	if err := s.adapter.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			s.adapter.Abort()
		}
	}()

	if _, found, err := s.readFolderTx(ctx, newName); err != nil {
		return err
	} else if found {
		return exterrors.New(exterrors.KindExists, "store: folder %q already exists", newName).WithContext("folder", newName)
	}

	if _, found, err := s.readFolderTx(ctx, oldName); err != nil {
		return err
	} else if !found {
		return exterrors.New(exterrors.KindNotFound, "store: folder %q not found", oldName).WithContext("folder", oldName)
	}

	if _, err := s.adapter.ExecStatement(ctx, `UPDATE folders SET folder_name=? WHERE folder_name=?`, newName, oldName); err != nil {
		return err
	}

	if err := s.adapter.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// DeleteFolder drops the folder record and its message table (§3.6:
// "destroyed only on explicit delete (which also drops its message
// table)"). The vacated folder_id becomes reusable by WriteFolder only
// if it was the current maximum (§4.2).
func (s *Store) DeleteFolder(ctx context.Context, name string) error {
	if err := s.adapter.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			s.adapter.Abort()
		}
	}()

	rec, found, err := s.readFolderTx(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return exterrors.New(exterrors.KindNotFound, "store: folder %q not found", name).WithContext("folder", name)
	}

	if _, err := s.adapter.ExecStatement(ctx, `DROP TABLE IF EXISTS `+messagesTableName(rec.FolderID)); err != nil {
		return err
	}
	if _, err := s.adapter.ExecStatement(ctx, `DELETE FROM folders WHERE folder_name=?`, name); err != nil {
		return err
	}

	if err := s.adapter.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ClearFolder truncates the message table only, leaving the folder
// record (and its folder_id) intact — distinct from DeleteFolder (§8.2
// round-trip law: "delete_folder; write_folder preserves the stored
// message set iff it is a clear_folder").
func (s *Store) ClearFolder(ctx context.Context, name string) error {
	rec, found, err := s.readFolderTx(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return exterrors.New(exterrors.KindNotFound, "store: folder %q not found", name).WithContext("folder", name)
	}
	_, err = s.adapter.ExecStatement(ctx, `DELETE FROM `+messagesTableName(rec.FolderID))
	return err
}

func countKindWhere(kind CountKind) string {
	switch kind {
	case CountUnread:
		return `WHERE read=0`
	case CountJunk:
		return `WHERE junk<>0`
	case CountDeleted:
		return `WHERE deleted<>0`
	case CountNotJunkNotDeleted:
		return `WHERE junk=0 AND deleted=0`
	case CountNotJunkNotDeletedUnread:
		return `WHERE junk=0 AND deleted=0 AND read=0`
	case CountJunkNotDeleted:
		return `WHERE junk<>0 AND deleted=0`
	default:
		return ``
	}
}

// CountMessages returns the count of messages in folder matching kind.
func (s *Store) CountMessages(ctx context.Context, name string, kind CountKind) (int64, error) {
	rec, found, err := s.readFolderTx(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, exterrors.New(exterrors.KindNotFound, "store: folder %q not found", name).WithContext("folder", name)
	}
	var n int64
	query := `SELECT count(*) FROM ` + messagesTableName(rec.FolderID) + ` ` + countKindWhere(kind)
	err = s.adapter.ExecSelect(ctx, query, func(scan func(dest ...interface{}) error) error {
		return scan(&n)
	})
	return n, err
}
