package store

import (
	"context"

	"github.com/camelmail/camelstore/framework/exterrors"
)

// MessageRecord is one row of a folder's message table (§3.2).
type MessageRecord struct {
	UID         string
	Flags       Flags
	Dirty       int64
	Subject     string
	From        string
	To          string
	Cc          string
	MList       string
	DSent       int64
	DReceived   int64
	Size        int64
	Part        string // hashed message-id + hashed references (§4.4.5)
	Labels      []string
	UserTags    []UserTag
	CInfo       string
	BData       string
	UserHeaders string
	Preview     string
}

const messageColumns = `uid, flags, dirty, subject, author, to_addr, cc_addr, mlist, dsent, dreceived,
	size, part, labels, usertags, cinfo, bdata, userheaders, preview`

func scanMessageRow(scan func(dest ...interface{}) error) (MessageRecord, error) {
	var m MessageRecord
	var flags int64
	var labels, usertags string
	err := scan(&m.UID, &flags, &m.Dirty, &m.Subject, &m.From, &m.To, &m.Cc, &m.MList, &m.DSent, &m.DReceived,
		&m.Size, &m.Part, &labels, &usertags, &m.CInfo, &m.BData, &m.UserHeaders, &m.Preview)
	if err != nil {
		return MessageRecord{}, err
	}
	m.Flags = Flags(flags)
	m.Labels = DecodeLabels(labels)
	m.UserTags = DecodeUserTags(usertags)
	return m, nil
}

func (s *Store) folderIDOrErr(ctx context.Context, name string) (int64, error) {
	rec, found, err := s.readFolderTx(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, exterrors.New(exterrors.KindNotFound, "store: folder %q not found", name).WithContext("folder", name)
	}
	return rec.FolderID, nil
}

// WriteMessage inserts or replaces m in folder.
func (s *Store) WriteMessage(ctx context.Context, folder string, m MessageRecord) error {
	folderID, err := s.folderIDOrErr(ctx, folder)
	if err != nil {
		return err
	}
	SortUserTags(m.UserTags)
	_, err = s.adapter.ExecStatement(ctx, `
		INSERT INTO `+messagesTableName(folderID)+` (`+messageColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(uid) DO UPDATE SET
			flags=excluded.flags, dirty=excluded.dirty, subject=excluded.subject, author=excluded.author,
			to_addr=excluded.to_addr, cc_addr=excluded.cc_addr, mlist=excluded.mlist,
			dsent=excluded.dsent, dreceived=excluded.dreceived, size=excluded.size, part=excluded.part,
			labels=excluded.labels, usertags=excluded.usertags, cinfo=excluded.cinfo, bdata=excluded.bdata,
			userheaders=excluded.userheaders, preview=excluded.preview`,
		m.UID, int64(m.Flags), m.Dirty, m.Subject, m.From, m.To, m.Cc, m.MList, m.DSent, m.DReceived,
		m.Size, m.Part, EncodeLabels(m.Labels), EncodeUserTags(m.UserTags), m.CInfo, m.BData, m.UserHeaders, m.Preview)
	return err
}

// ReadMessage reads one message by UID.
func (s *Store) ReadMessage(ctx context.Context, folder, uid string) (MessageRecord, error) {
	folderID, err := s.folderIDOrErr(ctx, folder)
	if err != nil {
		return MessageRecord{}, err
	}
	var rec MessageRecord
	found := false
	err = s.adapter.ExecSelect(ctx, `SELECT `+messageColumns+` FROM `+messagesTableName(folderID)+` WHERE uid=?`,
		func(scan func(dest ...interface{}) error) error {
			found = true
			var e error
			rec, e = scanMessageRow(scan)
			return e
		}, uid)
	if err != nil {
		return MessageRecord{}, err
	}
	if !found {
		return MessageRecord{}, exterrors.New(exterrors.KindNotFound, "store: message %q/%q not found", folder, uid).
			WithContext("folder", folder).WithContext("uid", uid)
	}
	return rec, nil
}

// MessageCallback is invoked once per message row streamed by ReadMessages.
type MessageCallback func(MessageRecord) error

// ReadMessages streams every message in folder to cb in uid order.
func (s *Store) ReadMessages(ctx context.Context, folder string, cb MessageCallback) error {
	folderID, err := s.folderIDOrErr(ctx, folder)
	if err != nil {
		return err
	}
	return s.adapter.ExecSelect(ctx, `SELECT `+messageColumns+` FROM `+messagesTableName(folderID)+` ORDER BY uid`,
		func(scan func(dest ...interface{}) error) error {
			rec, err := scanMessageRow(scan)
			if err != nil {
				return err
			}
			return cb(rec)
		})
}

// QueryMessages streams the messages of folder matching a caller-supplied
// WHERE fragment (whereSQL/args) to cb, in uid order. A whereSQL of "1"
// performs a full scan; this is how the search package's compiled SQL
// narrowing (§4.4.2) is actually executed against the database.
func (s *Store) QueryMessages(ctx context.Context, folder, whereSQL string, args []interface{}, cb MessageCallback) error {
	folderID, err := s.folderIDOrErr(ctx, folder)
	if err != nil {
		return err
	}
	query := `SELECT ` + messageColumns + ` FROM ` + messagesTableName(folderID) + ` WHERE ` + whereSQL + ` ORDER BY uid`
	return s.adapter.ExecSelect(ctx, query,
		func(scan func(dest ...interface{}) error) error {
			rec, err := scanMessageRow(scan)
			if err != nil {
				return err
			}
			return cb(rec)
		}, args...)
}

// DeleteMessage removes one message by UID.
func (s *Store) DeleteMessage(ctx context.Context, folder, uid string) error {
	folderID, err := s.folderIDOrErr(ctx, folder)
	if err != nil {
		return err
	}
	_, err = s.adapter.ExecStatement(ctx, `DELETE FROM `+messagesTableName(folderID)+` WHERE uid=?`, uid)
	return err
}

// DeleteMessages removes a batch of UIDs from folder in one transaction.
func (s *Store) DeleteMessages(ctx context.Context, folder string, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	folderID, err := s.folderIDOrErr(ctx, folder)
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
	table := messagesTableName(folderID)
	for _, uid := range uids {
		if _, err := s.adapter.ExecStatement(ctx, `DELETE FROM `+table+` WHERE uid=?`, uid); err != nil {
			return err
		}
	}
	if err := s.adapter.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) dupUIDsWhere(ctx context.Context, folder, where string, args ...interface{}) ([]string, error) {
	folderID, err := s.folderIDOrErr(ctx, folder)
	if err != nil {
		return nil, err
	}
	var uids []string
	err = s.adapter.ExecSelect(ctx, `SELECT uid FROM `+messagesTableName(folderID)+` `+where,
		func(scan func(dest ...interface{}) error) error {
			var uid string
			if err := scan(&uid); err != nil {
				return err
			}
			uids = append(uids, uid)
			return nil
		}, args...)
	return uids, err
}

// DupUIDsWithFlags returns UIDs whose flags have all bits of want set.
func (s *Store) DupUIDsWithFlags(ctx context.Context, folder string, want Flags) ([]string, error) {
	return s.dupUIDsWhere(ctx, folder, "WHERE (flags & ?) = ?", int64(want), int64(want))
}

// DupJunkUIDs returns UIDs flagged junk.
func (s *Store) DupJunkUIDs(ctx context.Context, folder string) ([]string, error) {
	return s.dupUIDsWhere(ctx, folder, "WHERE junk<>0")
}

// DupDeletedUIDs returns UIDs flagged deleted.
func (s *Store) DupDeletedUIDs(ctx context.Context, folder string) ([]string, error) {
	return s.dupUIDsWhere(ctx, folder, "WHERE deleted<>0")
}
