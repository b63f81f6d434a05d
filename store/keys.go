package store

import (
	"context"
	"strconv"

	"github.com/camelmail/camelstore/framework/exterrors"
)

// setStringKeyTx writes a key unconditionally without the reserved-prefix
// check, for internal bookkeeping keys (csdb::*) written by schema setup
// and migration code.
func (s *Store) setStringKeyTx(ctx context.Context, key, value string) error {
	_, err := s.adapter.ExecStatement(ctx,
		`INSERT INTO keys (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// SetStringKey writes key=value to the flat key-value store (§3.3).
// Writing to the csdb:: namespace through this public entry point fails
// with KindInvalid (§8.3: `set_int_key("csdb::anything", …)` → Invalid).
func (s *Store) SetStringKey(ctx context.Context, key, value string) error {
	if err := isReservedKeyErr(key); err != nil {
		return err
	}
	return s.setStringKeyTx(ctx, key, value)
}

// SetIntKey is SetStringKey for integer values.
func (s *Store) SetIntKey(ctx context.Context, key string, value int64) error {
	if err := isReservedKeyErr(key); err != nil {
		return err
	}
	return s.setStringKeyTx(ctx, key, strconv.FormatInt(value, 10))
}

// DupStringKey reads key, returning ("", false) if absent.
func (s *Store) DupStringKey(ctx context.Context, key string) (string, bool, error) {
	var value string
	found := false
	err := s.adapter.ExecSelect(ctx, `SELECT value FROM keys WHERE key=?`,
		func(scan func(dest ...interface{}) error) error {
			found = true
			return scan(&value)
		}, key)
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// GetIntKey reads key as an integer, returning (0, false) if absent or
// not parseable as an integer.
func (s *Store) GetIntKey(ctx context.Context, key string) (int64, bool, error) {
	value, found, err := s.DupStringKey(ctx, key)
	if err != nil || !found {
		return 0, found, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, exterrors.Wrap(exterrors.KindIO, err, "store: key %q is not an integer", key)
	}
	return n, true, nil
}
