package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/warpdl/dlmgr/common"
)

// SetHeader adds or replaces the header field for id. A replaced header
// keeps its original position.
func (s *Store) SetHeader(ctx context.Context, id int32, field, value string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO headers (id, field, value, seq)
		 SELECT ?, ?, ?, COALESCE((SELECT MAX(seq) FROM headers WHERE id = ?), 0) + 1
		 WHERE EXISTS (SELECT 1 FROM requests WHERE id = ?)
		 ON CONFLICT(id, field) DO UPDATE SET value = excluded.value`,
		id, field, value, id, id)
	if err != nil {
		return busy("set header", err)
	}
	return affected(res, "set header")
}

// RemoveHeader deletes the header field. A missing field yields ErrNoData.
func (s *Store) RemoveHeader(ctx context.Context, id int32, field string) error {
	return s.removeKeyed(ctx, `DELETE FROM headers WHERE id = ? AND field = ?`, id, field)
}

// HeaderValue returns the value of field.
func (s *Store) HeaderValue(ctx context.Context, id int32, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM headers WHERE id = ? AND field = ?`, id, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoData
	}
	return v, busy("get header", err)
}

// HeaderFields lists the header fields of id in insertion order.
func (s *Store) HeaderFields(ctx context.Context, id int32) ([]string, error) {
	hs, err := s.headers(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(hs) == 0 {
		return nil, ErrNoData
	}
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Field
	}
	return out, nil
}

// SetBundle stores a notification payload of the given kind.
func (s *Store) SetBundle(ctx context.Context, id int32, kind common.BundleKind, data []byte) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bundles (id, kind, data) SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM requests WHERE id = ?)
		 ON CONFLICT(id, kind) DO UPDATE SET data = excluded.data`,
		id, kind, data, id)
	if err != nil {
		return busy("set bundle", err)
	}
	return affected(res, "set bundle")
}

// RemoveBundle deletes the payload of kind.
func (s *Store) RemoveBundle(ctx context.Context, id int32, kind common.BundleKind) error {
	return s.removeKeyed(ctx, `DELETE FROM bundles WHERE id = ? AND kind = ?`, id, kind)
}

// Bundle returns the payload of kind.
func (s *Store) Bundle(ctx context.Context, id int32, kind common.BundleKind) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM bundles WHERE id = ? AND kind = ?`, id, kind).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoData
	}
	return data, busy("get bundle", err)
}

// SetExtra stores the values of a free-form notification extra.
func (s *Store) SetExtra(ctx context.Context, id int32, key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return common.NewError(common.ERROR_INVALID_PARAMETER, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extras (id, key, vals) SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM requests WHERE id = ?)
		 ON CONFLICT(id, key) DO UPDATE SET vals = excluded.vals`,
		id, key, string(raw), id)
	if err != nil {
		return busy("set extra", err)
	}
	return affected(res, "set extra")
}

// RemoveExtra deletes the extra named key.
func (s *Store) RemoveExtra(ctx context.Context, id int32, key string) error {
	return s.removeKeyed(ctx, `DELETE FROM extras WHERE id = ? AND key = ?`, id, key)
}

// Extra returns the values stored under key.
func (s *Store) Extra(ctx context.Context, id int32, key string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT vals FROM extras WHERE id = ? AND key = ?`, id, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, busy("get extra", err)
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, busy("decode extra", err)
	}
	return vals, nil
}

func (s *Store) removeKeyed(ctx context.Context, q string, id int32, key any) error {
	res, err := s.db.ExecContext(ctx, q, id, key)
	if err != nil {
		return busy("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return busy("remove", err)
	}
	if n == 0 {
		return ErrNoData
	}
	return nil
}
