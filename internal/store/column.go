package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warpdl/dlmgr/common"
)

// Column names a single persisted field.
type Column struct {
	table string
	name  string
}

func (c Column) String() string { return c.table + "." + c.name }

var (
	ColState            = Column{"requests", "state"}
	ColError            = Column{"requests", "error"}
	ColPackage          = Column{"requests", "package"}
	ColStartedAt        = Column{"requests", "started_at"}
	ColPausedAt         = Column{"requests", "paused_at"}
	ColStoppedAt        = Column{"requests", "stopped_at"}
	ColURL              = Column{"params", "url"}
	ColDestination      = Column{"params", "destination"}
	ColFileName         = Column{"params", "file_name"}
	ColNetworkType      = Column{"params", "network_type"}
	ColAutoDownload     = Column{"params", "auto_download"}
	ColNotificationType = Column{"notifications", "type"}
	ColTitle            = Column{"notifications", "title"}
	ColDescription      = Column{"notifications", "description"}
	ColSavedPath        = Column{"downloads", "saved_path"}
	ColTempPath         = Column{"downloads", "temp_path"}
	ColMimeType         = Column{"downloads", "mime_type"}
	ColContentName      = Column{"downloads", "content_name"}
	ColETag             = Column{"downloads", "etag"}
	ColReceivedSize     = Column{"downloads", "received_size"}
	ColTotalSize        = Column{"downloads", "total_size"}
	ColHTTPStatus       = Column{"downloads", "http_status"}
)

// Set writes one field of request id. Fields of the main table require an
// existing row; side-table rows are created on demand. A nil value clears
// the field. Time values are stored as unix milliseconds.
func (s *Store) Set(ctx context.Context, id int32, col Column, value any) error {
	if t, ok := value.(time.Time); ok {
		value = millis(t)
	}
	var (
		res sql.Result
		err error
	)
	if col.table == "requests" {
		res, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE requests SET %s = ?, updated_at = ? WHERE id = ?`, col.name),
			value, time.Now().UnixMilli(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %[1]s (id, %[2]s) SELECT ?, ? WHERE EXISTS (SELECT 1 FROM requests WHERE id = ?)
			 ON CONFLICT(id) DO UPDATE SET %[2]s = excluded.%[2]s`, col.table, col.name),
			id, value, id)
	}
	if err != nil {
		return busy("set "+col.String(), err)
	}
	return affected(res, "set "+col.String())
}

// SetState records a state transition and its error code in one write.
func (s *Store) SetState(ctx context.Context, id int32, state common.State, code common.ErrorCode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET state = ?, error = ?, updated_at = ? WHERE id = ?`,
		state, code, time.Now().UnixMilli(), id)
	if err != nil {
		return busy("set state", err)
	}
	return affected(res, "set state")
}

// IncStartCount bumps the persisted start counter and returns the new value.
func (s *Store) IncStartCount(ctx context.Context, id int32) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE requests SET start_count = start_count + 1, updated_at = ? WHERE id = ? RETURNING start_count`,
		time.Now().UnixMilli(), id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, busy("increment start count", err)
	}
	return n, nil
}

// GetString reads a text field. An unset field yields ErrNoData.
func (s *Store) GetString(ctx context.Context, id int32, col Column) (string, error) {
	var v sql.NullString
	if err := s.get(ctx, id, col, &v); err != nil {
		return "", err
	}
	if !v.Valid || v.String == "" {
		return "", ErrNoData
	}
	return v.String, nil
}

// GetInt reads an integer field. An unset field yields ErrNoData.
func (s *Store) GetInt(ctx context.Context, id int32, col Column) (int64, error) {
	var v sql.NullInt64
	if err := s.get(ctx, id, col, &v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, ErrNoData
	}
	return v.Int64, nil
}

func (s *Store) get(ctx context.Context, id int32, col Column, dst any) error {
	var q string
	if col.table == "requests" {
		q = fmt.Sprintf(`SELECT %s FROM requests WHERE id = ?`, col.name)
	} else {
		q = fmt.Sprintf(`SELECT t.%s FROM requests r LEFT JOIN %s t ON t.id = r.id WHERE r.id = ?`, col.name, col.table)
	}
	err := s.db.QueryRowContext(ctx, q, id).Scan(dst)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return busy("get "+col.String(), err)
}

func affected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return busy(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
