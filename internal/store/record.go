package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/warpdl/dlmgr/common"
)

// Result is the transfer outcome reported by the engine.
type Result struct {
	SavedPath   string
	TempPath    string
	MimeType    string
	ContentName string
	ETag        string
	Received    uint64
	Total       uint64
	HTTPStatus  int32
}

// Header is one custom HTTP header. Field matching is case-sensitive.
type Header struct {
	Field string
	Value string
}

// Record is the durable projection of a request.
type Record struct {
	ID         int32
	State      common.State
	Error      common.ErrorCode
	StartCount int
	Package    string

	CreatedAt time.Time
	StartedAt time.Time
	PausedAt  time.Time
	StoppedAt time.Time

	URL          string
	Destination  string
	FileName     string
	NetworkType  common.NetworkType
	AutoDownload bool

	NotificationType common.NotificationType
	Title            string
	Description      string

	Result  Result
	Headers []Header
	Bundles map[common.BundleKind][]byte
	Extras  map[string][]string
}

// Insert writes a new request row. It fails if the id is already logged.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return busy("insert", err)
	}
	defer tx.Rollback()
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO requests (id, state, error, start_count, package, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.State, r.Error, r.StartCount, r.Package, r.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return busy("insert", err)
	}
	if err := saveSide(ctx, tx, r); err != nil {
		return err
	}
	return busy("insert", tx.Commit())
}

// Save upserts the main row and the one-to-one side tables of r. Headers,
// bundles and extras are written through their own setters.
func (s *Store) Save(ctx context.Context, r *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return busy("save", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO requests (id, state, error, start_count, package, created_at, started_at, paused_at, stopped_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state, error = excluded.error, start_count = excluded.start_count,
		   package = excluded.package, started_at = excluded.started_at, paused_at = excluded.paused_at,
		   stopped_at = excluded.stopped_at, updated_at = excluded.updated_at`,
		r.ID, r.State, r.Error, r.StartCount, r.Package, r.CreatedAt.UnixMilli(),
		millis(r.StartedAt), millis(r.PausedAt), millis(r.StoppedAt), time.Now().UnixMilli())
	if err != nil {
		return busy("save", err)
	}
	if err := saveSide(ctx, tx, r); err != nil {
		return err
	}
	return busy("save", tx.Commit())
}

func saveSide(ctx context.Context, tx *sql.Tx, r *Record) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO params (id, url, destination, file_name, network_type, auto_download)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET url = excluded.url, destination = excluded.destination,
		   file_name = excluded.file_name, network_type = excluded.network_type,
		   auto_download = excluded.auto_download`,
		r.ID, nullString(r.URL), nullString(r.Destination), nullString(r.FileName), r.NetworkType, r.AutoDownload)
	if err != nil {
		return busy("save params", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO notifications (id, type, title, description) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type = excluded.type, title = excluded.title,
		   description = excluded.description`,
		r.ID, r.NotificationType, nullString(r.Title), nullString(r.Description))
	if err != nil {
		return busy("save notification", err)
	}
	res := r.Result
	_, err = tx.ExecContext(ctx,
		`INSERT INTO downloads (id, saved_path, temp_path, mime_type, content_name, etag, received_size, total_size, http_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET saved_path = excluded.saved_path, temp_path = excluded.temp_path,
		   mime_type = excluded.mime_type, content_name = excluded.content_name, etag = excluded.etag,
		   received_size = excluded.received_size, total_size = excluded.total_size,
		   http_status = excluded.http_status`,
		r.ID, nullString(res.SavedPath), nullString(res.TempPath), nullString(res.MimeType),
		nullString(res.ContentName), nullString(res.ETag), int64(res.Received), int64(res.Total), res.HTTPStatus)
	if err != nil {
		return busy("save result", err)
	}
	return nil
}

// Exists reports whether any row for id is logged.
func (s *Store) Exists(ctx context.Context, id int32) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, busy("exists", err)
	}
	return true, nil
}

// Load reads the full record for id.
func (s *Store) Load(ctx context.Context, id int32) (*Record, error) {
	r := &Record{ID: id}
	var (
		created                 int64
		started, paused, stoppd sql.NullInt64
		url, dest, name         sql.NullString
		network, auto, ntype    sql.NullInt64
		title, desc             sql.NullString
		saved, temp, mime       sql.NullString
		content, etag           sql.NullString
		recv, total, status     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT r.state, r.error, r.start_count, r.package, r.created_at, r.started_at, r.paused_at, r.stopped_at,
		        p.url, p.destination, p.file_name, p.network_type, p.auto_download,
		        n.type, n.title, n.description,
		        d.saved_path, d.temp_path, d.mime_type, d.content_name, d.etag, d.received_size, d.total_size, d.http_status
		 FROM requests r
		 LEFT JOIN params p ON p.id = r.id
		 LEFT JOIN notifications n ON n.id = r.id
		 LEFT JOIN downloads d ON d.id = r.id
		 WHERE r.id = ?`, id).Scan(
		&r.State, &r.Error, &r.StartCount, &r.Package, &created, &started, &paused, &stoppd,
		&url, &dest, &name, &network, &auto,
		&ntype, &title, &desc,
		&saved, &temp, &mime, &content, &etag, &recv, &total, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, busy("load", err)
	}
	r.CreatedAt = time.UnixMilli(created)
	r.StartedAt = fromMillis(started)
	r.PausedAt = fromMillis(paused)
	r.StoppedAt = fromMillis(stoppd)
	r.URL, r.Destination, r.FileName = url.String, dest.String, name.String
	r.NetworkType = common.NetworkType(network.Int64)
	r.AutoDownload = auto.Int64 != 0
	r.NotificationType = common.NotificationType(ntype.Int64)
	r.Title, r.Description = title.String, desc.String
	r.Result = Result{
		SavedPath:   saved.String,
		TempPath:    temp.String,
		MimeType:    mime.String,
		ContentName: content.String,
		ETag:        etag.String,
		Received:    uint64(recv.Int64),
		Total:       uint64(total.Int64),
		HTTPStatus:  int32(status.Int64),
	}
	if r.Headers, err = s.headers(ctx, id); err != nil {
		return nil, err
	}
	if r.Bundles, err = s.bundles(ctx, id); err != nil {
		return nil, err
	}
	if r.Extras, err = s.extras(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) headers(ctx context.Context, id int32) ([]Header, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM headers WHERE id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, busy("load headers", err)
	}
	defer rows.Close()
	var out []Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.Field, &h.Value); err != nil {
			return nil, busy("load headers", err)
		}
		out = append(out, h)
	}
	return out, busy("load headers", rows.Err())
}

func (s *Store) bundles(ctx context.Context, id int32) (map[common.BundleKind][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, data FROM bundles WHERE id = ?`, id)
	if err != nil {
		return nil, busy("load bundles", err)
	}
	defer rows.Close()
	out := map[common.BundleKind][]byte{}
	for rows.Next() {
		var (
			kind common.BundleKind
			data []byte
		)
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, busy("load bundles", err)
		}
		out[kind] = data
	}
	return out, busy("load bundles", rows.Err())
}

func (s *Store) extras(ctx context.Context, id int32) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, vals FROM extras WHERE id = ?`, id)
	if err != nil {
		return nil, busy("load extras", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, busy("load extras", err)
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return nil, busy("decode extras", err)
		}
		out[key] = vals
	}
	return out, busy("load extras", rows.Err())
}
