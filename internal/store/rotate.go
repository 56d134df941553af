package store

import (
	"context"
	"strings"
	"time"

	"github.com/warpdl/dlmgr/common"
)

// Summary is the light projection used by bulk scans.
type Summary struct {
	ID        int32
	State     common.State
	Package   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Count returns the number of logged requests.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n)
	return n, busy("count", err)
}

// Delete removes the request and every side row.
func (s *Store) Delete(ctx context.Context, id int32) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	if err != nil {
		return busy("delete", err)
	}
	return affected(res, "delete")
}

// LoadOldest returns up to n summaries ordered by creation time, oldest first.
func (s *Store) LoadOldest(ctx context.Context, n int) ([]Summary, error) {
	return s.summaries(ctx,
		`SELECT id, state, package, created_at, updated_at FROM requests ORDER BY created_at, id LIMIT ?`, n)
}

// LoadByState returns summaries of every request in one of states.
func (s *Store) LoadByState(ctx context.Context, states ...common.State) ([]Summary, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st
	}
	q := `SELECT id, state, package, created_at, updated_at FROM requests WHERE state IN (?` +
		strings.Repeat(", ?", len(states)-1) + `) ORDER BY created_at, id`
	return s.summaries(ctx, q, args...)
}

func (s *Store) summaries(ctx context.Context, q string, args ...any) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, busy("scan", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			sm               Summary
			created, updated int64
		)
		if err := rows.Scan(&sm.ID, &sm.State, &sm.Package, &created, &updated); err != nil {
			return nil, busy("scan", err)
		}
		sm.CreatedAt = time.UnixMilli(created)
		sm.UpdatedAt = time.UnixMilli(updated)
		out = append(out, sm)
	}
	return out, busy("scan", rows.Err())
}

// RotateOptions bounds the log.
type RotateOptions struct {
	MaxRows int
	MaxAge  time.Duration
	Now     time.Time
	// Claim is asked before a row is deleted. It returns false to keep the
	// row, or a release func that is called once the delete is done.
	Claim func(Summary) (release func(), ok bool)
}

// Rotate deletes rows older than MaxAge and then the oldest rows beyond
// MaxRows. Requests in a queued or running state are never removed. It
// returns the number of deleted rows.
func (s *Store) Rotate(ctx context.Context, opts RotateOptions) (int, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	total, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	excess := 0
	if opts.MaxRows > 0 && total > opts.MaxRows {
		excess = total - opts.MaxRows
	}
	// Every row is scanned when an age ceiling applies.
	limit := total
	if opts.MaxAge <= 0 {
		limit = excess
	}
	if limit == 0 {
		return 0, nil
	}
	oldest, err := s.LoadOldest(ctx, limit)
	if err != nil {
		return 0, err
	}
	cutoff := opts.Now.Add(-opts.MaxAge)
	deleted := 0
	for _, sm := range oldest {
		expired := opts.MaxAge > 0 && sm.CreatedAt.Before(cutoff)
		if !expired && deleted >= excess {
			continue
		}
		if !rotatable(sm.State) {
			continue
		}
		release := func() {}
		if opts.Claim != nil {
			var ok bool
			if release, ok = opts.Claim(sm); !ok {
				continue
			}
		}
		err := s.Delete(ctx, sm.ID)
		release()
		if err != nil && err != ErrNotFound {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func rotatable(st common.State) bool {
	switch st {
	case common.STATE_QUEUED, common.STATE_CONNECTING, common.STATE_DOWNLOADING, common.STATE_PAUSE_REQUESTED:
		return false
	}
	return true
}
