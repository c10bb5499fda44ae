package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 1000

	// fixed width so text order is time order
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Journal is the append-only completion log in SQLite.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends e and returns its id. A zero CompletedAt means now.
func (j *Journal) Record(ctx context.Context, e Entry) (string, error) {
	if e.Outcome == "" {
		return "", fmt.Errorf("outcome is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}

	var dispatchedAt any
	if e.DispatchedAt != nil {
		dispatchedAt = e.DispatchedAt.UTC().Format(timeLayout)
	}
	var command any
	if e.Command != "" {
		command = e.Command
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO instruction_log(
  id, slot, command, object, action, para1, para2, para_num, outcome, code, dispatched_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Slot, command, e.Object, e.Action, e.Para1, e.Para2, e.ParaNum, string(e.Outcome), e.Code,
		dispatchedAt, e.CompletedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert instruction_log: %w", err)
	}
	return e.ID, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, slot, command, object, action, para1, para2, para_num, outcome, code, dispatched_at, completed_at
FROM instruction_log
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query instruction_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			command       sql.NullString
			outcome       string
			dispatchedAtS sql.NullString
			completedAtS  string
		)
		if err := rows.Scan(&e.ID, &e.Slot, &command, &e.Object, &e.Action, &e.Para1, &e.Para2, &e.ParaNum,
			&outcome, &e.Code, &dispatchedAtS, &completedAtS); err != nil {
			return nil, fmt.Errorf("scan instruction_log: %w", err)
		}
		e.Command = command.String
		e.Outcome = Outcome(outcome)
		if t, err := time.Parse(timeLayout, completedAtS); err == nil {
			e.CompletedAt = t
		}
		if dispatchedAtS.Valid {
			if t, err := time.Parse(timeLayout, dispatchedAtS.String); err == nil {
				e.DispatchedAt = &t
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruction_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries completed before now-retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := j.db.ExecContext(ctx, `DELETE FROM instruction_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune instruction_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune instruction_log: %w", err)
	}
	return n, nil
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instruction_log;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instruction_log: %w", err)
	}
	return n, nil
}
