package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// UserSnapshotMap returns the per-user total-bytes snapshot recorded for
// the given day (formatted 2006-01-02). Missing days yield an empty map.
func (s *Store) UserSnapshotMap(ctx context.Context, day string) (map[uuid.UUID]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total_bytes FROM user_snapshots WHERE day = ?`, day)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id string
		var total int64
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		out[parsed] = total
	}
	return out, rows.Err()
}

// UpsertUserSnapshots records the per-user totals snapshot for a day in a
// single transaction.
func (s *Store) UpsertUserSnapshots(ctx context.Context, day string, totals map[uuid.UUID]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO user_snapshots (day, user_id, total_bytes) VALUES (?, ?, ?)
		 ON CONFLICT(day, user_id) DO UPDATE SET total_bytes = excluded.total_bytes`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for id, total := range totals {
		if _, err := stmt.ExecContext(ctx, day, id.String(), total); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertDailyUsage records the derived consumption summary for a day.
func (s *Store) UpsertDailyUsage(ctx context.Context, day string, activeUsers int, totalBytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_usage (day, active_users, total_bytes) VALUES (?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET active_users = excluded.active_users,
			total_bytes = excluded.total_bytes`,
		day, activeUsers, totalBytes)
	return err
}

// DailyUsage reads back one day's usage summary. The bool result reports
// whether the day has been recorded.
func (s *Store) DailyUsage(ctx context.Context, day string) (activeUsers int, totalBytes int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT active_users, total_bytes FROM daily_usage WHERE day = ?`, day)
	err = row.Scan(&activeUsers, &totalBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return activeUsers, totalBytes, true, nil
}
