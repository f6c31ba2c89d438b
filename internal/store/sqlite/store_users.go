package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
)

// UpsertUser inserts or updates a user record keyed by its UUID.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, tg_user_id, active, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username,
			tg_user_id = excluded.tg_user_id, active = excluded.active`,
		u.ID.String(), u.Username, u.TgUserID, boolToInt(u.Active), u.CreatedAt)
	return err
}

// SetUserActive flips a user's access flag.
func (s *Store) SetUserActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET active = ? WHERE id = ?`, boolToInt(active), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// GetUser fetches one user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, tg_user_id, active, created_at FROM users WHERE id = ?`,
		id.String())
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, err
}

// ActiveUsers lists every user who should currently have access.
func (s *Store) ActiveUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, tg_user_id, active, created_at FROM users WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var id string
	var active int
	if err := row.Scan(&id, &u.Username, &u.TgUserID, &active, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.User{}, err
	}
	u.ID = parsed
	u.Active = active != 0
	return u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
