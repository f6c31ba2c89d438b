package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
)

// AddServer registers a new panel server under a unique code and returns
// its descriptor.
func (s *Store) AddServer(ctx context.Context, code, baseURL, username, password string) (domain.ServerDescriptor, error) {
	code = strings.TrimSpace(code)
	desc := domain.ServerDescriptor{
		ID:        uuid.New(),
		Code:      code,
		BaseURL:   strings.TrimSpace(baseURL),
		Username:  username,
		Password:  password,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, code, api_base_url, api_username, api_password, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		desc.ID.String(), desc.Code, desc.BaseURL, desc.Username, desc.Password, desc.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ServerDescriptor{}, domain.ErrServerCodeInUse
		}
		return domain.ServerDescriptor{}, err
	}
	return desc, nil
}

// UpdateServer rewrites the connection parameters of an existing server,
// keeping its identity. The registry rebuilds the session on the next sync.
func (s *Store) UpdateServer(ctx context.Context, code, baseURL, username, password string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET api_base_url = ?, api_username = ?, api_password = ? WHERE code = ?`,
		strings.TrimSpace(baseURL), username, password, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// RemoveServer drops the server with the given code.
func (s *Store) RemoveServer(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE code = ?`, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// GetServerByCode fetches one server descriptor by its code.
func (s *Store) GetServerByCode(ctx context.Context, code string) (domain.ServerDescriptor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, api_base_url, api_username, api_password, created_at
		 FROM servers WHERE code = ?`, strings.TrimSpace(code))
	desc, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServerDescriptor{}, domain.ErrServerNotFound
	}
	return desc, err
}

// ListServers returns every registered server descriptor, oldest first.
// This is the one query the provisioning core depends on.
func (s *Store) ListServers(ctx context.Context) ([]domain.ServerDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, api_base_url, api_username, api_password, created_at
		 FROM servers ORDER BY created_at, code`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ServerDescriptor
	for rows.Next() {
		desc, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (domain.ServerDescriptor, error) {
	var desc domain.ServerDescriptor
	var id string
	if err := row.Scan(&id, &desc.Code, &desc.BaseURL, &desc.Username, &desc.Password, &desc.CreatedAt); err != nil {
		return domain.ServerDescriptor{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.ServerDescriptor{}, err
	}
	desc.ID = parsed
	return desc, nil
}
