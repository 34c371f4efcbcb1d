package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	q := `SELECT id, name, description, platform, is_active, created_at FROM accounts WHERE id = $1;`
	var a Account
	err := s.db.QueryRow(ctx, q, id).Scan(&a.ID, &a.Name, &a.Description, &a.Platform, &a.IsActive, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error) {
	q := `
SELECT id, name, description, platform, is_active, created_at
FROM accounts
WHERE NOT $1::boolean OR is_active
ORDER BY id;
`
	rows, err := s.db.Query(ctx, q, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Platform, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type CreateAccountParams struct {
	Name        string
	Description string
	Platform    string
}

func (s *Store) CreateAccount(ctx context.Context, p CreateAccountParams) (*Account, error) {
	platform := p.Platform
	if platform == "" {
		platform = "wechat"
	}
	q := `
INSERT INTO accounts (name, description, platform)
VALUES ($1, $2, $3)
RETURNING id, name, description, platform, is_active, created_at;
`
	var a Account
	err := s.db.QueryRow(ctx, q, p.Name, p.Description, platform).Scan(
		&a.ID, &a.Name, &a.Description, &a.Platform, &a.IsActive, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
