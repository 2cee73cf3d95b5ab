package lending

import (
	"context"
	"database/sql"
)

// UserStore は users テーブル（ユーザー名の集合）を管理する。
type UserStore struct {
	db *sql.DB
}

func NewUserStore(conn *sql.DB) *UserStore { return &UserStore{db: conn} }

func (s *UserStore) Exists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT 1 FROM users WHERE username = ? LIMIT 1`
	var one int
	err := s.db.QueryRowContext(ctx, q, username).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert returns false when the username already exists. Registration checks
// Exists first, but a concurrent duplicate insert must stay silent because
// the caller treats "already registered" as success.
func (s *UserStore) Insert(ctx context.Context, username string) (bool, error) {
	const q = `INSERT INTO users (username) VALUES (?)`
	_, err := s.db.ExecContext(ctx, q, username)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
