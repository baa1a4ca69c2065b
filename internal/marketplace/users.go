package marketplace

import (
	"context"
	"database/sql"
	"time"

	"github.com/rferrao/tradepost/internal/domain"
)

type User struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Contact     string      `json:"contact"`
	Role        domain.Role `json:"role"`
	Banned      bool        `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetBySessionToken resolves a bearer token to its user. Expired sessions and
// banned users resolve to nil, the same as an unknown token.
func (r *UserRepository) GetBySessionToken(ctx context.Context, token string) (*User, error) {
	user := &User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.contact, u.role, u.banned, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > NOW()
	`, token).Scan(&user.ID, &user.DisplayName, &user.Contact, &user.Role, &user.Banned, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if user.Banned {
		return nil, nil
	}

	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	user := &User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, contact, role, banned, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.DisplayName, &user.Contact, &user.Role, &user.Banned, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

// SetBanned flips the ban flag. Banning also drops the user's sessions so the
// next resolution anywhere degrades to unauthenticated.
func (r *UserRepository) SetBanned(ctx context.Context, id string, banned bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET banned = $1 WHERE id = $2
	`, banned, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	if banned {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CreateSession issues a token valid for ttl. Used by seed tooling and tests;
// credential exchange itself lives outside this service.
func (r *UserRepository) CreateSession(ctx context.Context, userID, token string, ttl time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES ($1, $2, NOW() + $3 * interval '1 second')
	`, token, userID, int64(ttl.Seconds()))
	return err
}

func (r *UserRepository) Create(ctx context.Context, user *User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, contact, role)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Contact, user.Role)
	return err
}
