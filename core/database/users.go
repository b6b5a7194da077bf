package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/botstarter/core/storage"
)

type userRow struct {
	ID        int64          `db:"id"`
	IsAdmin   bool           `db:"is_admin"`
	Username  string         `db:"username"`
	FirstName string         `db:"first_name"`
	LastName  string         `db:"last_name"`
	WaitingOn sql.NullString `db:"waiting_on"`
}

func (r userRow) toUser() *storage.User {
	u := &storage.User{
		ID:        r.ID,
		IsAdmin:   r.IsAdmin,
		Username:  r.Username,
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
	if r.WaitingOn.Valid {
		v := r.WaitingOn.String
		u.WaitingOn = &v
	}
	return u
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// UserRepo stores users in SQL. It implements storage.UserStore.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo returns a repository over db.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ storage.UserStore = (*UserRepo)(nil)

// FindByID loads a user.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*storage.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(
		`SELECT id, is_admin, username, first_name, last_name, waiting_on FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return row.toUser(), nil
}

// Create inserts u. An existing row with the same id is left as is.
func (r *UserRepo) Create(ctx context.Context, u *storage.User) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (id, is_admin, username, first_name, last_name, waiting_on)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`),
		u.ID, u.IsAdmin, u.Username, u.FirstName, u.LastName, nullString(u.WaitingOn))
	if err != nil {
		return fmt.Errorf("create user %d: %w", u.ID, err)
	}
	return nil
}

// SetWaitingOn replaces the pending token; nil clears it.
func (r *UserRepo) SetWaitingOn(ctx context.Context, id int64, token *string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users SET waiting_on = ? WHERE id = ?`), nullString(token), id)
	if err != nil {
		return fmt.Errorf("set waiting_on for %d: %w", id, err)
	}
	return requireAffected(res)
}

// IsAdmin reports the admin flag; unknown users are not admins.
func (r *UserRepo) IsAdmin(ctx context.Context, id int64) (bool, error) {
	var admin bool
	err := r.db.GetContext(ctx, &admin, r.db.Rebind(`SELECT is_admin FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is admin %d: %w", id, err)
	}
	return admin, nil
}

// SetAdmin upserts the admin flag.
func (r *UserRepo) SetAdmin(ctx context.Context, id int64, admin bool) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (id, is_admin) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET is_admin = excluded.is_admin`), id, admin)
	if err != nil {
		return fmt.Errorf("set admin %d: %w", id, err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
