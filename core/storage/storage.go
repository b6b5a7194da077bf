// Package storage defines the persisted records of the bot core and the
// stores that own them.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// User is a Telegram user known to the bot.
type User struct {
	ID        int64
	IsAdmin   bool
	Username  string
	FirstName string
	LastName  string
	// WaitingOn holds the packed action token awaiting the user's next text reply.
	WaitingOn *string
}

// HasPending reports whether a non-empty waiting-on token is set.
func (u *User) HasPending() bool {
	return u != nil && u.WaitingOn != nil && *u.WaitingOn != ""
}

// MediaReference maps a local file path to an already uploaded Telegram file id.
type MediaReference struct {
	ID       string
	Path     string
	UploadID string
}

// UserStore persists users keyed by their Telegram id.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	// Create inserts u unless a user with the same id exists.
	Create(ctx context.Context, u *User) error
	// SetWaitingOn replaces the waiting-on token; nil clears it.
	SetWaitingOn(ctx context.Context, id int64, token *string) error
	IsAdmin(ctx context.Context, id int64) (bool, error)
	// SetAdmin creates the user if needed and updates the admin flag.
	SetAdmin(ctx context.Context, id int64, admin bool) error
}

// MediaStore persists media references.
type MediaStore interface {
	FindByPath(ctx context.Context, path string) (*MediaReference, error)
	// Create stores a reference and returns it with a generated id.
	Create(ctx context.Context, path, uploadID string) (*MediaReference, error)
	Delete(ctx context.Context, id string) error
}
