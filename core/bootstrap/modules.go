package bootstrap

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/botstarter/core/storage"
)

// Storage represents shared infrastructure passed to optional modules.
// DB is nil for the in-memory driver.
type Storage struct {
	DB     *sqlx.DB
	Users  storage.UserStore
	Medias storage.MediaStore
}

// Seeder loads reference data into a storage implementation.
type Seeder interface {
	Seed(ctx context.Context, storage Storage) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, storage Storage) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, storage Storage) error {
	return f(ctx, storage)
}

// Modules groups optional bootstrapping hooks.
type Modules struct {
	Seeders []Seeder
}
