package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/botstarter/core/storage"
)

// MediaRepo stores uploaded media references. It implements storage.MediaStore.
type MediaRepo struct {
	db *sqlx.DB
}

// NewMediaRepo returns a repository over db.
func NewMediaRepo(db *sqlx.DB) *MediaRepo {
	return &MediaRepo{db: db}
}

var _ storage.MediaStore = (*MediaRepo)(nil)

// FindByPath loads the reference recorded for path.
func (r *MediaRepo) FindByPath(ctx context.Context, path string) (*storage.MediaReference, error) {
	var ref storage.MediaReference
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(
		`SELECT id, path, upload_id FROM medias WHERE path = ?`), path).
		Scan(&ref.ID, &ref.Path, &ref.UploadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find media %q: %w", path, err)
	}
	return &ref, nil
}

// Create records uploadID for path. A reference for the same path is
// updated in place and keeps its id.
func (r *MediaRepo) Create(ctx context.Context, path, uploadID string) (*storage.MediaReference, error) {
	ref := storage.MediaReference{Path: path, UploadID: uploadID}
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(
		`INSERT INTO medias (id, path, upload_id) VALUES (?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET upload_id = excluded.upload_id
		 RETURNING id`), uuid.NewString(), path, uploadID).
		Scan(&ref.ID)
	if err != nil {
		return nil, fmt.Errorf("create media %q: %w", path, err)
	}
	return &ref, nil
}

// Delete removes a reference by id.
func (r *MediaRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM medias WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete media %s: %w", id, err)
	}
	return requireAffected(res)
}
