package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"promptcanvas/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const imagesTableStmt = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	image_url TEXT NOT NULL,
	position_x INTEGER NOT NULL DEFAULT 0,
	position_y INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	s, err := Open(dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}
	return s
}

// Open is NewStore without the fatal exit.
func Open(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(imagesTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create images table: %v", err)
	}
	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) List(ctx context.Context) ([]*core.Image, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, prompt, image_url, position_x, position_y, created_at, updated_at FROM images ORDER BY created_at DESC, id DESC")
	if err != nil {
		logrus.WithError(err).Error("Failed to list images")
		return nil, err
	}
	defer rows.Close()

	images := []*core.Image{}
	for rows.Next() {
		var img core.Image
		if err := rows.Scan(&img.ID, &img.Prompt, &img.ImageURL, &img.PositionX, &img.PositionY, &img.CreatedAt, &img.UpdatedAt); err != nil {
			return nil, err
		}
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logrus.Debugf("Listed %d images", len(images))
	return images, nil
}

func (s *sqliteStore) get(ctx context.Context, id string) (*core.Image, error) {
	img := core.Image{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT prompt, image_url, position_x, position_y, created_at, updated_at FROM images WHERE id = ?", id).
		Scan(&img.Prompt, &img.ImageURL, &img.PositionX, &img.PositionY, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &img, nil
}

func (s *sqliteStore) Create(ctx context.Context, prompt, imageURL string, x, y int) (*core.Image, error) {
	now := time.Now().UTC()
	img := &core.Image{
		ID:        ulid.Make().String(),
		Prompt:    prompt,
		ImageURL:  imageURL,
		PositionX: x,
		PositionY: y,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log := logrus.WithField("image_id", img.ID)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO images (id, prompt, image_url, position_x, position_y, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		img.ID, img.Prompt, img.ImageURL, img.PositionX, img.PositionY, img.CreatedAt, img.UpdatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to create image")
		return nil, err
	}
	log.Info("Image created successfully")
	return img, nil
}

func (s *sqliteStore) Update(ctx context.Context, id, prompt, imageURL string) (*core.Image, error) {
	log := logrus.WithField("image_id", id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE images SET prompt = ?, image_url = ?, updated_at = ? WHERE id = ?",
		prompt, imageURL, time.Now().UTC(), id)
	if err != nil {
		log.WithError(err).Error("Failed to update image")
		return nil, err
	}
	if err := requireRow(res, id); err != nil {
		log.Warn("Image not found for update")
		return nil, err
	}

	log.Info("Image updated successfully")
	return s.get(ctx, id)
}

func (s *sqliteStore) UpdatePosition(ctx context.Context, id string, x, y int) error {
	log := logrus.WithField("image_id", id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE images SET position_x = ?, position_y = ?, updated_at = ? WHERE id = ?",
		x, y, time.Now().UTC(), id)
	if err != nil {
		log.WithError(err).Error("Failed to move image")
		return err
	}
	if err := requireRow(res, id); err != nil {
		log.Warn("Image not found for move")
		return err
	}

	log.WithFields(logrus.Fields{"x": x, "y": y}).Info("Image moved successfully")
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	log := logrus.WithField("image_id", id)

	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete image")
		return err
	}
	if err := requireRow(res, id); err != nil {
		log.Warn("Image not found for deletion")
		return err
	}

	log.Info("Image deleted successfully")
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
	}
	return nil
}
