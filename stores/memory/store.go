package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"promptcanvas/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps images in a map guarded by a mutex. Contents are lost on restart.
type memStore struct {
	mu     sync.RWMutex
	images map[string]core.Image
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{images: make(map[string]core.Image)}
}

func (s *memStore) List(ctx context.Context) ([]*core.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	images := make([]*core.Image, 0, len(s.images))
	for _, img := range s.images {
		img := img
		images = append(images, &img)
	}
	core.SortNewestFirst(images)

	logrus.Debugf("Listed %d images", len(images))
	return images, nil
}

func (s *memStore) Create(ctx context.Context, prompt, imageURL string, x, y int) (*core.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	img := core.Image{
		ID:        ulid.Make().String(),
		Prompt:    prompt,
		ImageURL:  imageURL,
		PositionX: x,
		PositionY: y,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.images[img.ID] = img

	logrus.WithFields(logrus.Fields{
		"image_id": img.ID,
		"prompt":   prompt,
	}).Info("Image created successfully")
	return &img, nil
}

func (s *memStore) Update(ctx context.Context, id, prompt, imageURL string) (*core.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("image_id", id)
	img, ok := s.images[id]
	if !ok {
		log.Warn("Image not found for update")
		return nil, fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
	}
	img.Prompt = prompt
	img.ImageURL = imageURL
	img.UpdatedAt = time.Now()
	s.images[id] = img

	log.Info("Image updated successfully")
	return &img, nil
}

func (s *memStore) UpdatePosition(ctx context.Context, id string, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("image_id", id)
	img, ok := s.images[id]
	if !ok {
		log.Warn("Image not found for move")
		return fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
	}
	img.PositionX, img.PositionY = x, y
	img.UpdatedAt = time.Now()
	s.images[id] = img

	log.WithFields(logrus.Fields{"x": x, "y": y}).Info("Image moved successfully")
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("image_id", id)
	if _, ok := s.images[id]; !ok {
		log.Warn("Image not found for deletion")
		return fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
	}
	delete(s.images, id)

	log.Info("Image deleted successfully")
	return nil
}
