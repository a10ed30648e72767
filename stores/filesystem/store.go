package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"promptcanvas/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const imageExt = ".json"

// fsStore writes one JSON file per image under basePath.
type fsStore struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) imagePath(id string) (string, error) {
	if id == "" || filepath.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid image id %q", id)
	}
	return filepath.Join(s.basePath, id+imageExt), nil
}

func (s *fsStore) read(id string) (*core.Image, error) {
	filePath, err := s.imagePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	var img core.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %v", id, err)
	}
	return &img, nil
}

// write replaces the file through a rename so readers never see a partial image.
func (s *fsStore) write(img *core.Image) error {
	filePath, err := s.imagePath(img.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(img)
	if err != nil {
		return err
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

func (s *fsStore) List(ctx context.Context) ([]*core.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("path", s.basePath)
	files, err := os.ReadDir(s.basePath)
	if err != nil {
		log.WithError(err).Error("Failed to read image directory")
		return nil, err
	}

	images := make([]*core.Image, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), imageExt) {
			continue
		}
		img, err := s.read(strings.TrimSuffix(file.Name(), imageExt))
		if err != nil {
			log.WithError(err).Warnf("Failed to read image file %s, skipping", file.Name())
			continue
		}
		images = append(images, img)
	}
	core.SortNewestFirst(images)

	log.Debugf("Listed %d images", len(images))
	return images, nil
}

func (s *fsStore) Create(ctx context.Context, prompt, imageURL string, x, y int) (*core.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
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
	if err := s.write(img); err != nil {
		log.WithError(err).Error("Failed to create image")
		return nil, err
	}

	log.Info("Image created successfully")
	return img, nil
}

func (s *fsStore) Update(ctx context.Context, id, prompt, imageURL string) (*core.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("image_id", id)
	img, err := s.read(id)
	if err != nil {
		log.WithError(err).Warn("Image not found for update")
		return nil, err
	}
	img.Prompt = prompt
	img.ImageURL = imageURL
	img.UpdatedAt = time.Now()
	if err := s.write(img); err != nil {
		log.WithError(err).Error("Failed to update image")
		return nil, err
	}

	log.Info("Image updated successfully")
	return img, nil
}

func (s *fsStore) UpdatePosition(ctx context.Context, id string, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("image_id", id)
	img, err := s.read(id)
	if err != nil {
		log.WithError(err).Warn("Image not found for move")
		return err
	}
	img.PositionX, img.PositionY = x, y
	img.UpdatedAt = time.Now()
	if err := s.write(img); err != nil {
		log.WithError(err).Error("Failed to move image")
		return err
	}

	log.WithFields(logrus.Fields{"x": x, "y": y}).Info("Image moved successfully")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("image_id", id)
	filePath, err := s.imagePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Image not found for deletion")
			return fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to delete image")
		return err
	}

	log.Info("Image deleted successfully")
	return nil
}
