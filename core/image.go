package core

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by stores when no image has the requested id.
var ErrNotFound = errors.New("image not found")

type (
	// Image is a persisted canvas tile.
	Image struct {
		ID        string    `json:"id"`
		Prompt    string    `json:"prompt"`
		ImageURL  string    `json:"image_url"`
		PositionX int       `json:"position_x"`
		PositionY int       `json:"position_y"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	// ImageStore defines the persistence layer for canvas tiles.
	ImageStore interface {
		// List returns every image, newest first.
		List(ctx context.Context) ([]*Image, error)

		// Create stores a new image and returns it with its assigned id.
		Create(ctx context.Context, prompt, imageURL string, x, y int) (*Image, error)

		// Update replaces the prompt and image url of an existing image.
		Update(ctx context.Context, id, prompt, imageURL string) (*Image, error)

		// UpdatePosition moves an existing image.
		UpdatePosition(ctx context.Context, id string, x, y int) error

		// Delete removes an image.
		Delete(ctx context.Context, id string) error
	}

	// ImageGenerator renders a prompt into an image and returns its url.
	ImageGenerator interface {
		Generate(ctx context.Context, prompt string) (string, error)
	}

	// VariationGenerator rewrites a prompt into alternative prompts.
	VariationGenerator interface {
		Variations(ctx context.Context, prompt string) ([]string, error)
	}
)

// SortNewestFirst orders images by creation time, newest first. Ties fall back
// to the id, which is time-ordered for every store.
func SortNewestFirst(images []*Image) {
	sort.SliceStable(images, func(i, j int) bool {
		if !images[i].CreatedAt.Equal(images[j].CreatedAt) {
			return images[i].CreatedAt.After(images[j].CreatedAt)
		}
		return images[i].ID > images[j].ID
	})
}
