// Package canvas coordinates image generation for canvas tiles, reconciles
// optimistic local tiles with their persisted records and computes tile
// placement.
package canvas

import (
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	// TemporaryPrefix marks the printed form of ids that were never persisted.
	TemporaryPrefix = "temp-"

	PlaceholderPrompt = "An empty canvas"
	BlankCanvasImage  = "https://v3.fal.media/files/koala/DmVumGB_8GR9RuvB-y1Zb.png"
)

var (
	ErrSlotNotFound = errors.New("slot not found")
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrPlaceholder  = errors.New("operation not allowed on the placeholder slot")
	ErrNoImage      = errors.New("slot has no image")
)

// PlaceholderID is the fixed id of the slot shown when the canvas is empty.
var PlaceholderID = TemporaryID("placeholder")

// SlotID identifies a slot. Temporary ids are fabricated locally and never
// reach the store as keys; persisted ids are assigned by the store.
type SlotID struct {
	key       string
	temporary bool
}

func TemporaryID(key string) SlotID { return SlotID{key: key, temporary: true} }

func PersistedID(key string) SlotID { return SlotID{key: key} }

// NewTemporaryID returns a fresh temporary id.
func NewTemporaryID() SlotID {
	return TemporaryID(strings.ToLower(ulid.Make().String()))
}

// ParseSlotID reverses String.
func ParseSlotID(s string) SlotID {
	if key, ok := strings.CutPrefix(s, TemporaryPrefix); ok {
		return TemporaryID(key)
	}
	return PersistedID(s)
}

// Key is the id without its class marker. For persisted ids it is the store key.
func (id SlotID) Key() string { return id.key }

func (id SlotID) IsTemporary() bool { return id.temporary }

func (id SlotID) IsZero() bool { return id.key == "" }

func (id SlotID) String() string {
	if id.temporary {
		return TemporaryPrefix + id.key
	}
	return id.key
}

func (id SlotID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SlotID) UnmarshalText(b []byte) error {
	*id = ParseSlotID(string(b))
	return nil
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Slot is the full state of one canvas tile.
type Slot struct {
	ID                 SlotID   `json:"id"`
	Prompt             string   `json:"prompt"`
	ImageURL           string   `json:"imageUrl,omitempty"`
	Position           Position `json:"position"`
	IsGenerating       bool     `json:"isGenerating"`
	LatestRequestTime  int64    `json:"latestRequestTime"`
	LatestResponseTime int64    `json:"latestResponseTime"`

	// tile stays the same when a temporary slot is promoted to a persisted id.
	tile string
}

// Tile returns the logical tile key that outlives id changes.
func (s Slot) Tile() string { return s.tile }

func newTileKey() string { return ulid.Make().String() }

// Accepts reports whether a response for a request stamped requestTime may
// still be applied to s.
func Accepts(s Slot, requestTime int64) bool {
	return requestTime >= s.LatestResponseTime
}

// withResponse applies an accepted generation result. generating tells whether
// a newer request is still running.
func (s Slot) withResponse(requestTime int64, prompt, imageURL string, generating bool) Slot {
	s.Prompt = prompt
	s.ImageURL = imageURL
	s.LatestResponseTime = requestTime
	s.IsGenerating = generating
	return s
}

// withRequest marks s as generating for a request stamped requestTime.
func (s Slot) withRequest(requestTime int64) Slot {
	s.IsGenerating = true
	if requestTime > s.LatestRequestTime {
		s.LatestRequestTime = requestTime
	}
	return s
}
