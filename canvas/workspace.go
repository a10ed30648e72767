package canvas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"promptcanvas/core"

	"github.com/sirupsen/logrus"
)

// MaxVariations caps how many variation prompts are turned into tiles.
const MaxVariations = 4

type Config struct {
	Layout              Layout
	Debounce            time.Duration
	RollbackFailedMoves bool
}

func DefaultConfig() Config {
	return Config{
		Layout:   DefaultLayout(),
		Debounce: DefaultDebounce,
	}
}

// Workspace is the engine behind one canvas: it wires the registry, the
// generation coordinator, the reconciliation bridge and placement together and
// exposes the operations the presentation layer calls.
type Workspace struct {
	registry    *Registry
	coordinator *Coordinator
	bridge      *Bridge
	store       core.ImageStore
	variations  core.VariationGenerator

	layoutMu sync.RWMutex
	layout   Layout

	cancel context.CancelFunc
}

func New(cfg Config, store core.ImageStore, images core.ImageGenerator, variations core.VariationGenerator) *Workspace {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		store:      store,
		variations: variations,
		layout:     cfg.Layout,
		cancel:     cancel,
	}
	w.registry = NewRegistry(w.placeholder)
	w.bridge = NewBridge(ctx, w.registry, store, cfg.RollbackFailedMoves)
	w.coordinator = NewCoordinator(w.registry, images, cfg.Debounce, w.bridge.Persist)
	return w
}

func (w *Workspace) placeholder() Slot {
	return Slot{
		ID:       PlaceholderID,
		Prompt:   PlaceholderPrompt,
		ImageURL: BlankCanvasImage,
		Position: w.Layout().NewSlotPosition(),
	}
}

func (w *Workspace) Layout() Layout {
	w.layoutMu.RLock()
	defer w.layoutMu.RUnlock()
	return w.layout
}

// SetViewportWidth updates the width placement works against. Existing tiles
// are not moved.
func (w *Workspace) SetViewportWidth(width int) {
	if width <= 0 {
		return
	}
	w.layoutMu.Lock()
	w.layout.ViewportWidth = width
	w.layoutMu.Unlock()
}

func (w *Workspace) Registry() *Registry { return w.registry }

func (w *Workspace) Snapshot() Snapshot { return w.registry.Snapshot() }

// OnChange registers fn to run after every registry mutation.
func (w *Workspace) OnChange(fn func()) { w.registry.OnChange(fn) }

// Load replaces the canvas with the stored images, newest first, and selects
// the newest one.
func (w *Workspace) Load(ctx context.Context) error {
	images, err := w.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}

	layout := w.Layout()
	w.bridge.ForgetAll()
	slots := make([]Slot, 0, len(images))
	for _, img := range images {
		s := Slot{
			ID:       PersistedID(img.ID),
			Prompt:   img.Prompt,
			ImageURL: img.ImageURL,
			Position: layout.Clamp(Position{X: img.PositionX, Y: img.PositionY}),
			tile:     newTileKey(),
		}
		w.bridge.Track(s.tile, img)
		slots = append(slots, s)
	}
	w.registry.Reset(slots)

	logrus.WithField("count", len(slots)).Info("Workspace loaded")
	return nil
}

func (w *Workspace) resolve(id SlotID) SlotID {
	if id.IsZero() {
		return w.registry.Selected()
	}
	return id
}

// OnPromptEdit is called for every keystroke. An empty id targets the
// selected slot.
func (w *Workspace) OnPromptEdit(id SlotID, prompt string) error {
	id = w.resolve(id)
	if _, ok := w.registry.Get(id); !ok {
		return ErrSlotNotFound
	}
	w.coordinator.OnPromptEdit(id, prompt)
	return nil
}

// RequestGeneration dispatches a generation immediately, bypassing the debounce.
func (w *Workspace) RequestGeneration(id SlotID, prompt string) (int64, error) {
	return w.coordinator.RequestGeneration(w.resolve(id), prompt)
}

func (w *Workspace) SelectSlot(id SlotID) error {
	return w.registry.Select(id)
}

// CloneSlot copies a tile next to the original and selects the copy.
func (w *Workspace) CloneSlot(id SlotID) (Slot, error) {
	original, ok := w.registry.Get(id)
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	if original.ID == PlaceholderID {
		return Slot{}, ErrPlaceholder
	}
	if original.ImageURL == "" {
		return Slot{}, ErrNoImage
	}

	clone := Slot{
		ID:       NewTemporaryID(),
		Prompt:   original.Prompt,
		ImageURL: original.ImageURL,
		Position: w.Layout().ClonePosition(original.Position),
	}
	clone = w.bridge.MaterializeThenPersist(clone, true)

	logrus.WithFields(logrus.Fields{
		"slot_id":  clone.ID.String(),
		"original": original.ID.String(),
	}).Info("Slot cloned")
	return clone, nil
}

// DeleteSlot removes a tile. Persisted tiles are removed locally only after
// the store confirmed the delete. Deleting the placeholder does nothing.
func (w *Workspace) DeleteSlot(ctx context.Context, id SlotID) error {
	s, ok := w.registry.Get(id)
	if !ok {
		return ErrSlotNotFound
	}
	if id == PlaceholderID {
		logrus.Debug("Ignoring delete of the placeholder slot")
		return nil
	}

	if !id.IsTemporary() {
		if err := w.store.Delete(ctx, id.Key()); err != nil {
			logrus.WithFields(logrus.Fields{"slot_id": id.String(), "error": err}).Error("Failed to delete image")
			return fmt.Errorf("delete image %s: %w", id, err)
		}
	}

	w.registry.Remove(id)
	w.bridge.Forget(s.tile)
	logrus.WithField("slot_id", id.String()).Info("Slot deleted")
	return nil
}

// MoveSlot places a tile at (x, y), clamped to the canvas. The new position is
// persisted in the background.
func (w *Workspace) MoveSlot(id SlotID, x, y int) (Slot, error) {
	pos := w.Layout().Clamp(Position{X: x, Y: y})
	s, _, ok := w.registry.Apply(id, func(s *Slot) Change {
		if s.Position == pos {
			return Unchanged
		}
		s.Position = pos
		return Store
	})
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	w.bridge.Sync(s.tile)
	return s, nil
}

// GenerateVariationsFor asks for alternative prompts and starts one generation
// per variation. The new tiles are returned while their images are still
// being generated; each one is saved once its own image arrives.
func (w *Workspace) GenerateVariationsFor(ctx context.Context, id SlotID) ([]Slot, error) {
	original, ok := w.registry.Get(id)
	if !ok {
		return nil, ErrSlotNotFound
	}
	if original.ID == PlaceholderID {
		return nil, ErrPlaceholder
	}
	if strings.TrimSpace(original.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	prompts, err := w.variations.Variations(ctx, original.Prompt)
	if err != nil {
		logrus.WithFields(logrus.Fields{"slot_id": id.String(), "error": err}).Error("Error generating variations")
		return nil, fmt.Errorf("generate variations: %w", err)
	}
	prompts = cleanVariations(prompts)

	positions := w.Layout().VariationPositions(original.Position, len(prompts))
	slots := make([]Slot, 0, len(prompts))
	for i, prompt := range prompts {
		s := w.registry.Upsert(Slot{
			ID:       NewTemporaryID(),
			Prompt:   prompt,
			Position: positions[i],
		})
		if _, err := w.coordinator.RequestGeneration(s.ID, prompt); err != nil {
			w.registry.Remove(s.ID)
			logrus.WithFields(logrus.Fields{"prompt": prompt, "error": err}).Warn("Variation not dispatched")
			continue
		}
		if live, ok := w.registry.Get(s.ID); ok {
			s = live
		}
		slots = append(slots, s)
	}

	logrus.WithFields(logrus.Fields{"slot_id": id.String(), "count": len(slots)}).Info("Variations dispatched")
	return slots, nil
}

func cleanVariations(prompts []string) []string {
	out := make([]string, 0, MaxVariations)
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == MaxVariations {
			break
		}
	}
	return out
}

// ArrangeGrid lays every tile out row-major in registry order.
func (w *Workspace) ArrangeGrid() []Slot {
	slots := w.registry.Slots()
	ids := make([]SlotID, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	positions := w.Layout().GridArrangement(ids)

	moved := make([]Slot, 0, len(slots))
	for _, id := range ids {
		pos := positions[id]
		s, change, ok := w.registry.Apply(id, func(s *Slot) Change {
			if s.Position == pos {
				return Unchanged
			}
			s.Position = pos
			return Store
		})
		if !ok || change == Unchanged {
			continue
		}
		w.bridge.Sync(s.tile)
		moved = append(moved, s)
	}

	logrus.WithField("moved", len(moved)).Info("Grid arranged")
	return moved
}

// ClearAll empties the canvas locally right away, then deletes every
// persisted image. Delete failures are joined into the returned error.
func (w *Workspace) ClearAll(ctx context.Context) error {
	slots := w.registry.Drain()
	w.bridge.ForgetAll()

	var errs []error
	for _, s := range slots {
		// a temporary slot still being created has its row removed by the bridge
		if s.ID.IsTemporary() {
			continue
		}
		if err := w.store.Delete(ctx, s.ID.Key()); err != nil {
			logrus.WithFields(logrus.Fields{"slot_id": s.ID.String(), "error": err}).Error("Failed to delete image")
			errs = append(errs, fmt.Errorf("delete image %s: %w", s.ID, err))
		}
	}

	logrus.WithField("count", len(slots)).Info("Canvas cleared")
	return errors.Join(errs...)
}

// Wait blocks until all in-flight generations and store writes have settled.
func (w *Workspace) Wait() {
	w.coordinator.Wait()
	w.bridge.Wait()
}

// Close stops the debounce timer, cancels outstanding remote calls and waits
// for background work to finish.
func (w *Workspace) Close() {
	w.coordinator.Close()
	w.cancel()
	w.bridge.Wait()
}
