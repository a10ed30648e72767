package canvas

import (
	"context"
	"sync"

	"promptcanvas/core"

	"github.com/sirupsen/logrus"
)

// saved is what the store is known to hold for a tile.
type saved struct {
	prompt   string
	imageURL string
	position Position
}

func savedFrom(img *core.Image) saved {
	return saved{
		prompt:   img.Prompt,
		imageURL: img.ImageURL,
		position: Position{X: img.PositionX, Y: img.PositionY},
	}
}

// Bridge reconciles slots in the registry with the image store. Each tile has
// at most one background sync loop; a request that arrives while the loop is
// running makes it go around once more, always reading the live slot.
type Bridge struct {
	registry *Registry
	store    core.ImageStore
	rollback bool

	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	syncing map[string]bool
	dirty   map[string]bool
	saved   map[string]saved
}

// NewBridge returns a bridge writing to store. With rollbackMoves set, a failed
// position write restores the last persisted position.
func NewBridge(ctx context.Context, registry *Registry, store core.ImageStore, rollbackMoves bool) *Bridge {
	return &Bridge{
		registry: registry,
		store:    store,
		rollback: rollbackMoves,
		ctx:      ctx,
		syncing:  make(map[string]bool),
		dirty:    make(map[string]bool),
		saved:    make(map[string]saved),
	}
}

// Track records that tile is already persisted with the values in img.
func (b *Bridge) Track(tile string, img *core.Image) {
	b.mu.Lock()
	b.saved[tile] = savedFrom(img)
	b.mu.Unlock()
}

// Forget drops everything known about tile.
func (b *Bridge) Forget(tile string) {
	b.mu.Lock()
	delete(b.saved, tile)
	b.mu.Unlock()
}

// ForgetAll drops everything known about every tile.
func (b *Bridge) ForgetAll() {
	b.mu.Lock()
	b.saved = make(map[string]saved)
	b.mu.Unlock()
}

// MaterializeThenPersist shows temp immediately and creates its record in the
// background. On failure the slot is removed again.
func (b *Bridge) MaterializeThenPersist(temp Slot, selectIt bool) Slot {
	temp = b.registry.Upsert(temp)
	if selectIt {
		_ = b.registry.Select(temp.ID)
	}
	b.Persist(temp.tile)
	return temp
}

// Persist reconciles tile with the store, creating its record if the slot is
// still temporary.
func (b *Bridge) Persist(tile string) { b.schedule(tile, true) }

// Sync writes changes of an already persisted tile. Temporary tiles are left
// alone unless a create for them is already running.
func (b *Bridge) Sync(tile string) { b.schedule(tile, false) }

func (b *Bridge) schedule(tile string, create bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.syncing[tile] {
		b.dirty[tile] = true
		return
	}
	if !create {
		if s, ok := b.registry.GetTile(tile); !ok || s.ID.IsTemporary() {
			return
		}
	}
	b.syncing[tile] = true
	b.wg.Add(1)
	go b.loop(tile)
}

func (b *Bridge) loop(tile string) {
	defer b.wg.Done()
	for {
		b.syncOnce(tile)

		b.mu.Lock()
		if !b.dirty[tile] {
			delete(b.syncing, tile)
			b.mu.Unlock()
			return
		}
		delete(b.dirty, tile)
		b.mu.Unlock()
	}
}

func (b *Bridge) syncOnce(tile string) {
	live, ok := b.registry.GetTile(tile)
	if !ok {
		return
	}
	if live.ID.IsTemporary() {
		if live.ImageURL == "" {
			return
		}
		if !b.create(tile, live) {
			return
		}
		if live, ok = b.registry.GetTile(tile); !ok {
			return
		}
	}
	b.writeChanges(tile, live)
}

func (b *Bridge) create(tile string, live Slot) bool {
	log := logrus.WithFields(logrus.Fields{"tile": tile, "slot_id": live.ID.String()})

	img, err := b.store.Create(b.ctx, live.Prompt, live.ImageURL, live.Position.X, live.Position.Y)
	if err == nil && img == nil {
		err = core.ErrNotFound
	}
	if err != nil {
		log.WithError(err).Error("Failed to save slot, discarding it")
		b.registry.ApplyTile(tile, func(s *Slot) Change {
			if !s.ID.IsTemporary() {
				return Unchanged
			}
			return Drop
		})
		return false
	}

	promoted, ok := b.registry.Promote(tile, img.ID)
	if !ok {
		// deleted while the create was in flight
		log.WithField("image_id", img.ID).Warn("Slot removed before it was saved, deleting record")
		if err := b.store.Delete(b.ctx, img.ID); err != nil {
			log.WithError(err).Error("Failed to delete orphaned record")
		}
		return false
	}

	b.Track(tile, img)
	log.WithField("image_id", promoted.ID.String()).Info("Slot saved")
	return true
}

func (b *Bridge) writeChanges(tile string, live Slot) {
	b.mu.Lock()
	last, known := b.saved[tile]
	b.mu.Unlock()
	if !known {
		last = saved{prompt: live.Prompt, imageURL: live.ImageURL, position: live.Position}
	}

	log := logrus.WithFields(logrus.Fields{"tile": tile, "image_id": live.ID.Key()})

	if known && (live.Prompt != last.prompt || live.ImageURL != last.imageURL) && live.ImageURL != "" {
		img, err := b.store.Update(b.ctx, live.ID.Key(), live.Prompt, live.ImageURL)
		if err == nil && img == nil {
			err = core.ErrNotFound
		}
		if err != nil {
			log.WithError(err).Error("Failed to update image, keeping local state")
		} else {
			last.prompt, last.imageURL = live.Prompt, live.ImageURL
			log.Info("Image updated")
		}
	}

	if known && live.Position != last.position {
		if err := b.store.UpdatePosition(b.ctx, live.ID.Key(), live.Position.X, live.Position.Y); err != nil {
			log.WithError(err).Error("Failed to update image position")
			if b.rollback {
				b.rollbackMove(tile, live.Position, last.position)
			}
		} else {
			last.position = live.Position
		}
	}

	b.mu.Lock()
	if _, still := b.saved[tile]; still || !known {
		b.saved[tile] = last
	}
	b.mu.Unlock()
}

// rollbackMove restores from unless the tile has been moved again since attempted.
func (b *Bridge) rollbackMove(tile string, attempted, from Position) {
	_, change, _ := b.registry.ApplyTile(tile, func(s *Slot) Change {
		if s.Position != attempted {
			return Unchanged
		}
		s.Position = from
		return Store
	})
	if change == Store {
		logrus.WithField("tile", tile).Warn("Rolled back slot position")
	}
}

// Wait blocks until every sync loop has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}
