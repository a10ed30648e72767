package canvas

import (
	"slices"
	"sync"
)

// Change tells ApplyTile what to do with the slot its callback inspected.
type Change int

const (
	Unchanged Change = iota
	Store
	Drop
)

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Slots      map[SlotID]Slot `json:"slots"`
	Order      []SlotID        `json:"order"`
	SelectedID SlotID          `json:"selectedId"`
}

// Registry owns every slot on the canvas and the current selection. All
// mutations happen under one lock, so a snapshot never observes a half-done
// id swap.
type Registry struct {
	mu          sync.RWMutex
	slots       map[SlotID]Slot
	order       []SlotID
	tiles       map[string]SlotID
	selected    SlotID
	placeholder func() Slot

	listenersMu sync.RWMutex
	listeners   []func()
}

// NewRegistry returns a registry holding a single selected placeholder.
// placeholder builds the canonical empty-canvas slot.
func NewRegistry(placeholder func() Slot) *Registry {
	r := &Registry{
		slots:       make(map[SlotID]Slot),
		tiles:       make(map[string]SlotID),
		placeholder: placeholder,
	}
	r.mu.Lock()
	r.ensureNotEmptyLocked()
	r.mu.Unlock()
	return r
}

// OnChange registers fn to run after every mutation. fn runs without the
// registry lock held and may read the registry.
func (r *Registry) OnChange(fn func()) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) notify() {
	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (r *Registry) Get(id SlotID) (Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	return s, ok
}

// GetTile returns the slot currently holding tile, whatever its id is now.
func (r *Registry) GetTile(tile string) (Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tiles[tile]
	if !ok {
		return Slot{}, false
	}
	return r.slots[id], true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

func (r *Registry) Selected() SlotID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Slots returns the slots in insertion order.
func (r *Registry) Slots() []Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Slot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.slots[id])
	}
	return out
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		Slots:      make(map[SlotID]Slot, len(r.slots)),
		Order:      slices.Clone(r.order),
		SelectedID: r.selected,
	}
	for id, s := range r.slots {
		snap.Slots[id] = s
	}
	return snap
}

// Upsert inserts s or replaces the slot with the same id.
func (r *Registry) Upsert(s Slot) Slot {
	r.mu.Lock()
	s = r.upsertLocked(s)
	r.mu.Unlock()
	r.notify()
	return s
}

// Select makes id the selected slot.
func (r *Registry) Select(id SlotID) error {
	r.mu.Lock()
	if _, ok := r.slots[id]; !ok {
		r.mu.Unlock()
		return ErrSlotNotFound
	}
	r.selected = id
	r.mu.Unlock()
	r.notify()
	return nil
}

// Remove deletes id. Selection repair and placeholder insertion happen in the
// same critical section.
func (r *Registry) Remove(id SlotID) (Slot, bool) {
	r.mu.Lock()
	s, ok := r.removeLocked(id)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return s, ok
}

// ReplaceID swaps oldID for next in one step. The replacement keeps the old
// slot's place in iteration order and its tile, and inherits the selection.
func (r *Registry) ReplaceID(oldID SlotID, next Slot) bool {
	r.mu.Lock()
	ok := r.replaceLocked(oldID, next)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return ok
}

// Promote gives the slot currently holding tile the persisted key. The live
// slot is carried over unchanged apart from its id, so generation stamps keep
// rejecting stale responses under the new id.
func (r *Registry) Promote(tile, key string) (Slot, bool) {
	r.mu.Lock()
	id, ok := r.tiles[tile]
	if !ok || !id.IsTemporary() {
		r.mu.Unlock()
		return Slot{}, false
	}
	next := r.slots[id]
	next.ID = PersistedID(key)
	if !r.replaceLocked(id, next) {
		r.mu.Unlock()
		return Slot{}, false
	}
	r.mu.Unlock()
	r.notify()
	return next, true
}

// Apply runs fn against the slot with id atomically.
func (r *Registry) Apply(id SlotID, fn func(*Slot) Change) (Slot, Change, bool) {
	r.mu.Lock()
	s, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		return Slot{}, Unchanged, false
	}
	s, change := r.applyLocked(s, fn)
	r.mu.Unlock()
	if change != Unchanged {
		r.notify()
	}
	return s, change, true
}

// ApplyTile runs fn against whichever slot holds tile when the call is made.
func (r *Registry) ApplyTile(tile string, fn func(*Slot) Change) (Slot, Change, bool) {
	r.mu.Lock()
	id, ok := r.tiles[tile]
	if !ok {
		r.mu.Unlock()
		return Slot{}, Unchanged, false
	}
	s, change := r.applyLocked(r.slots[id], fn)
	r.mu.Unlock()
	if change != Unchanged {
		r.notify()
	}
	return s, change, true
}

// Reset replaces the whole content. The first slot is selected; an empty
// list leaves the placeholder.
func (r *Registry) Reset(slots []Slot) {
	r.mu.Lock()
	r.slots = make(map[SlotID]Slot, len(slots))
	r.tiles = make(map[string]SlotID, len(slots))
	r.order = nil
	r.selected = SlotID{}
	for _, s := range slots {
		r.upsertLocked(s)
	}
	if len(r.order) > 0 {
		r.selected = r.order[0]
	}
	r.ensureNotEmptyLocked()
	r.mu.Unlock()
	r.notify()
}

// Drain empties the registry, leaving the placeholder selected, and returns
// what it held in order. Nothing can change the slots between the read and
// the reset.
func (r *Registry) Drain() []Slot {
	r.mu.Lock()
	drained := make([]Slot, 0, len(r.order))
	for _, id := range r.order {
		drained = append(drained, r.slots[id])
	}
	r.slots = make(map[SlotID]Slot)
	r.tiles = make(map[string]SlotID)
	r.order = nil
	r.selected = SlotID{}
	r.ensureNotEmptyLocked()
	r.mu.Unlock()
	r.notify()
	return drained
}

func (r *Registry) applyLocked(s Slot, fn func(*Slot) Change) (Slot, Change) {
	next := s
	change := fn(&next)
	switch change {
	case Store:
		next.ID, next.tile = s.ID, s.tile
		r.slots[s.ID] = next
		return next, change
	case Drop:
		r.removeLocked(s.ID)
	}
	return s, change
}

func (r *Registry) upsertLocked(s Slot) Slot {
	if existing, ok := r.slots[s.ID]; ok {
		if s.tile == "" {
			s.tile = existing.tile
		}
		if s.tile != existing.tile {
			delete(r.tiles, existing.tile)
		}
	} else {
		r.order = append(r.order, s.ID)
	}
	if s.tile == "" {
		s.tile = newTileKey()
	}
	r.slots[s.ID] = s
	r.tiles[s.tile] = s.ID
	if r.selected.IsZero() {
		r.selected = s.ID
	}
	return s
}

func (r *Registry) removeLocked(id SlotID) (Slot, bool) {
	s, ok := r.slots[id]
	if !ok {
		return Slot{}, false
	}
	delete(r.slots, id)
	delete(r.tiles, s.tile)
	r.order = slices.DeleteFunc(r.order, func(o SlotID) bool { return o == id })

	if r.selected == id {
		r.selected = SlotID{}
		if len(r.order) > 0 {
			r.selected = r.order[0]
		}
	}
	r.ensureNotEmptyLocked()
	return s, true
}

func (r *Registry) replaceLocked(oldID SlotID, next Slot) bool {
	old, ok := r.slots[oldID]
	if !ok {
		return false
	}
	if _, taken := r.slots[next.ID]; taken && next.ID != oldID {
		return false
	}
	if next.tile == "" {
		next.tile = old.tile
	}

	delete(r.slots, oldID)
	delete(r.tiles, old.tile)
	r.slots[next.ID] = next
	r.tiles[next.tile] = next.ID
	if i := slices.Index(r.order, oldID); i >= 0 {
		r.order[i] = next.ID
	}
	if r.selected == oldID {
		r.selected = next.ID
	}
	return true
}

func (r *Registry) ensureNotEmptyLocked() {
	if len(r.slots) > 0 || r.placeholder == nil {
		return
	}
	p := r.placeholder()
	p.ID = PlaceholderID
	r.upsertLocked(p)
	r.selected = p.ID
}
