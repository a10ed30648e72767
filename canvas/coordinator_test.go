package canvas

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"promptcanvas/core"
)

func newTestCoordinator(gen core.ImageGenerator, delay time.Duration) (*Registry, *Coordinator, *[]string) {
	r := NewRegistry(testPlaceholder)
	var (
		mu       sync.Mutex
		accepted []string
	)
	c := NewCoordinator(r, gen, delay, func(tile string) {
		mu.Lock()
		accepted = append(accepted, tile)
		mu.Unlock()
	})
	return r, c, &accepted
}

// imageHistory records every image url a slot shows, in order.
type imageHistory struct {
	mu   sync.Mutex
	urls []string
}

func watchImages(r *Registry, tile string) *imageHistory {
	h := &imageHistory{}
	r.OnChange(func() {
		s, ok := r.GetTile(tile)
		if !ok {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if n := len(h.urls); n == 0 || h.urls[n-1] != s.ImageURL {
			h.urls = append(h.urls, s.ImageURL)
		}
	})
	return h
}

func (h *imageHistory) contains(url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range h.urls {
		if u == url {
			return true
		}
	}
	return false
}

func TestCoordinator_StaleResponseIsDiscarded(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), Prompt: "start", ImageURL: "start.png"})
	history := watchImages(r, slot.Tile())

	tCat, err := c.RequestGeneration(slot.ID, "cat")
	if err != nil {
		t.Fatalf("RequestGeneration(cat) failed: %v", err)
	}
	tBird, _ := c.RequestGeneration(slot.ID, "bird")
	tFish, _ := c.RequestGeneration(slot.ID, "fish")
	if !(tCat < tBird && tBird < tFish) {
		t.Fatalf("request times not increasing: %d %d %d", tCat, tBird, tFish)
	}

	gen.release("bird", "bird.png")
	eventually(t, "bird to be applied", func() bool {
		s, _ := r.Get(slot.ID)
		return s.ImageURL == "bird.png"
	})
	s, _ := r.Get(slot.ID)
	if !s.IsGenerating {
		t.Error("slot stopped generating while fish is outstanding")
	}
	if s.LatestResponseTime != tBird {
		t.Errorf("LatestResponseTime mismatch: got %d, want %d", s.LatestResponseTime, tBird)
	}

	gen.release("cat", "cat.png")
	gen.release("fish", "fish.png")
	c.Wait()

	s, _ = r.Get(slot.ID)
	if s.ImageURL != "fish.png" || s.Prompt != "fish" {
		t.Errorf("final slot mismatch: %+v", s)
	}
	if s.IsGenerating {
		t.Error("slot still generating after the latest response")
	}
	if s.LatestResponseTime != tFish {
		t.Errorf("LatestResponseTime mismatch: got %d, want %d", s.LatestResponseTime, tFish)
	}
	if history.contains("cat.png") {
		t.Error("stale cat response was shown")
	}
}

func TestCoordinator_LateResponseAfterNewest(t *testing.T) {
	gen := newGatedGenerator()
	r, c, accepted := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), Prompt: "start", ImageURL: "start.png"})

	c.RequestGeneration(slot.ID, "cat")
	c.RequestGeneration(slot.ID, "bird")

	gen.release("bird", "bird.png")
	eventually(t, "bird to be applied", func() bool {
		s, _ := r.Get(slot.ID)
		return s.ImageURL == "bird.png"
	})
	gen.release("cat", "cat.png")
	c.Wait()

	s, _ := r.Get(slot.ID)
	if s.ImageURL != "bird.png" {
		t.Errorf("late response overwrote newer image: %+v", s)
	}
	if len(*accepted) != 1 {
		t.Errorf("accepted results mismatch: got %d, want 1", len(*accepted))
	}
}

func TestCoordinator_AllArrivalOrders(t *testing.T) {
	prompts := []string{"cat", "bird", "fish"}
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2},
		{1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		r, c, _ := newTestCoordinator(&instantGenerator{}, time.Hour)
		slot := r.Upsert(Slot{ID: PersistedID("x")})

		stamps := make([]int64, len(prompts))
		for i := range prompts {
			_, stamps[i], _ = c.begin(slot.ID)
		}

		var applied []int64
		for _, i := range order {
			c.succeed(slot.Tile(), stamps[i], prompts[i], imageURLFor(prompts[i]))
			s, _ := r.Get(slot.ID)
			applied = append(applied, s.LatestResponseTime)
		}

		for i := 1; i < len(applied); i++ {
			if applied[i] < applied[i-1] {
				t.Errorf("order %v: LatestResponseTime went backwards: %v", order, applied)
			}
		}
		s, _ := r.Get(slot.ID)
		if s.Prompt != "fish" || s.ImageURL != imageURLFor("fish") {
			t.Errorf("order %v: final slot mismatch: %+v", order, s)
		}
		if s.IsGenerating {
			t.Errorf("order %v: slot still generating", order)
		}
		c.Close()
	}
}

func TestNewCoordinator_NonPositiveDelayUsesDefault(t *testing.T) {
	for _, delay := range []time.Duration{0, -time.Second} {
		_, c, _ := newTestCoordinator(&instantGenerator{}, delay)
		if c.delay != DefaultDebounce {
			t.Errorf("delay %v mismatch: got %v, want %v", delay, c.delay, DefaultDebounce)
		}
		c.Close()
	}
}

func TestCoordinator_StampsStrictlyIncrease(t *testing.T) {
	_, c, _ := newTestCoordinator(&instantGenerator{}, time.Hour)
	defer c.Close()

	c.clock = func() int64 { return 1000 }
	want := []int64{1000, 1001, 1002}
	for _, w := range want {
		if got := c.stamp(); got != w {
			t.Errorf("stamp() mismatch: got %d, want %d", got, w)
		}
	}
}

func TestCoordinator_FailureKeepsPersistedImage(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), Prompt: "old", ImageURL: "old.png"})
	c.RequestGeneration(slot.ID, "new")
	gen.reject("new", errors.New("upstream down"))
	c.Wait()

	s, ok := r.Get(slot.ID)
	if !ok {
		t.Fatal("persisted slot removed after failure")
	}
	if s.ImageURL != "old.png" || s.Prompt != "old" {
		t.Errorf("slot content changed after failure: %+v", s)
	}
	if s.IsGenerating {
		t.Error("slot still generating after failure")
	}
}

func TestCoordinator_FailureDropsUnsavedSlot(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: NewTemporaryID(), Prompt: "variation"})
	c.RequestGeneration(slot.ID, "variation")
	gen.reject("variation", errors.New("upstream down"))
	c.Wait()

	if _, ok := r.Get(slot.ID); ok {
		t.Error("unsaved slot without image survived a failed generation")
	}
}

func TestCoordinator_FailureKeepsPlaceholder(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	c.RequestGeneration(PlaceholderID, "mountain")
	gen.reject("mountain", errors.New("upstream down"))
	c.Wait()

	s, ok := r.Get(PlaceholderID)
	if !ok {
		t.Fatal("placeholder removed after failure")
	}
	if s.IsGenerating || s.ImageURL != BlankCanvasImage {
		t.Errorf("placeholder mismatch after failure: %+v", s)
	}
}

func TestCoordinator_StaleFailureIgnored(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), Prompt: "old", ImageURL: "old.png"})
	c.RequestGeneration(slot.ID, "cat")
	c.RequestGeneration(slot.ID, "bird")

	gen.release("bird", "bird.png")
	eventually(t, "bird to be applied", func() bool {
		s, _ := r.Get(slot.ID)
		return s.ImageURL == "bird.png"
	})
	gen.reject("cat", errors.New("upstream down"))
	c.Wait()

	s, _ := r.Get(slot.ID)
	if s.ImageURL != "bird.png" || s.IsGenerating {
		t.Errorf("stale failure changed the slot: %+v", s)
	}
}

func TestCoordinator_NewerFailureThenOlderSuccess(t *testing.T) {
	r, c, accepted := newTestCoordinator(&instantGenerator{}, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), Prompt: "old", ImageURL: "old.png"})
	_, catTime, _ := c.begin(slot.ID)
	_, birdTime, _ := c.begin(slot.ID)

	c.fail(slot.Tile(), birdTime, errors.New("upstream down"))
	s, _ := r.Get(slot.ID)
	if !s.IsGenerating {
		t.Errorf("slot stopped generating while an older request is still running: %+v", s)
	}

	c.succeed(slot.Tile(), catTime, "cat", "cat.png")
	s, _ = r.Get(slot.ID)
	if s.Prompt != "cat" || s.ImageURL != "cat.png" || s.LatestResponseTime != catTime {
		t.Errorf("older success not applied: %+v", s)
	}
	if s.IsGenerating {
		t.Errorf("slot stuck generating with nothing in flight: %+v", s)
	}
	if len(*accepted) != 1 {
		t.Errorf("accepted results mismatch: got %d, want 1", len(*accepted))
	}
}

func TestCoordinator_NewerFailureThenOlderSuccessConcurrent(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), Prompt: "old", ImageURL: "old.png"})
	c.RequestGeneration(slot.ID, "cat")
	c.RequestGeneration(slot.ID, "bird")

	gen.reject("bird", errors.New("upstream down"))
	gen.release("cat", "cat.png")
	c.Wait()

	s, _ := r.Get(slot.ID)
	if s.Prompt != "cat" || s.ImageURL != "cat.png" {
		t.Errorf("final slot mismatch: %+v", s)
	}
	if s.IsGenerating {
		t.Errorf("slot stuck generating with nothing in flight: %+v", s)
	}
}

func TestCoordinator_UnsavedSlotKeptWhileOlderRequestRuns(t *testing.T) {
	r, c, _ := newTestCoordinator(&instantGenerator{}, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: NewTemporaryID(), Prompt: "variation"})
	_, first, _ := c.begin(slot.ID)
	_, second, _ := c.begin(slot.ID)

	c.fail(slot.Tile(), second, errors.New("upstream down"))
	if _, ok := r.Get(slot.ID); !ok {
		t.Fatal("unsaved slot removed while an older request could still succeed")
	}

	c.fail(slot.Tile(), first, errors.New("upstream down"))
	if _, ok := r.Get(slot.ID); ok {
		t.Error("unsaved slot without image survived all failed generations")
	}
}

func TestCoordinator_EmptyImageIsFailure(t *testing.T) {
	gen := newGatedGenerator()
	r, c, accepted := newTestCoordinator(gen, time.Hour)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x"), ImageURL: "old.png"})
	c.RequestGeneration(slot.ID, "cat")
	gen.release("cat", "")
	c.Wait()

	s, _ := r.Get(slot.ID)
	if s.ImageURL != "old.png" {
		t.Errorf("empty image was applied: %+v", s)
	}
	if len(*accepted) != 0 {
		t.Error("empty image reported as accepted")
	}
}

func TestCoordinator_RequestGenerationErrors(t *testing.T) {
	r, c, _ := newTestCoordinator(&instantGenerator{}, time.Hour)
	slot := r.Upsert(Slot{ID: PersistedID("x")})

	if _, err := c.RequestGeneration(slot.ID, "   "); err != ErrEmptyPrompt {
		t.Errorf("empty prompt error mismatch: got %v, want %v", err, ErrEmptyPrompt)
	}
	if _, err := c.RequestGeneration(PersistedID("missing"), "cat"); err != ErrSlotNotFound {
		t.Errorf("unknown slot error mismatch: got %v, want %v", err, ErrSlotNotFound)
	}

	c.Close()
	if _, err := c.RequestGeneration(slot.ID, "cat"); !errors.Is(err, context.Canceled) {
		t.Errorf("closed coordinator error mismatch: got %v", err)
	}
	s, _ := r.Get(slot.ID)
	if s.IsGenerating {
		t.Error("rejected request marked the slot as generating")
	}
}

func TestCoordinator_DebounceLastEditWins(t *testing.T) {
	gen := &instantGenerator{}
	r, c, _ := newTestCoordinator(gen, 30*time.Millisecond)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x")})
	for _, p := range []string{"c", "ca", "cat"} {
		c.OnPromptEdit(slot.ID, p)
	}
	if !c.Pending() {
		t.Fatal("Pending() = false right after an edit")
	}

	eventually(t, "debounced generation", func() bool { return len(gen.Calls()) > 0 })
	time.Sleep(60 * time.Millisecond)
	c.Wait()

	calls := gen.Calls()
	if len(calls) != 1 || calls[0] != "cat" {
		t.Errorf("generator calls mismatch: got %v, want [cat]", calls)
	}
	s, _ := r.Get(slot.ID)
	if s.Prompt != "cat" || s.ImageURL != imageURLFor("cat") {
		t.Errorf("slot mismatch: %+v", s)
	}
}

func TestCoordinator_DebounceIsSharedAcrossSlots(t *testing.T) {
	gen := &instantGenerator{}
	r, c, _ := newTestCoordinator(gen, 30*time.Millisecond)
	defer c.Close()

	a := r.Upsert(Slot{ID: PersistedID("a")})
	b := r.Upsert(Slot{ID: PersistedID("b")})
	c.OnPromptEdit(a.ID, "apple")
	c.OnPromptEdit(b.ID, "banana")

	eventually(t, "debounced generation", func() bool { return len(gen.Calls()) > 0 })
	time.Sleep(60 * time.Millisecond)
	c.Wait()

	calls := gen.Calls()
	if len(calls) != 1 || calls[0] != "banana" {
		t.Errorf("generator calls mismatch: got %v, want [banana]", calls)
	}
	if s, _ := r.Get(a.ID); s.IsGenerating || s.ImageURL != "" {
		t.Errorf("superseded slot was touched: %+v", s)
	}
}

func TestCoordinator_EmptyEditCancelsPending(t *testing.T) {
	gen := &instantGenerator{}
	r, c, _ := newTestCoordinator(gen, 20*time.Millisecond)
	defer c.Close()

	slot := r.Upsert(Slot{ID: PersistedID("x")})
	c.OnPromptEdit(slot.ID, "cat")
	c.OnPromptEdit(slot.ID, "")

	if c.Pending() {
		t.Error("Pending() = true after an empty edit")
	}
	time.Sleep(60 * time.Millisecond)
	if calls := gen.Calls(); len(calls) != 0 {
		t.Errorf("generator called after cancel: %v", calls)
	}
}

func TestCoordinator_CloseCancelsInFlight(t *testing.T) {
	gen := newGatedGenerator()
	r, c, _ := newTestCoordinator(gen, 20*time.Millisecond)

	slot := r.Upsert(Slot{ID: PersistedID("x"), ImageURL: "old.png"})
	c.RequestGeneration(slot.ID, "never")
	c.OnPromptEdit(slot.ID, "pending")

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not return")
	}

	time.Sleep(40 * time.Millisecond)
	for _, p := range gen.Calls() {
		if p == "pending" {
			t.Error("pending edit dispatched after Close()")
		}
	}
}
