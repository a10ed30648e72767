package canvas

import (
	"context"
	"strings"
	"sync"
	"time"

	"promptcanvas/core"

	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet period after the last edit before a generation
// is dispatched.
const DefaultDebounce = 500 * time.Millisecond

type pendingEdit struct {
	slotID SlotID
	prompt string
	seq    uint64
}

// Coordinator turns prompt edits into generation requests and applies their
// results, discarding any result that a newer request has superseded.
//
// Remote calls are never cancelled while the coordinator is open; a superseded
// call runs to completion and its result is ignored on arrival.
type Coordinator struct {
	registry  *Registry
	generator core.ImageGenerator
	delay     time.Duration
	clock     func() int64
	onAccept  func(tile string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu may be taken while the registry lock is held, never the reverse.
	mu        sync.Mutex
	timer     *time.Timer
	pending   *pendingEdit
	seq       uint64
	lastStamp int64
	closed    bool
	inflight  map[string]map[int64]struct{}
}

// NewCoordinator returns a coordinator dispatching to generator. onAccept is
// called with the tile of every accepted result. A non-positive delay selects
// DefaultDebounce.
func NewCoordinator(registry *Registry, generator core.ImageGenerator, delay time.Duration, onAccept func(tile string)) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Coordinator{
		registry:  registry,
		generator: generator,
		delay:     delay,
		clock:     func() int64 { return time.Now().UnixMilli() },
		onAccept:  onAccept,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]map[int64]struct{}),
	}
}

func (c *Coordinator) track(tile string, requestTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamps, ok := c.inflight[tile]
	if !ok {
		stamps = make(map[int64]struct{})
		c.inflight[tile] = stamps
	}
	stamps[requestTime] = struct{}{}
}

func (c *Coordinator) untrack(tile string, requestTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight[tile], requestTime)
	if len(c.inflight[tile]) == 0 {
		delete(c.inflight, tile)
	}
}

// inFlightAfter reports whether a request for tile stamped later than
// requestTime is still running.
func (c *Coordinator) inFlightAfter(tile string, requestTime int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for stamp := range c.inflight[tile] {
		if stamp > requestTime {
			return true
		}
	}
	return false
}

// stamp returns a strictly increasing request time.
func (c *Coordinator) stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if now <= c.lastStamp {
		now = c.lastStamp + 1
	}
	c.lastStamp = now
	return now
}

// OnPromptEdit restarts the shared debounce timer. Any edit, for any slot,
// replaces the pending one. An empty prompt only cancels what is pending.
func (c *Coordinator) OnPromptEdit(slotID SlotID, prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.seq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil

	if strings.TrimSpace(prompt) == "" {
		return
	}

	edit := &pendingEdit{slotID: slotID, prompt: prompt, seq: c.seq}
	c.pending = edit
	c.timer = time.AfterFunc(c.delay, func() { c.fire(edit.seq) })
}

// Pending reports whether an edit is waiting for its debounce to elapse.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Coordinator) fire(seq uint64) {
	c.mu.Lock()
	edit := c.pending
	if edit == nil || edit.seq != seq || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	if _, err := c.RequestGeneration(edit.slotID, edit.prompt); err != nil {
		logrus.WithFields(logrus.Fields{
			"slot_id": edit.slotID.String(),
			"error":   err,
		}).Warn("Debounced generation not dispatched")
	}
}

// RequestGeneration marks the slot as generating and dispatches the remote
// call. The returned request time is the stamp the result will be judged by.
func (c *Coordinator) RequestGeneration(slotID SlotID, prompt string) (int64, error) {
	if strings.TrimSpace(prompt) == "" {
		return 0, ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, context.Canceled
	}
	c.wg.Add(1)
	c.mu.Unlock()

	slot, requestTime, ok := c.begin(slotID)
	if !ok {
		c.wg.Done()
		return 0, ErrSlotNotFound
	}

	logrus.WithFields(logrus.Fields{
		"slot_id":      slotID.String(),
		"request_time": requestTime,
	}).Debug("Dispatching image generation")

	go func() {
		defer c.wg.Done()
		imageURL, err := c.generator.Generate(c.ctx, prompt)
		if err == nil && imageURL == "" {
			err = ErrNoImage
		}
		if err != nil {
			c.fail(slot.tile, requestTime, err)
			return
		}
		c.succeed(slot.tile, requestTime, prompt, imageURL)
	}()

	return requestTime, nil
}

// begin stamps a request and marks the slot as generating in one step.
func (c *Coordinator) begin(slotID SlotID) (Slot, int64, bool) {
	requestTime := c.stamp()
	slot, _, ok := c.registry.Apply(slotID, func(s *Slot) Change {
		*s = s.withRequest(requestTime)
		c.track(s.tile, requestTime)
		return Store
	})
	return slot, requestTime, ok
}

func (c *Coordinator) succeed(tile string, requestTime int64, prompt, imageURL string) {
	log := logrus.WithFields(logrus.Fields{"tile": tile, "request_time": requestTime})
	c.untrack(tile, requestTime)

	slot, change, ok := c.registry.ApplyTile(tile, func(s *Slot) Change {
		if !Accepts(*s, requestTime) {
			return Unchanged
		}
		*s = s.withResponse(requestTime, prompt, imageURL, c.inFlightAfter(tile, requestTime))
		return Store
	})
	if !ok {
		log.Debug("Generation finished for a slot that no longer exists")
		return
	}
	if change == Unchanged {
		log.WithField("latest_response_time", slot.LatestResponseTime).Debug("Discarding stale generation result")
		return
	}

	log.WithField("slot_id", slot.ID.String()).Info("Generation result applied")
	if c.onAccept != nil {
		c.onAccept(tile)
	}
}

func (c *Coordinator) fail(tile string, requestTime int64, cause error) {
	log := logrus.WithFields(logrus.Fields{"tile": tile, "request_time": requestTime, "error": cause})
	c.untrack(tile, requestTime)

	slot, change, ok := c.registry.ApplyTile(tile, func(s *Slot) Change {
		if !Accepts(*s, requestTime) {
			return Unchanged
		}
		// an older request may still succeed
		generating := c.inFlightAfter(tile, s.LatestResponseTime)
		if s.ID.IsTemporary() && s.ImageURL == "" && !generating {
			return Drop
		}
		s.IsGenerating = generating
		return Store
	})
	if !ok {
		return
	}
	switch change {
	case Drop:
		log.WithField("slot_id", slot.ID.String()).Error("Image generation failed, removed unsaved slot")
	case Store:
		log.WithField("slot_id", slot.ID.String()).Error("Image generation failed")
	default:
		log.Warn("Image generation failed for a superseded request")
	}
}

// Wait blocks until every dispatched generation has been applied or discarded.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close drops the pending edit, cancels in-flight calls and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
