// Package storetest holds the behaviour every core.ImageStore must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"promptcanvas/core"
)

// Run exercises a store returned fresh by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) core.ImageStore) {
	t.Run("Create", func(t *testing.T) { testCreate(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newStore(t)) })
	t.Run("ListEmpty", func(t *testing.T) { testListEmpty(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("UpdatePosition", func(t *testing.T) { testUpdatePosition(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
}

func testCreate(t *testing.T, store core.ImageStore) {
	ctx := context.Background()
	before := time.Now().Add(-time.Second)

	img, err := store.Create(ctx, "a red fox", "https://img.test/fox.png", 412, 180)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if img.ID == "" {
		t.Fatal("Create() returned empty ID")
	}
	if img.Prompt != "a red fox" || img.ImageURL != "https://img.test/fox.png" {
		t.Errorf("Create() content mismatch: %+v", img)
	}
	if img.PositionX != 412 || img.PositionY != 180 {
		t.Errorf("Create() position mismatch: got (%d,%d), want (412,180)", img.PositionX, img.PositionY)
	}
	if img.CreatedAt.Before(before) || img.UpdatedAt.Before(before) {
		t.Errorf("Create() timestamps not set: %+v", img)
	}

	images, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != 1 || images[0].ID != img.ID {
		t.Fatalf("List() mismatch after create: %+v", images)
	}
	if images[0].Prompt != img.Prompt || images[0].PositionX != 412 {
		t.Errorf("List() content mismatch: %+v", images[0])
	}
}

func testListNewestFirst(t *testing.T, store core.ImageStore) {
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		img, err := store.Create(ctx, fmt.Sprintf("prompt %d", i), "https://img.test/x.png", 0, 0)
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		ids = append(ids, img.ID)
		time.Sleep(2 * time.Millisecond)
	}

	images, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("List() count mismatch: got %d, want 3", len(images))
	}
	for i, img := range images {
		if want := ids[len(ids)-1-i]; img.ID != want {
			t.Errorf("List()[%d] mismatch: got %s, want %s", i, img.ID, want)
		}
	}
}

func testListEmpty(t *testing.T, store core.ImageStore) {
	images, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("List() on empty store returned %d images", len(images))
	}
}

func testUpdate(t *testing.T, store core.ImageStore) {
	ctx := context.Background()
	img, err := store.Create(ctx, "old", "https://img.test/old.png", 10, 20)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	updated, err := store.Update(ctx, img.ID, "new", "https://img.test/new.png")
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.ID != img.ID || updated.Prompt != "new" || updated.ImageURL != "https://img.test/new.png" {
		t.Errorf("Update() result mismatch: %+v", updated)
	}
	if updated.PositionX != 10 || updated.PositionY != 20 {
		t.Errorf("Update() changed the position: %+v", updated)
	}

	images, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != 1 || images[0].Prompt != "new" {
		t.Errorf("List() after update mismatch: %+v", images)
	}
}

func testUpdatePosition(t *testing.T, store core.ImageStore) {
	ctx := context.Background()
	img, err := store.Create(ctx, "moving", "https://img.test/m.png", 10, 20)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := store.UpdatePosition(ctx, img.ID, 300, 400); err != nil {
		t.Fatalf("UpdatePosition() failed: %v", err)
	}

	images, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("List() count mismatch: got %d, want 1", len(images))
	}
	got := images[0]
	if got.PositionX != 300 || got.PositionY != 400 {
		t.Errorf("position mismatch: got (%d,%d), want (300,400)", got.PositionX, got.PositionY)
	}
	if got.Prompt != "moving" {
		t.Errorf("UpdatePosition() changed the prompt: %+v", got)
	}
}

func testDelete(t *testing.T, store core.ImageStore) {
	ctx := context.Background()
	keep, err := store.Create(ctx, "keep", "https://img.test/k.png", 0, 0)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	drop, err := store.Create(ctx, "drop", "https://img.test/d.png", 0, 0)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := store.Delete(ctx, drop.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	images, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != 1 || images[0].ID != keep.ID {
		t.Errorf("List() after delete mismatch: %+v", images)
	}
}

func testNotFound(t *testing.T, store core.ImageStore) {
	ctx := context.Background()
	const missing = "01J00000000000000000000000"

	if _, err := store.Update(ctx, missing, "p", "u"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Update() error mismatch: got %v, want %v", err, core.ErrNotFound)
	}
	if err := store.UpdatePosition(ctx, missing, 1, 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdatePosition() error mismatch: got %v, want %v", err, core.ErrNotFound)
	}
	if err := store.Delete(ctx, missing); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Delete() error mismatch: got %v, want %v", err, core.ErrNotFound)
	}
}

func testConcurrentCreate(t *testing.T, store core.ImageStore) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Create(ctx, fmt.Sprintf("p%d", i), "https://img.test/c.png", i, i); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Create() failed: %v", err)
	}

	images, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(images) != n {
		t.Errorf("List() count mismatch: got %d, want %d", len(images), n)
	}
}
