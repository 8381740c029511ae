package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/pkg/asset"
)

// fakeTier is an in-memory tier with error injection for manager tests.
type fakeTier struct {
	mu      sync.Mutex
	records map[string]*Record
	getErr  error
	setErr  error
}

func newFakeTier() *fakeTier {
	return &fakeTier{records: make(map[string]*Record)}
}

func (f *fakeTier) Get(_ context.Context, fileID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[fileID]
	if !ok || rec.IsExpired() {
		return nil, ErrCacheMiss
	}
	return rec, nil
}

func (f *fakeTier) Set(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.records[rec.FileID] = rec
	return nil
}

func (f *fakeTier) Delete(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, fileID)
	return nil
}

func (f *fakeTier) DeleteAll(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.records)
	f.records = make(map[string]*Record)
	return n, nil
}

func (f *fakeTier) Stats(context.Context) (TierStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return TierStats{Available: true, TotalFiles: len(f.records)}, nil
}

func (f *fakeTier) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeTier) has(fileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[fileID]
	return ok
}

func managerAsset(id string, format asset.Format, size int) *asset.Asset {
	return &asset.Asset{
		ID:           id,
		SourceFormat: format,
		OutputFormat: format,
		Bytes:        make([]byte, size),
		ByteSize:     size,
	}
}

func TestManagerLookupFastHit(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	m.Store(ctx, managerAsset("file-1", asset.FormatWebP, 100), time.Hour)

	a, err := m.Lookup(ctx, "file-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if a.ID != "file-1" {
		t.Errorf("ID = %q", a.ID)
	}
}

func TestManagerLookupMiss(t *testing.T) {
	m := NewManager(newFakeTier(), newFakeTier(), DefaultStrategy(), zerolog.Nop())

	_, err := m.Lookup(context.Background(), "absent")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestManagerFastFailureFallsBack(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	m.Store(ctx, managerAsset("file-1", asset.FormatWebP, 100), time.Hour)
	fast.getErr = errors.New("connection refused")

	a, err := m.Lookup(ctx, "file-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if a.ID != "file-1" {
		t.Errorf("ID = %q", a.ID)
	}
}

func TestManagerDurableHitPromotes(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	// Seed the durable tier only.
	durable.Set(ctx, NewRecord(managerAsset("file-1", asset.FormatWebP, 100), time.Hour))

	if _, err := m.Lookup(ctx, "file-1"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	// Promotion runs in the background.
	deadline := time.Now().Add(time.Second)
	for !fast.has("file-1") {
		if time.Now().After(deadline) {
			t.Fatal("expected background promotion into the fast tier")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerStoreRespectsStrategy(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	// Unconverted webm: durable yes, fast no.
	m.Store(ctx, managerAsset("video-1", asset.FormatWebM, 100), time.Hour)
	if fast.has("video-1") {
		t.Error("unconverted webm must not enter the fast tier")
	}
	if !durable.has("video-1") {
		t.Error("webm must enter the durable tier")
	}

	// Payload above the fast cap: durable only.
	m.Store(ctx, managerAsset("big-1", asset.FormatWebP, 6*1024*1024), time.Hour)
	if fast.has("big-1") {
		t.Error("oversize payload must not enter the fast tier")
	}
	if !durable.has("big-1") {
		t.Error("oversize payload must enter the durable tier")
	}
}

func TestManagerStoreSwallowsTierErrors(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	fast.setErr = errors.New("connection refused")
	durable.setErr = errors.New("disk full")
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())

	// Store never panics or errors on tier failures.
	m.Store(context.Background(), managerAsset("file-1", asset.FormatWebP, 100), time.Hour)
}

func TestManagerNilFastTier(t *testing.T) {
	durable := newFakeTier()
	m := NewManager(nil, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	m.Store(ctx, managerAsset("file-1", asset.FormatWebP, 100), time.Hour)
	if _, err := m.Lookup(ctx, "file-1"); err != nil {
		t.Errorf("Lookup() error = %v", err)
	}
}

func TestManagerNilDurablePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil durable tier")
		}
	}()
	NewManager(newFakeTier(), nil, DefaultStrategy(), zerolog.Nop())
}

func TestManagerDeleteAll(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	m.Store(ctx, managerAsset("file-1", asset.FormatWebP, 100), time.Hour)
	m.Store(ctx, managerAsset("file-2", asset.FormatWebP, 100), time.Hour)

	fastDeleted, durableDeleted := m.DeleteAll(ctx)
	if fastDeleted != 2 || durableDeleted != 2 {
		t.Errorf("DeleteAll = (%d, %d), want (2, 2)", fastDeleted, durableDeleted)
	}
	if fast.len() != 0 || durable.len() != 0 {
		t.Error("tiers not empty after DeleteAll")
	}
}

func TestManagerStats(t *testing.T) {
	fast, durable := newFakeTier(), newFakeTier()
	m := NewManager(fast, durable, DefaultStrategy(), zerolog.Nop())
	ctx := context.Background()

	m.Store(ctx, managerAsset("file-1", asset.FormatWebP, 100), time.Hour)

	stats := m.Stats(ctx)
	if !stats.Fast.Available || !stats.Durable.Available {
		t.Error("expected both tiers available")
	}
	if stats.Durable.TotalFiles != 1 {
		t.Errorf("Durable.TotalFiles = %d, want 1", stats.Durable.TotalFiles)
	}
}
