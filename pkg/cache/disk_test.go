package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/pkg/asset"
)

func newTestDiskTier(t *testing.T, maxBytes int64) *DiskTier {
	t.Helper()
	tier, err := NewDiskTier(t.TempDir(), time.Hour, maxBytes, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDiskTier() error = %v", err)
	}
	return tier
}

func diskRecord(fileID string, format asset.Format, data []byte, ttl time.Duration) *Record {
	return NewRecord(&asset.Asset{
		ID:           fileID,
		SourceFormat: format,
		OutputFormat: format,
		Bytes:        data,
		ByteSize:     len(data),
	}, ttl)
}

func TestDiskTierRoundTrip(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	rec := diskRecord("file-1", asset.FormatWebP, []byte("RIFF0000WEBPVP8 "), time.Hour)
	if err := tier.Set(ctx, rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := tier.Get(ctx, "file-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.FileID != "file-1" || got.OutputFormat != asset.FormatWebP {
		t.Errorf("record = %+v", got)
	}
	if string(got.Data) != "RIFF0000WEBPVP8 " {
		t.Errorf("payload = %q", got.Data)
	}
}

func TestDiskTierConcurrentReadsOfHotKey(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	rec := diskRecord("hot", asset.FormatWebP, []byte("RIFF0000WEBPVP8 "), time.Hour)
	if err := tier.Set(ctx, rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Repeated lookups of one cached key all go through the sidecar index
	// and each advances the access time. Run under -race.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				got, err := tier.Get(ctx, "hot")
				if err != nil {
					errs[i] = err
					return
				}
				if string(got.Data) != "RIFF0000WEBPVP8 " {
					errs[i] = fmt.Errorf("payload = %q", got.Data)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("reader %d: %v", i, err)
		}
	}
}

func TestDiskTierMiss(t *testing.T) {
	tier := newTestDiskTier(t, 0)

	_, err := tier.Get(context.Background(), "absent")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestDiskTierZeroTTLNotWritten(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	if err := tier.Set(ctx, diskRecord("file-1", asset.FormatWebP, []byte("x"), 0)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := tier.Get(ctx, "file-1"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}

	stats, err := tier.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalFiles != 0 {
		t.Errorf("TotalFiles = %d, want 0", stats.TotalFiles)
	}
}

func TestDiskTierExpiredDeletedOnRead(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	rec := diskRecord("file-1", asset.FormatWebP, []byte("payload"), 30*time.Millisecond)
	if err := tier.Set(ctx, rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := tier.Get(ctx, "file-1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
	if _, err := os.Stat(tier.payloadPath("file-1", asset.FormatWebP)); !os.IsNotExist(err) {
		t.Error("expected expired payload to be removed")
	}
}

func TestDiskTierLookupOrder(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	// The same file id stored in two formats resolves to the preferred one.
	if err := tier.Set(ctx, diskRecord("file-1", asset.FormatWebM, []byte("webm-data"), time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := tier.Set(ctx, diskRecord("file-1", asset.FormatLottie, []byte(`{"v":"1"}`), time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := tier.Get(ctx, "file-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OutputFormat != asset.FormatLottie {
		t.Errorf("OutputFormat = %q, want %q", got.OutputFormat, asset.FormatLottie)
	}
}

func TestDiskTierDelete(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	tier.Set(ctx, diskRecord("file-1", asset.FormatWebP, []byte("payload"), time.Hour))
	if err := tier.Delete(ctx, "file-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := tier.Get(ctx, "file-1"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after delete, got %v", err)
	}

	// Deleting again is not an error.
	if err := tier.Delete(ctx, "file-1"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestDiskTierDeleteAll(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	for i := range 5 {
		rec := diskRecord(fmt.Sprintf("file-%d", i), asset.FormatWebP, []byte("payload"), time.Hour)
		if err := tier.Set(ctx, rec); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	deleted, err := tier.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}

	stats, _ := tier.Stats(ctx)
	if stats.TotalFiles != 0 {
		t.Errorf("TotalFiles = %d, want 0", stats.TotalFiles)
	}
}

func TestDiskTierStats(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	tier.Set(ctx, diskRecord("file-1", asset.FormatWebP, make([]byte, 100), time.Hour))
	tier.Set(ctx, diskRecord("file-2", asset.FormatPNG, make([]byte, 200), time.Hour))
	tier.Get(ctx, "file-1")
	tier.Get(ctx, "absent")

	stats, err := tier.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2", stats.TotalFiles)
	}
	if stats.TotalBytes != 300 {
		t.Errorf("TotalBytes = %d, want 300", stats.TotalBytes)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits/Misses = %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	tier.Set(ctx, diskRecord("live", asset.FormatWebP, []byte("payload"), time.Hour))
	tier.Set(ctx, diskRecord("stale", asset.FormatWebP, []byte("payload"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	sweeper := NewSweeper(tier, time.Minute, zerolog.Nop())
	expired, evicted, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
	if evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}
	if _, err := tier.Get(ctx, "live"); err != nil {
		t.Errorf("live entry gone after sweep: %v", err)
	}
}

func TestSweepEvictsLeastRecentlyUsed(t *testing.T) {
	// Cap fits two 1 KiB entries plus change; the target is 80% of cap.
	tier := newTestDiskTier(t, 2500)
	ctx := context.Background()

	old := diskRecord("old", asset.FormatWebP, make([]byte, 1024), time.Hour)
	old.LastAccessed = time.Now().Add(-time.Hour)
	mid := diskRecord("mid", asset.FormatWebP, make([]byte, 1024), time.Hour)
	mid.LastAccessed = time.Now().Add(-time.Minute)
	fresh := diskRecord("fresh", asset.FormatWebP, make([]byte, 1024), time.Hour)

	for _, rec := range []*Record{old, mid, fresh} {
		if err := tier.Set(ctx, rec); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	_, evicted, err := tier.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}

	// Only the most recently accessed entry survives.
	if _, err := tier.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh entry evicted: %v", err)
	}
	if _, err := tier.Get(ctx, "old"); !errors.Is(err, ErrCacheMiss) {
		t.Error("expected oldest entry to be evicted first")
	}
}

func TestSweepNoEvictionWithinCap(t *testing.T) {
	tier := newTestDiskTier(t, 1<<20)
	ctx := context.Background()

	tier.Set(ctx, diskRecord("file-1", asset.FormatWebP, make([]byte, 1024), time.Hour))

	_, evicted, err := tier.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}
}

func TestSweepRemovesOrphanedPayload(t *testing.T) {
	tier := newTestDiskTier(t, 0)
	ctx := context.Background()

	// A payload without its sidecar is unreadable and gets cleaned up.
	orphan := filepath.Join(tier.dir, string(asset.FormatWebP), "deadbeef.webp")
	if err := os.WriteFile(orphan, []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	expired, _, err := tier.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("expected orphan payload to be removed")
	}
}
