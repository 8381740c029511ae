package stickerset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/pkg/asset"
	"github.com/snapstix/sticker-cache/pkg/service"
	"github.com/snapstix/sticker-cache/pkg/upstream"
)

type fakeResolver struct {
	sets map[string][]string
}

func (r *fakeResolver) StickerSet(_ context.Context, name string) (*upstream.Set, error) {
	ids, ok := r.sets[name]
	if !ok {
		return nil, &upstream.Error{Kind: upstream.KindNotFound, StatusCode: 404, Description: "set not found"}
	}
	return &upstream.Set{Name: name, FileIDs: ids}, nil
}

type fakeGetter struct {
	mu      sync.Mutex
	calls   int
	failing map[string]bool
}

func (g *fakeGetter) Get(_ context.Context, fileID string) (*asset.Asset, service.Meta, error) {
	g.mu.Lock()
	g.calls++
	fail := g.failing[fileID]
	g.mu.Unlock()

	if fail {
		return nil, service.Meta{}, errors.New("member fetch failed")
	}
	return &asset.Asset{ID: fileID, OutputFormat: asset.FormatWebP, ByteSize: 10}, service.Meta{}, nil
}

func memberIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("member-%d", i)
	}
	return ids
}

func TestFetchWholeSet(t *testing.T) {
	resolver := &fakeResolver{sets: map[string][]string{"AnimalPack": memberIDs(12)}}
	getter := &fakeGetter{}
	f := NewFetcher(resolver, getter, Config{MaxConcurrency: 3}, zerolog.Nop())

	result, err := f.Fetch(context.Background(), "AnimalPack")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Total != 12 {
		t.Errorf("Total = %d, want 12", result.Total)
	}
	if len(result.Fetched) != 12 {
		t.Errorf("Fetched = %d, want 12", len(result.Fetched))
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %v, want empty", result.Failed)
	}
	if getter.calls != 12 {
		t.Errorf("getter calls = %d, want 12", getter.calls)
	}
}

func TestFetchPartialFailure(t *testing.T) {
	resolver := &fakeResolver{sets: map[string][]string{"AnimalPack": memberIDs(6)}}
	getter := &fakeGetter{failing: map[string]bool{"member-2": true, "member-4": true}}
	f := NewFetcher(resolver, getter, Config{MaxConcurrency: 2}, zerolog.Nop())

	result, err := f.Fetch(context.Background(), "AnimalPack")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.Fetched) != 4 {
		t.Errorf("Fetched = %d, want 4", len(result.Fetched))
	}
	if len(result.Failed) != 2 {
		t.Errorf("Failed = %d entries, want 2", len(result.Failed))
	}
	if _, ok := result.Failed["member-2"]; !ok {
		t.Error("expected member-2 in Failed")
	}
}

func TestFetchUnknownSet(t *testing.T) {
	f := NewFetcher(&fakeResolver{sets: map[string][]string{}}, &fakeGetter{}, Config{}, zerolog.Nop())

	_, err := f.Fetch(context.Background(), "NoSuchSet")
	if err == nil {
		t.Fatal("expected error for unknown set")
	}
	if upstream.KindOf(err) != upstream.KindNotFound {
		t.Errorf("error kind = %q, want %q", upstream.KindOf(err), upstream.KindNotFound)
	}
}

func TestFetchEmptySet(t *testing.T) {
	resolver := &fakeResolver{sets: map[string][]string{"Empty": {}}}
	f := NewFetcher(resolver, &fakeGetter{}, Config{}, zerolog.Nop())

	result, err := f.Fetch(context.Background(), "Empty")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Total != 0 || len(result.Fetched) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
