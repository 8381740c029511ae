package upstream

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/internal/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockUpstream) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:         mock.URL(),
		DownloadBaseURL: mock.URL() + "/file/bot",
		Token:           testutil.MockToken,
		MaxPayloadBytes: 1 << 20,
	}, NewStatistics(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{BaseURL: "http://x"}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewClient(ClientConfig{Token: "t"}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for missing base URL")
	}
}

func TestClientResolve(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddFile("file-1", "stickers/file_1.webp", []byte("RIFF0000WEBPVP8 "))

	client := newTestClient(t, mock)
	loc, err := client.Resolve(context.Background(), "file-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if loc.Path != "stickers/file_1.webp" {
		t.Errorf("Path = %q", loc.Path)
	}
	if loc.Size != 16 {
		t.Errorf("Size = %d, want 16", loc.Size)
	}
	if mock.ResolveCount() != 1 {
		t.Errorf("ResolveCount = %d, want 1", mock.ResolveCount())
	}
}

func TestClientResolveNotFound(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	client := newTestClient(t, mock)
	_, err := client.Resolve(context.Background(), "missing")
	if KindOf(err) != KindNotFound {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindNotFound)
	}
}

func TestClientResolveRateLimited(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddFile("file-1", "stickers/file_1.webp", []byte("data"))
	mock.InjectRateLimit(1)

	client := newTestClient(t, mock)
	_, err := client.Resolve(context.Background(), "file-1")
	if !IsRateLimited(err) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}

	snap := client.Stats().Snapshot()
	if snap.RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", snap.RateLimited)
	}
}

func TestClientDownload(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	payload := []byte("RIFF0000WEBPVP8 sticker-bytes")
	mock.AddFile("file-1", "stickers/file_1.webp", payload)

	client := newTestClient(t, mock)
	data, err := client.Download(context.Background(), Location{Path: "stickers/file_1.webp", Size: int64(len(payload))})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("payload mismatch: %q", data)
	}

	snap := client.Stats().Snapshot()
	if snap.BytesDownloaded != uint64(len(payload)) {
		t.Errorf("BytesDownloaded = %d, want %d", snap.BytesDownloaded, len(payload))
	}
}

func TestClientDownloadDeclaredTooLarge(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	client := newTestClient(t, mock)
	_, err := client.Download(context.Background(), Location{Path: "stickers/huge.webm", Size: 2 << 20})
	if KindOf(err) != KindFileTooLarge {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindFileTooLarge)
	}

	// Rejected on the declared size, before any request went out.
	if mock.DownloadCount() != 0 {
		t.Errorf("DownloadCount = %d, want 0", mock.DownloadCount())
	}
}

func TestClientDownloadObservedTooLarge(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddFile("file-1", "stickers/file_1.webp", make([]byte, 2048))

	client, err := NewClient(ClientConfig{
		BaseURL:         mock.URL(),
		DownloadBaseURL: mock.URL() + "/file/bot",
		Token:           testutil.MockToken,
		MaxPayloadBytes: 1024,
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	// Declared size of zero skips the pre-check; the response checks
	// catch the oversize payload.
	_, err = client.Download(context.Background(), Location{Path: "stickers/file_1.webp"})
	if KindOf(err) != KindFileTooLarge {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindFileTooLarge)
	}
}

func TestClientStickerSet(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddSet("AnimalPack", []string{"file-1", "file-2", "file-3"})

	client := newTestClient(t, mock)
	set, err := client.StickerSet(context.Background(), "AnimalPack")
	if err != nil {
		t.Fatalf("StickerSet() error = %v", err)
	}
	if set.Name != "AnimalPack" {
		t.Errorf("Name = %q", set.Name)
	}
	if len(set.FileIDs) != 3 {
		t.Errorf("FileIDs = %v", set.FileIDs)
	}
}

func TestClientRedactsToken(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	client := newTestClient(t, mock)
	in := "https://api/bot" + testutil.MockToken + "/getFile"
	out := client.redact(in)
	if strings.Contains(out, testutil.MockToken) {
		t.Errorf("token leaked: %q", out)
	}
	if !strings.Contains(out, "****") {
		t.Errorf("expected redaction marker, got %q", out)
	}
}
