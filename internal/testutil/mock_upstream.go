// Package testutil provides testing doubles for the sticker cache.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// MockToken is the bearer credential the mock server accepts.
const MockToken = "12345:TEST-TOKEN"

// MockFile is one downloadable file registered on the mock server.
type MockFile struct {
	Path string
	Data []byte
}

// MockUpstream is a configurable fake of the remote bot API. It serves
// the getFile and getStickerSet envelope endpoints plus file downloads,
// and can inject throttle responses.
type MockUpstream struct {
	server *httptest.Server

	mu       sync.RWMutex
	files    map[string]MockFile // file id -> file
	sets     map[string][]string // set name -> member file ids
	handlers map[string]http.HandlerFunc

	resolveCount  int
	downloadCount int
	setCount      int
	pending429    int
}

// NewMockUpstream creates a started mock server.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		files:    make(map[string]MockFile),
		sets:     make(map[string][]string),
		handlers: make(map[string]http.HandlerFunc),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.route))
	return m
}

// URL returns the mock server base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// AddFile registers a downloadable file under a file id.
func (m *MockUpstream) AddFile(fileID, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = MockFile{Path: path, Data: data}
}

// AddSet registers a sticker set with its member file ids.
func (m *MockUpstream) AddSet(name string, fileIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[name] = fileIDs
}

// SetHandler overrides the behavior for an exact request path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// InjectRateLimit makes the next n API calls answer 429.
func (m *MockUpstream) InjectRateLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending429 = n
}

// ResolveCount returns how many getFile calls were served.
func (m *MockUpstream) ResolveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveCount
}

// DownloadCount returns how many file downloads were served.
func (m *MockUpstream) DownloadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downloadCount
}

// SetCount returns how many getStickerSet calls were served.
func (m *MockUpstream) SetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.setCount
}

func (m *MockUpstream) route(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	handler, overridden := m.handlers[r.URL.Path]
	m.mu.RUnlock()
	if overridden {
		handler(w, r)
		return
	}

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/file/bot"+MockToken+"/"):
		m.serveDownload(w, strings.TrimPrefix(path, "/file/bot"+MockToken+"/"))
	case path == "/bot"+MockToken+"/getFile":
		m.serveResolve(w, r.URL.Query().Get("file_id"))
	case path == "/bot"+MockToken+"/getStickerSet":
		m.serveSet(w, r.URL.Query().Get("name"))
	default:
		writeEnvelopeError(w, http.StatusNotFound, "Not Found")
	}
}

// throttled consumes one injected 429 if any are pending.
func (m *MockUpstream) throttled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending429 > 0 {
		m.pending429--
		return true
	}
	return false
}

func (m *MockUpstream) serveResolve(w http.ResponseWriter, fileID string) {
	m.mu.Lock()
	m.resolveCount++
	m.mu.Unlock()

	if m.throttled() {
		writeEnvelopeError(w, http.StatusTooManyRequests, "Too Many Requests: retry after 5")
		return
	}

	m.mu.RLock()
	file, ok := m.files[fileID]
	m.mu.RUnlock()
	if !ok {
		writeEnvelopeError(w, http.StatusNotFound, "Bad Request: file not found")
		return
	}

	writeEnvelopeResult(w, map[string]any{
		"file_id":   fileID,
		"file_path": file.Path,
		"file_size": len(file.Data),
	})
}

func (m *MockUpstream) serveSet(w http.ResponseWriter, name string) {
	m.mu.Lock()
	m.setCount++
	m.mu.Unlock()

	if m.throttled() {
		writeEnvelopeError(w, http.StatusTooManyRequests, "Too Many Requests: retry after 5")
		return
	}

	m.mu.RLock()
	fileIDs, ok := m.sets[name]
	m.mu.RUnlock()
	if !ok {
		writeEnvelopeError(w, http.StatusNotFound, "Bad Request: STICKERSET_INVALID")
		return
	}

	stickers := make([]map[string]any, 0, len(fileIDs))
	for _, id := range fileIDs {
		stickers = append(stickers, map[string]any{"file_id": id})
	}
	writeEnvelopeResult(w, map[string]any{"name": name, "stickers": stickers})
}

func (m *MockUpstream) serveDownload(w http.ResponseWriter, filePath string) {
	m.mu.Lock()
	m.downloadCount++
	m.mu.Unlock()

	if m.throttled() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, file := range m.files {
		if file.Path == filePath {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(file.Data)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func writeEnvelopeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeEnvelopeError(w http.ResponseWriter, code int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":          false,
		"error_code":  code,
		"description": description,
	})
}
