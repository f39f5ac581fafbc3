package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mkvwatch/mkvtagd/internal/state"
)

func startTestServer(t *testing.T, statePath string) *Server {
	t.Helper()
	s := NewServer(&Config{
		Addr:      "127.0.0.1:0",
		StatePath: statePath,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestHandleHealth(t *testing.T) {
	s := startTestServer(t, filepath.Join(t.TempDir(), state.SidecarName))

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding health response failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestHandleStatus_MissingSidecar(t *testing.T) {
	s := startTestServer(t, filepath.Join(t.TempDir(), state.SidecarName))

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", s.Addr()))
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var files map[string]*state.WatchedFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		t.Fatalf("decoding status response failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("missing sidecar should serve an empty mapping, got %d entries", len(files))
	}
}

func TestHandleStatus_ServesSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("state.Open() failed: %v", err)
	}

	path := filepath.Join(dir, "movie.mkv")
	if err := store.Put(&state.WatchedFile{Path: path, State: state.StateTagged, Attempts: 1}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	s := startTestServer(t, store.Path())

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", s.Addr()))
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var files map[string]*state.WatchedFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		t.Fatalf("decoding status response failed: %v", err)
	}

	f, ok := files[path]
	if !ok {
		t.Fatal("status response missing the tagged file")
	}
	if f.State != state.StateTagged {
		t.Errorf("served state = %q, want tagged", f.State)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	s := startTestServer(t, filepath.Join(t.TempDir(), state.SidecarName))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The accept handler registers the client asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", s.ClientCount())
	}

	sent := Event{Path: "/watch/movie.mkv", State: state.StateTagged, Attempts: 1}
	s.Broadcast(sent)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading broadcast failed: %v", err)
	}

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding broadcast failed: %v", err)
	}
	if got.Path != sent.Path || got.State != sent.State {
		t.Errorf("broadcast = %+v, want path/state of %+v", got, sent)
	}
	if got.Timestamp.IsZero() {
		t.Error("broadcast missing timestamp")
	}
}
