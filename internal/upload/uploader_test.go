package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// uploadServer is a minimal resumable upload endpoint for tests.
type uploadServer struct {
	mu     sync.Mutex
	chunks map[string][]byte
	fail   bool // reject the next chunk once
}

func (s *uploadServer) handler() http.Handler {
	// Hand-rolled routing for /uploads/{id} and /uploads/{id}/complete:
	// method-pattern ServeMux routes and r.PathValue need go1.22+.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest, ok := strings.CutPrefix(r.URL.Path, "/uploads/")
		if !ok || rest == "" {
			http.NotFound(w, r)
			return
		}
		switch {
		case r.Method == http.MethodGet && !strings.Contains(rest, "/"):
			s.mu.Lock()
			defer s.mu.Unlock()
			data, ok := s.chunks[rest]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{"offset":%d}`, len(data))
		case r.Method == http.MethodPut && !strings.Contains(rest, "/"):
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.fail {
				s.fail = false
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			body, _ := io.ReadAll(r.Body)
			s.chunks[rest] = append(s.chunks[rest], body...)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/complete"):
			id := strings.TrimSuffix(rest, "/complete")
			if id == "" || strings.Contains(id, "/") {
				http.NotFound(w, r)
				return
			}
			fmt.Fprintf(w, `{"url":"https://cdn.test/%s"}`, id)
		default:
			http.NotFound(w, r)
		}
	})
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "media.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadReportsProgress(t *testing.T) {
	srv := &uploadServer{chunks: map[string][]byte{}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	u := New(ts.URL, nil, nil)
	u.chunkSize = 1024
	path := writeTempFile(t, 2500)

	var calls []int64
	url, err := u.Upload(context.Background(), path, "u-1", func(sent, total int64) {
		if total != 2500 {
			t.Errorf("total = %d, want 2500", total)
		}
		calls = append(calls, sent)
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url == "" {
		t.Error("empty media url")
	}
	want := []int64{1024, 2048, 2500}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, calls[i], want[i])
		}
	}
}

func TestUploadFailureSurfaces(t *testing.T) {
	srv := &uploadServer{chunks: map[string][]byte{}, fail: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	u := New(ts.URL, nil, nil)
	u.chunkSize = 1024

	_, err := u.Upload(context.Background(), writeTempFile(t, 2048), "u-1", nil)
	if err == nil {
		t.Fatal("expected error from failed chunk")
	}
}

func TestResumeSkipsUploadedBytes(t *testing.T) {
	srv := &uploadServer{chunks: map[string][]byte{}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	u := New(ts.URL, nil, nil)
	u.chunkSize = 1000
	path := writeTempFile(t, 3000)

	// Simulate a previous attempt that got the first chunk through.
	srv.mu.Lock()
	srv.chunks["resume-1"] = make([]byte, 1000)
	srv.mu.Unlock()

	var first int64
	_, err := u.Upload(context.Background(), path, "resume-1", func(sent, _ int64) {
		if first == 0 {
			first = sent
		}
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if first != 2000 {
		t.Errorf("first progress after resume = %d, want 2000", first)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.chunks["resume-1"]) != 3000 {
		t.Errorf("server holds %d bytes, want 3000", len(srv.chunks["resume-1"]))
	}
}

func TestUploadMissingFile(t *testing.T) {
	u := New("http://unused", nil, nil)
	_, err := u.Upload(context.Background(), "/nonexistent/file.bin", "u-1", nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
