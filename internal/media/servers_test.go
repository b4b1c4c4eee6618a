package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestServersFetchedOnce(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ice_servers":[{"urls":["turn:turn.test:3478"],"username":"u","credential":"c"}]}`))
	}))
	defer ts.Close()

	src := NewServerSource(ts.URL, nil, nil)
	first := src.Servers(context.Background())
	second := src.Servers(context.Background())

	if hits.Load() != 1 {
		t.Errorf("credential endpoint hit %d times, want 1", hits.Load())
	}
	if len(first) != 1 || first[0].URLs[0] != "turn:turn.test:3478" || first[0].Username != "u" {
		t.Errorf("servers = %+v", first)
	}
	if len(second) != 1 {
		t.Errorf("cached set = %+v", second)
	}
}

func TestServersFallbackOnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	servers := NewServerSource(ts.URL, nil, nil).Servers(context.Background())
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("fallback = %+v, want public STUN", servers)
	}
}

func TestServersFallbackWithoutEndpoint(t *testing.T) {
	servers := NewServerSource("", nil, nil).Servers(context.Background())
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("fallback = %+v, want public STUN", servers)
	}
}
