package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// fallbackSTUN keeps calls possible when the credential endpoint is
// unreachable. STUN-only traversal may fail behind strict NATs.
var fallbackSTUN = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// ServerSource fetches STUN/TURN servers from the credential endpoint
// once per process; every call after the first returns the cached set.
type ServerSource struct {
	url    string
	client *http.Client
	logger *zap.Logger

	once    sync.Once
	servers []webrtc.ICEServer
}

// NewServerSource creates a source against the credential endpoint url.
// An empty url skips the fetch and serves the STUN fallback.
func NewServerSource(url string, client *http.Client, logger *zap.Logger) *ServerSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &ServerSource{url: url, client: client, logger: logger}
}

// Servers returns the ICE server set, fetching it on first use.
func (s *ServerSource) Servers(ctx context.Context) []webrtc.ICEServer {
	s.once.Do(func() {
		servers, err := s.fetch(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("ice credential fetch failed, using STUN fallback", zap.Error(err))
			}
			s.servers = fallbackSTUN
			return
		}
		s.servers = servers
	})
	return s.servers
}

func (s *ServerSource) fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	if s.url == "" {
		return nil, fmt.Errorf("no credential endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"ice_servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	if len(body.ICEServers) == 0 {
		return nil, fmt.Errorf("empty ice server list")
	}

	servers := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, srv := range body.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return servers, nil
}
