package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"opsagent/internal/config"
	"opsagent/internal/models"
)

const (
	// NodeChecksPath is where every agent serves its own checks.
	NodeChecksPath = "/api/node/checks"

	minRefresh     = 15 * time.Second
	requestTimeout = 10 * time.Second
)

// LocalSource provides the local agent's current check state.
type LocalSource interface {
	Snapshot() []models.MetricsEntry
}

// Service aggregates the local store with snapshots polled from peer agents.
type Service struct {
	node    Node
	local   LocalSource
	peers   []config.Peer
	refresh time.Duration
	client  *http.Client
	logger  hclog.Logger

	mu        sync.RWMutex
	peersData map[string]PeerSnapshot

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewService initialises the aggregator for a node. Disabled peers are ignored.
func NewService(node Node, local LocalSource, peers []config.Peer, refresh time.Duration, logger hclog.Logger) *Service {
	if refresh < minRefresh {
		refresh = minRefresh
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	enabled := make([]config.Peer, 0, len(peers))
	for _, peer := range peers {
		if peer.Enabled {
			enabled = append(enabled, peer)
		}
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = requestTimeout

	return &Service{
		node:      node,
		local:     local,
		peers:     enabled,
		refresh:   refresh,
		client:    client,
		logger:    logger,
		peersData: make(map[string]PeerSnapshot),
		doneCh:    make(chan struct{}),
	}
}

// Start launches background synchronisation with peers. Without peers it does nothing.
func (s *Service) Start(ctx context.Context) {
	if len(s.peers) == 0 {
		close(s.doneCh)
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop terminates background synchronisation.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.doneCh
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	s.fetchAllPeers(ctx)

	for {
		select {
		case <-ticker.C:
			s.fetchAllPeers(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) fetchAllPeers(ctx context.Context) {
	for _, peer := range s.peers {
		if err := s.fetchPeer(ctx, peer); err != nil {
			s.logger.Warn("peer fetch failed", "peer", peer.ID, "error", err)
			s.mu.Lock()
			prev := s.peersData[peer.ID]
			s.peersData[peer.ID] = PeerSnapshot{
				Node:      Node{ID: peer.ID, Name: resolveName(peer.Name, prev.Node.Name, peer.ID)},
				Checks:    prev.Checks,
				UpdatedAt: time.Now().UTC(),
				Error:     err.Error(),
				Source:    "peer",
			}
			s.mu.Unlock()
		}
	}
}

func (s *Service) fetchPeer(ctx context.Context, peer config.Peer) error {
	baseURL := strings.TrimSuffix(peer.BaseURL, "/")
	if baseURL == "" {
		return fmt.Errorf("peer %s has empty base_url", peer.ID)
	}

	resp := NodeChecksResponse{}
	if err := s.getJSON(ctx, baseURL+NodeChecksPath, peer.APIKey, &resp); err != nil {
		return fmt.Errorf("checks fetch failed: %w", err)
	}

	s.mu.Lock()
	s.peersData[peer.ID] = PeerSnapshot{
		Node:      Node{ID: peer.ID, Name: resolveName(peer.Name, resp.Node.Name, peer.ID)},
		Checks:    resp.Checks,
		UpdatedAt: time.Now().UTC(),
		Source:    "peer",
	}
	s.mu.Unlock()
	return nil
}

// Local returns the node-tagged view of the local store.
func (s *Service) Local() NodeChecksResponse {
	return NodeChecksResponse{
		Node:        s.node,
		Checks:      s.local.Snapshot(),
		GeneratedAt: time.Now().UTC(),
	}
}

// Snapshot gathers local and remote data for API responses.
func (s *Service) Snapshot() ClusterSnapshot {
	local := s.Local()
	nodes := []PeerSnapshot{{
		Node:      local.Node,
		Checks:    local.Checks,
		UpdatedAt: local.GeneratedAt,
		Source:    "local",
	}}

	s.mu.RLock()
	remote := make([]PeerSnapshot, 0, len(s.peersData))
	for _, snap := range s.peersData {
		remote = append(remote, snap)
	}
	s.mu.RUnlock()

	sort.Slice(remote, func(i, j int) bool { return remote[i].Node.ID < remote[j].Node.ID })
	nodes = append(nodes, remote...)

	return ClusterSnapshot{
		GeneratedAt: time.Now().UTC(),
		Nodes:       nodes,
	}
}

func (s *Service) getJSON(ctx context.Context, url, apiKey string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func resolveName(configured, remote, fallback string) string {
	if configured != "" {
		return configured
	}
	if remote != "" {
		return remote
	}
	return fallback
}
