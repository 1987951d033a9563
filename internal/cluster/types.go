package cluster

import (
	"time"

	"opsagent/internal/models"
)

// Node describes an agent instance.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NodeChecksResponse is served by /api/node/checks and consumed from peers.
type NodeChecksResponse struct {
	Node        Node                  `json:"node"`
	Checks      []models.MetricsEntry `json:"checks"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// PeerSnapshot stores last known data for a node.
type PeerSnapshot struct {
	Node      Node                  `json:"node"`
	Checks    []models.MetricsEntry `json:"checks"`
	UpdatedAt time.Time             `json:"updated_at"`
	Error     string                `json:"error,omitempty"`
	Source    string                `json:"source"`
}

// ClusterSnapshot is returned by /api/cluster.
type ClusterSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Nodes       []PeerSnapshot `json:"nodes"`
}
