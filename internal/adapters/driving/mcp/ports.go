package mcp

import (
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server needs.
type Ports struct {
	// Retrieval answers knowledge queries.
	Retrieval driving.RetrievalService

	// Sync reports index drift. Optional.
	Sync driving.IndexSyncService

	// UserID is the identity queries run as. MCP sessions carry no token,
	// so the operator supplies it when starting the server.
	UserID string
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Retrieval == nil {
		return ErrMissingRetrievalService
	}
	return nil
}
