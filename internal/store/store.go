// Package store defines the persistence interfaces for model mappings and
// request logs. Backends live in subpackages; the engine only sees these
// interfaces.
package store

import (
	"context"

	"github.com/nextlevelbuilder/kirogate/internal/logbuf"
	"github.com/nextlevelbuilder/kirogate/internal/models"
)

// MappingStore persists the model resolution rule set.
type MappingStore interface {
	// ListMappings returns all rules, highest priority first.
	ListMappings(ctx context.Context) ([]models.Mapping, error)
	// ReplaceMappings swaps the full rule set atomically.
	ReplaceMappings(ctx context.Context, mappings []models.Mapping) error
}

// RequestLogStore persists completed-request records for offset pagination.
type RequestLogStore interface {
	AppendLog(ctx context.Context, rec logbuf.Record) error
	// ListLogs returns records newest-first plus the total count.
	ListLogs(ctx context.Context, offset, limit int) ([]logbuf.Record, int, error)
}

// Stores bundles the backends the engine needs.
type Stores struct {
	Mappings MappingStore
	Logs     RequestLogStore
}
