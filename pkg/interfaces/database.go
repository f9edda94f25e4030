package interfaces

import (
	"context"

	"queryflow/pkg/types"
)

// CatalogProvider supplies the predefined queries and their result sets.
type CatalogProvider interface {
	// LoadQueries returns the predefined queries ordered by ID.
	LoadQueries(ctx context.Context) ([]types.QueryRecord, error)

	HealthCheck(ctx context.Context) error

	Close() error
}
