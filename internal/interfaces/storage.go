package interfaces

import "apiremote/internal/types"

// EventStore defines the interface for the detailed-entry index
type EventStore interface {
	// Store saves a single detailed entry
	Store(entry *types.DetailedEntry) error

	// StoreBatch saves several entries in one transaction
	StoreBatch(entries []*types.DetailedEntry) error

	// Search retrieves entries matching the query, newest first
	Search(query types.EventQuery) ([]*types.DetailedEntry, error)

	// Count returns the number of indexed entries
	Count() (int64, error)

	// Close closes the storage connection
	Close() error
}
