// Package api provides interfaces for dependency injection
package api

import (
	"context"

	"github.com/coldtree/coldtree/pkg/store"
)

// IKVStore is the slice of *store.KVStore the HTTP handlers consume,
// extracted as an interface so handler tests can substitute a gomock
// double for the real store.
type IKVStore interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	ListKeys(prefix []byte) ([]string, error)
	PutRelationship(fromKey, toKey, relation string) error
	DeleteRelationship(fromKey, toKey, relation string) error
	GetRelationships(query store.RelationshipQuery) ([]store.RelationshipResult, error)
	Explain(ctx context.Context, opts store.ExplainOptions) (*store.ExplainResult, error)
	Stats() *store.StoreStats
}

// SystemInitializer defines the interface for system initialization operations
type SystemInitializer interface {
	// InitializeSystem sets up the system with the given configuration
	InitializeSystem(dataDir, systemKey, systemAPIKey string) error

	// Open initializes the system service
	Open() error

	// Close cleans up system resources
	Close() error

	// GetAPIKey retrieves an API key
	GetAPIKey(keyID string) (*APIKey, error)
}

// SystemServiceFactory creates system services
type SystemServiceFactory interface {
	// CreateSystemService creates a new system service with the given config
	CreateSystemService(dataDir, encryptionKey string, enableEncryption bool, maxRecordSize int) (SystemInitializer, error)
}

// ServerStarter defines the interface for starting the API server
type ServerStarter interface {
	// StartServer starts the API server with the given configuration
	StartServer(kvStore *store.KVStore,
		port int,
		apiKey, systemKey, dataDir, systemEncryptionKey string,
		enableEncryption bool,
	) error
}

// ServerFactory creates server instances
type ServerFactory interface {
	// CreateServerStarter creates a server starter
	CreateServerStarter() ServerStarter
}
