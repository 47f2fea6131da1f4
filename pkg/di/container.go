// Package di provides dependency injection container
package di

import (
	"path/filepath"

	"github.com/coldtree/coldtree/pkg/alloc"
	"github.com/coldtree/coldtree/pkg/api" //nolint:depguard
	"github.com/coldtree/coldtree/pkg/btree"
	"github.com/coldtree/coldtree/pkg/journal"
	"github.com/coldtree/coldtree/pkg/nodecache"
)

// Container holds all the dependencies for the application
type Container struct {
	systemServiceFactory api.SystemServiceFactory
	serverFactory        api.ServerFactory

	btreeAlloc   *alloc.Allocator
	btreeJournal *journal.Journal
	filesystem   *btree.Filesystem
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		systemServiceFactory: api.NewSystemServiceFactory(),
		serverFactory:        api.NewServerFactory(),
	}
}

// BtreeConfig describes where the update engine's collaborators persist
// their state, and how large the in-memory node cache may grow.
type BtreeConfig struct {
	DataDir       string
	Devices       []alloc.Device
	NodeCacheSize int
}

// BuildFilesystem opens the node cache, sector allocator, and journal
// collaborators under cfg.DataDir and wires them into a *btree.Filesystem
// (the engine takes this context object instead of reaching for package
// globals). The container owns the
// opened collaborators and closes them from Close.
func (c *Container) BuildFilesystem(cfg BtreeConfig) (*btree.Filesystem, error) {
	cache := nodecache.New(cfg.NodeCacheSize)

	a, err := alloc.Open(filepath.Join(cfg.DataDir, "btree-alloc"), cfg.Devices)
	if err != nil {
		return nil, err
	}

	journalPath := filepath.Join(cfg.DataDir, "btree.journal")
	j, err := journal.Open(journal.Config{Path: journalPath})
	if err != nil {
		a.Close()
		return nil, err
	}

	c.btreeAlloc = a
	c.btreeJournal = j
	c.filesystem = btree.NewFilesystem(cache, a, j)

	// Replay the log a mounting filesystem left behind so the Root
	// Registry reflects the last durable root snapshot rather than
	// starting empty. Every entry
	// carries a complete snapshot, so replaying in order and re-applying
	// each one converges on the last entry regardless of where the log
	// actually ends.
	if err := journal.Replay(journalPath, func(entry btree.JournalEntry) error {
		c.filesystem.RecoverEntry(entry)
		return nil
	}); err != nil {
		j.Close()
		a.Close()
		return nil, err
	}

	return c.filesystem, nil
}

// Filesystem returns the engine context built by BuildFilesystem, or nil
// if it hasn't been built yet.
func (c *Container) Filesystem() *btree.Filesystem {
	return c.filesystem
}

// Close releases the btree collaborators' underlying resources (pebble
// handles, the journal's file and advisory lock). Safe to call even if
// BuildFilesystem was never called.
func (c *Container) Close() error {
	var firstErr error
	if c.btreeJournal != nil {
		if err := c.btreeJournal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.btreeAlloc != nil {
		if err := c.btreeAlloc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetSystemServiceFactory returns the system service factory
func (c *Container) GetSystemServiceFactory() api.SystemServiceFactory {
	return c.systemServiceFactory
}

// GetServerFactory returns the server factory
func (c *Container) GetServerFactory() api.ServerFactory {
	return c.serverFactory
}

// SetSystemServiceFactory allows overriding the system service factory (for testing)
func (c *Container) SetSystemServiceFactory(factory api.SystemServiceFactory) {
	c.systemServiceFactory = factory
}
