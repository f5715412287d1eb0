// Package docengine implements a MongoDB-style document store layered over
// an ordered, transactional key-value substrate: a tagged-union document
// model, dotted-path resolution, a filter/update expression engine, a
// secondary-index manager, an opportunistic query planner, and a write
// coordinator that folds every document/index mutation into one
// compare-and-set atomic batch.
//
// Database is the single construction point: it owns the kv.Store, the
// index manager, and a registry of live Collections, and every document
// is an internal/value.Value tree rather than a map[string]interface{}.
package docengine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kartikbazzad/docengine/config"
	"github.com/kartikbazzad/docengine/internal/index"
	"github.com/kartikbazzad/docengine/kv"
	"github.com/kartikbazzad/docengine/kv/btreekv"
	"github.com/kartikbazzad/docengine/logger"
	"github.com/kartikbazzad/docengine/rules"
)

// Database is the central coordinator: one kv.Store, one index manager, one
// CEL rules engine, and a registry of live Collections that all reference
// this single shared construction.
type Database struct {
	cfg     config.Config
	log     *logger.Logger
	store   kv.Store
	indexes *index.Manager
	rules   *rules.Engine

	mu          sync.RWMutex
	collections map[string]*Collection

	refMu        sync.RWMutex
	referencedBy map[string][]ReferenceRule // keyed by target collection name
}

// Open opens (or creates) a database at cfg.DataDir, backed by the bundled
// B+Tree/WAL kv.Store implementation. log may be nil.
func Open(cfg config.Config, log *logger.Logger) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("docengine: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	store, err := btreekv.Open(cfg.DataDir, cfg.PageCacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("docengine: open store: %w", err)
	}
	engine, err := rules.NewEngine()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("docengine: build rules engine: %w", err)
	}
	return &Database{
		cfg:          cfg,
		log:          log,
		store:        store,
		indexes:      index.NewManager(store, log),
		rules:        engine,
		collections:  make(map[string]*Collection),
		referencedBy: make(map[string][]ReferenceRule),
	}, nil
}

// GetCollection returns the named collection, creating its in-process
// handle and warming its index-metadata cache the first time it is
// referenced. Collections need no separate
// creation step: the keyspace package's layout makes a collection simply
// the range of (name, *) keys, so the first write or index metadata load
// is what brings one into existence.
func (db *Database) GetCollection(ctx context.Context, name string) (*Collection, error) {
	if name == "" {
		return nil, newError(KindInvalidInput, "collection name must not be empty")
	}

	db.mu.RLock()
	c, ok := db.collections[name]
	db.mu.RUnlock()
	if ok {
		return c, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	if err := db.indexes.LoadCollection(ctx, name); err != nil {
		return nil, fmt.Errorf("docengine: load collection %q: %w", name, err)
	}
	c = &Collection{name: name, db: db}
	db.collections[name] = c
	return c, nil
}

// DropCollection removes every document, index entry, and index-metadata
// record belonging to name, and forgets it's in-process handle.
func (db *Database) DropCollection(ctx context.Context, name string) error {
	start, end := kv.PrefixRange([]byte(name))
	it, err := db.store.List(ctx, start, end)
	if err != nil {
		return fmt.Errorf("docengine: drop collection %q: %w", name, err)
	}
	var keys [][]byte
	for it.Next(ctx) {
		keys = append(keys, append([]byte(nil), it.Entry().Key...))
	}
	scanErr := it.Err()
	it.Close()
	if scanErr != nil {
		return fmt.Errorf("docengine: drop collection %q: %w", name, scanErr)
	}
	for _, k := range keys {
		if err := db.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("docengine: drop collection %q: %w", name, err)
		}
	}

	db.mu.Lock()
	delete(db.collections, name)
	db.mu.Unlock()
	db.setReferencesFor(name, nil)
	// Reload immediately so the manager's in-memory cache reflects the
	// now-empty metadata range rather than stale entries.
	return db.indexes.LoadCollection(ctx, name)
}

// ListCollections returns the names of every collection referenced via
// GetCollection in this process, sorted. The keyspace has no separate
// persisted registry of collection names — a collection that exists on
// disk but was never looked up this session will not appear here.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the underlying store.
func (db *Database) Close() error {
	return db.store.Close()
}

// setReferencesFor replaces collection's outgoing reference rules in the
// reverse (target -> rules) registry that delete-time on_delete handling
// consults, so a target collection can find everyone referencing it
// without scanning every collection's schema on every delete.
func (db *Database) setReferencesFor(collection string, rules []ReferenceRule) {
	db.refMu.Lock()
	defer db.refMu.Unlock()
	for target, list := range db.referencedBy {
		filtered := list[:0:0]
		for _, r := range list {
			if r.SourceCollection != collection {
				filtered = append(filtered, r)
			}
		}
		db.referencedBy[target] = filtered
	}
	for _, r := range rules {
		db.referencedBy[r.TargetCollection] = append(db.referencedBy[r.TargetCollection], r)
	}
}

// dependentsOf returns every reference rule whose target is collection.
func (db *Database) dependentsOf(collection string) []ReferenceRule {
	db.refMu.RLock()
	defer db.refMu.RUnlock()
	out := make([]ReferenceRule, len(db.referencedBy[collection]))
	copy(out, db.referencedBy[collection])
	return out
}
