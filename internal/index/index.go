// Package index implements the secondary-index manager: stable name
// derivation, create/drop, online backfill, and the per-write delta
// maintenance the write coordinator folds into its atomic batches.
//
// Index metadata is kept in two places that must agree: a KV-persisted
// record under the collection's reserved metadata range (keyspace package),
// and an in-memory cache the Manager keeps warm, so a write never has to
// rescan the metadata range to find out which indexes it must maintain.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kartikbazzad/docengine/internal/codec"
	"github.com/kartikbazzad/docengine/internal/keyspace"
	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
	"github.com/kartikbazzad/docengine/kv"
	"github.com/kartikbazzad/docengine/logger"
)

// FieldSpec is one field of an index's key, with its sort direction.
type FieldSpec struct {
	Path string
	// Desc indexes the field in descending order. Direction only affects
	// scan order, never which documents an index can answer.
	Desc bool
}

// Spec describes the fields an index covers, in order.
type Spec struct {
	Fields []FieldSpec
}

// Options controls uniqueness, sparseness, and the index's stable name.
type Options struct {
	Name   string
	Unique bool
	Sparse bool
}

// Meta is the persisted, cached description of one created index.
type Meta struct {
	Name   string
	Spec   Spec
	Unique bool
	Sparse bool
}

// FieldKey returns the "field" component of this index's KV key, per
// keyspace.IndexEntryKey's doc comment: the literal field name for a
// single-field index, or the stable index name for a compound one.
func (m Meta) FieldKey() string {
	if len(m.Spec.Fields) == 1 {
		return m.Spec.Fields[0].Path
	}
	return m.Name
}

// LeadingPath is the field whose serialized value prefixes every entry key.
func (m Meta) LeadingPath() string {
	return m.Spec.Fields[0].Path
}

type metaRecord struct {
	Name   string `json:"name"`
	Fields []struct {
		Path string `json:"path"`
		Desc bool   `json:"desc"`
	} `json:"fields"`
	Unique bool `json:"unique"`
	Sparse bool `json:"sparse"`
}

func (m Meta) toRecord() metaRecord {
	r := metaRecord{Name: m.Name, Unique: m.Unique, Sparse: m.Sparse}
	for _, f := range m.Spec.Fields {
		r.Fields = append(r.Fields, struct {
			Path string `json:"path"`
			Desc bool   `json:"desc"`
		}{f.Path, f.Desc})
	}
	return r
}

func (r metaRecord) toMeta() Meta {
	m := Meta{Name: r.Name, Unique: r.Unique, Sparse: r.Sparse}
	for _, f := range r.Fields {
		m.Spec.Fields = append(m.Spec.Fields, FieldSpec{Path: f.Path, Desc: f.Desc})
	}
	return m
}

// DeriveName builds the conventional "field_dir" index name (e.g.
// "age_1" or "city_1_population_-1") used when Options.Name is empty.
func DeriveName(spec Spec) string {
	parts := make([]string, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		dir := "1"
		if f.Desc {
			dir = "-1"
		}
		parts = append(parts, fmt.Sprintf("%s_%s", f.Path, dir))
	}
	return strings.Join(parts, "_")
}

// Manager owns index metadata and entry maintenance for one Store.
type Manager struct {
	store kv.Store
	log   *logger.Logger

	mu    sync.RWMutex
	byCol map[string]map[string]Meta // collection -> index name -> Meta
}

// NewManager constructs a Manager over store. log may be nil.
func NewManager(store kv.Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{store: store, log: log, byCol: make(map[string]map[string]Meta)}
}

// LoadCollection populates the in-memory cache for collection from KV,
// called once when a Database first opens a Collection.
func (m *Manager) LoadCollection(ctx context.Context, collection string) error {
	start, end := keyspace.IndexMetaRange(collection)
	it, err := m.store.List(ctx, start, end)
	if err != nil {
		return fmt.Errorf("index: list metadata for %q: %w", collection, err)
	}
	defer it.Close()

	metas := make(map[string]Meta)
	for it.Next(ctx) {
		e := it.Entry()
		var rec metaRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return fmt.Errorf("index: corrupt metadata entry for %q: %w", collection, err)
		}
		meta := rec.toMeta()
		metas[meta.Name] = meta
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("index: scan metadata for %q: %w", collection, err)
	}

	m.mu.Lock()
	m.byCol[collection] = metas
	m.mu.Unlock()
	return nil
}

// List returns the indexes currently known for collection, sorted by name.
func (m *Manager) List(collection string) []Meta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metas := m.byCol[collection]
	out := make([]Meta, 0, len(metas))
	for _, meta := range metas {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named index's metadata, if known.
func (m *Manager) Get(collection, name string) (Meta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.byCol[collection][name]
	return meta, ok
}

func (m *Manager) setCached(collection string, meta Meta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byCol[collection] == nil {
		m.byCol[collection] = make(map[string]Meta)
	}
	m.byCol[collection][meta.Name] = meta
}

func (m *Manager) dropCached(collection, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byCol[collection], name)
}

// Create validates opts, persists the index's metadata, and backfills entries
// for every existing document in collection. On a uniqueness
// violation discovered during backfill, the index is not left partially
// built: its metadata and any entries written so far are removed before the
// error is returned.
func (m *Manager) Create(ctx context.Context, collection string, spec Spec, opts Options, backfillBatchSize int) (Meta, error) {
	if len(spec.Fields) == 0 {
		return Meta{}, fmt.Errorf("index: spec must name at least one field")
	}
	seen := make(map[string]bool, len(spec.Fields))
	for _, f := range spec.Fields {
		if f.Path == "" {
			return Meta{}, fmt.Errorf("index: field path must not be empty")
		}
		if seen[f.Path] {
			return Meta{}, fmt.Errorf("index: duplicate field %q in compound spec", f.Path)
		}
		seen[f.Path] = true
	}

	name := opts.Name
	if name == "" {
		name = DeriveName(spec)
	}
	if _, exists := m.Get(collection, name); exists {
		return Meta{}, fmt.Errorf("index: %q already exists on %q", name, collection)
	}

	meta := Meta{Name: name, Spec: spec, Unique: opts.Unique, Sparse: opts.Sparse}

	recBytes, err := json.Marshal(meta.toRecord())
	if err != nil {
		return Meta{}, fmt.Errorf("index: marshal metadata: %w", err)
	}
	metaKey := keyspace.IndexMetaKey(collection, name)
	if err := m.store.Set(ctx, metaKey, recBytes); err != nil {
		return Meta{}, fmt.Errorf("index: persist metadata: %w", err)
	}
	m.setCached(collection, meta)

	if err := m.backfill(ctx, collection, meta, backfillBatchSize); err != nil {
		m.dropCached(collection, name)
		_ = m.store.Delete(ctx, metaKey)
		start, end := keyspace.IndexEntryFieldRange(collection, meta.FieldKey())
		_ = m.deleteRange(ctx, start, end)
		return Meta{}, err
	}

	m.log.Info("index: created %q on %q (%d fields, unique=%v, sparse=%v)", name, collection, len(spec.Fields), opts.Unique, opts.Sparse)
	return meta, nil
}

func (m *Manager) backfill(ctx context.Context, collection string, meta Meta, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	start, end := keyspace.CollectionRange(collection)
	it, err := m.store.List(ctx, start, end)
	if err != nil {
		return fmt.Errorf("index: backfill scan: %w", err)
	}
	defer it.Close()

	processed := 0
	for it.Next(ctx) {
		e := it.Entry()
		doc, err := codec.DecodeDocument(e.Value)
		if err != nil {
			return fmt.Errorf("index: backfill decode: %w", err)
		}
		idHex, ok := docID(doc)
		if !ok {
			continue
		}
		entries, err := m.entriesForDoc(ctx, collection, meta, doc, idHex, "")
		if err != nil {
			return err
		}
		for _, op := range entries {
			if err := m.store.Set(ctx, op.Key, op.Value); err != nil {
				return fmt.Errorf("index: backfill write: %w", err)
			}
		}
		processed++
		if processed%batchSize == 0 {
			m.log.Debug("index: backfill %q on %q processed %d documents", meta.Name, collection, processed)
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("index: backfill scan: %w", err)
	}
	return nil
}

func (m *Manager) deleteRange(ctx context.Context, start, end []byte) error {
	it, err := m.store.List(ctx, start, end)
	if err != nil {
		return err
	}
	defer it.Close()
	var keys [][]byte
	for it.Next(ctx) {
		keys = append(keys, append([]byte(nil), it.Entry().Key...))
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes an index's metadata and all of its entries.
func (m *Manager) Drop(ctx context.Context, collection, name string) error {
	meta, ok := m.Get(collection, name)
	if !ok {
		return fmt.Errorf("index: %q not found on %q", name, collection)
	}
	start, end := keyspace.IndexEntryFieldRange(collection, meta.FieldKey())
	if err := m.deleteRange(ctx, start, end); err != nil {
		return fmt.Errorf("index: drop entries: %w", err)
	}
	if err := m.store.Delete(ctx, keyspace.IndexMetaKey(collection, name)); err != nil {
		return fmt.Errorf("index: drop metadata: %w", err)
	}
	m.dropCached(collection, name)
	m.log.Info("index: dropped %q on %q", name, collection)
	return nil
}

func keyForEntry(collection string, meta Meta, serialized, idHex string) []byte {
	return keyspace.IndexEntryKey(collection, meta.FieldKey(), serialized, idHex)
}

func exactRange(collection string, meta Meta, serialized string) (start, end []byte) {
	return keyspace.IndexEntryExactRange(collection, meta.FieldKey(), serialized)
}

func docKey(collection, idHex string) []byte {
	return keyspace.DocumentKey(collection, idHex)
}

func docID(doc value.Value) (string, bool) {
	res := path.Resolve(doc, "_id")
	if res.Kind != path.Single {
		return "", false
	}
	if res.Single.Kind != value.KindObjectId {
		return "", false
	}
	return res.Single.Oid.Hex(), true
}
