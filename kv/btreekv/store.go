// Package btreekv is the one concrete implementation of kv.Store this repo
// ships: a page-oriented B+Tree storage engine (storage package) driven as
// a raw []byte-key/[]byte-value ordered store, backed by a write-ahead log
// for durability and mvcc's Timestamp for versionstamps.
package btreekv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/docengine/internal/util"
	"github.com/kartikbazzad/docengine/internal/wal"
	"github.com/kartikbazzad/docengine/kv"
	"github.com/kartikbazzad/docengine/logger"
	"github.com/kartikbazzad/docengine/mvcc"
	"github.com/kartikbazzad/docengine/storage"
)

const metaPageID = storage.PageID(0)

// Store adapts the BPlusTree/Pager/BufferPool/WAL stack into kv.Store.
// Every stored value is prefixed with an 8-byte big-endian
// version so Get can report kv.Version without a separate side index.
// Every WAL append commits through a GroupCommitter, batching concurrent
// fsyncs into one disk flush.
type Store struct {
	mu sync.Mutex

	pager  *storage.Pager
	bp     *storage.BufferPool
	tree   *storage.BPlusTree
	wal    *wal.WAL
	gc     *wal.GroupCommitter
	vm     *mvcc.VersionManager
	log    *logger.Logger
	closed bool
}

// Open opens or creates a btreekv store rooted at dir.
func Open(dir string, pageCacheSize int, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	pager, err := storage.NewPager(filepath.Join(dir, "data.db"))
	if err != nil {
		return nil, fmt.Errorf("btreekv: open pager: %w", err)
	}

	bp := storage.NewBufferPool(pageCacheSize, pager)

	tree, err := openOrCreateTree(bp)
	if err != nil {
		pager.Close()
		return nil, err
	}

	w, err := wal.NewWAL(filepath.Join(dir, "wal"))
	if err != nil {
		pager.Close()
		return nil, fmt.Errorf("btreekv: open wal: %w", err)
	}

	s := &Store{
		pager: pager,
		bp:    bp,
		tree:  tree,
		wal:   w,
		gc:    wal.NewGroupCommitter(w),
		vm:    mvcc.NewVersionManager(),
		log:   log,
	}

	if err := s.replay(); err != nil {
		return nil, fmt.Errorf("btreekv: replay: %w", err)
	}

	tree.SetOnRootChange(func(newRoot storage.PageID) {
		if err := s.persistRoot(newRoot); err != nil {
			log.Error("btreekv: persist root failed: %v", err)
		}
	})

	return s, nil
}

func openOrCreateTree(bp *storage.BufferPool) (*storage.BPlusTree, error) {
	metaPage, err := bp.FetchPage(metaPageID)
	if err == nil {
		if metaPage.GetPageType() == storage.PageTypeMeta {
			rootID := storage.PageID(binary.LittleEndian.Uint64(metaPage.Data[storage.PageHeaderSize:]))
			bp.UnpinPage(metaPageID, false)
			return storage.LoadBPlusTree(bp, rootID)
		}
		bp.UnpinPage(metaPageID, false)
	}

	// Fresh database: page 0 becomes the meta page, page 1+ the tree root.
	meta, err := bp.NewPage(storage.PageTypeMeta)
	if err != nil {
		return nil, fmt.Errorf("btreekv: allocate meta page: %w", err)
	}
	tree, err := storage.NewBPlusTree(bp)
	if err != nil {
		bp.UnpinPage(meta.ID, false)
		return nil, fmt.Errorf("btreekv: create tree: %w", err)
	}
	binary.LittleEndian.PutUint64(meta.Data[storage.PageHeaderSize:], uint64(tree.GetRootID()))
	meta.MarkDirty()
	if err := bp.UnpinPage(meta.ID, true); err != nil {
		return nil, err
	}
	if err := bp.FlushPage(meta.ID); err != nil {
		return nil, err
	}
	return tree, nil
}

func (s *Store) persistRoot(rootID storage.PageID) error {
	meta, err := s.bp.FetchPage(metaPageID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(meta.Data[storage.PageHeaderSize:], uint64(rootID))
	meta.MarkDirty()
	if err := s.bp.UnpinPage(metaPageID, true); err != nil {
		return err
	}
	return s.bp.FlushPage(metaPageID)
}

// replay applies committed WAL records the tree may not yet reflect.
// Insert/Update/Delete replay is idempotent: re-inserting an existing key
// overwrites it, and deleting an absent key is a no-op.
func (s *Store) replay() error {
	recovery := wal.NewRecovery(s.wal)
	records, err := recovery.Recover()
	if err != nil {
		return err
	}
	for _, rec := range records {
		switch rec.Type {
		case wal.RecordTypeInsert, wal.RecordTypeUpdate:
			if err := s.tree.Insert(rec.Key, rec.Value); err != nil {
				return err
			}
		case wal.RecordTypeDelete:
			if err := s.tree.Delete(rec.Key); err != nil && !errors.Is(err, util.ErrDocumentNotFound) {
				return err
			}
		}
	}
	if len(records) > 0 {
		s.log.Info("btreekv: replayed %d WAL records", len(records))
	}
	return nil
}

// packValue prefixes payload with an 8-byte big-endian version.
func packValue(version kv.Version, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(out[:8], uint64(version))
	copy(out[8:], payload)
	return out
}

func unpackValue(stored []byte) (kv.Version, []byte) {
	if len(stored) < 8 {
		return 0, stored
	}
	return kv.Version(binary.BigEndian.Uint64(stored[:8])), stored[8:]
}

func (s *Store) nextVersion() kv.Version {
	return kv.Version(s.vm.NewTimestamp())
}

// Get implements kv.Store.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, kv.Version, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.tree.Search(key)
	if err != nil {
		if errors.Is(err, util.ErrDocumentNotFound) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	version, payload := unpackValue(raw)
	return payload, version, true, nil
}

// Set implements kv.Store.
func (s *Store) Set(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, value)
}

func (s *Store) setLocked(key, value []byte) error {
	version := s.nextVersion()
	if err := s.appendWAL(wal.RecordTypeUpdate, key, value); err != nil {
		return err
	}
	return s.tree.Insert(key, packValue(version, value))
}

// Delete implements kv.Store.
func (s *Store) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

func (s *Store) deleteLocked(key []byte) error {
	if err := s.appendWAL(wal.RecordTypeDelete, key, nil); err != nil {
		return err
	}
	if err := s.tree.Delete(key); err != nil && !errors.Is(err, util.ErrDocumentNotFound) {
		return err
	}
	return nil
}

// appendWAL appends a record and waits for it to be durably fsynced,
// batched with any other concurrent appends through the shared group
// committer rather than fsyncing once per call.
func (s *Store) appendWAL(t wal.RecordType, key, value []byte) error {
	lsn, err := s.wal.Append(&wal.Record{Type: t, Key: key, Value: value})
	if err != nil {
		return err
	}
	return s.gc.Commit(lsn)
}

// List implements kv.Store, returning an ordered iterator over [start, end).
func (s *Store) List(_ context.Context, start, end []byte) (kv.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rangeEnd := end
	if rangeEnd == nil {
		rangeEnd = bytes.Repeat([]byte{0xFF}, 256)
	}

	entries, err := s.tree.RangeScan(start, rangeEnd)
	if err != nil {
		return nil, err
	}

	out := make([]kv.Entry, 0, len(entries))
	for _, e := range entries {
		if end != nil && bytes.Compare(e.Key, end) >= 0 {
			continue
		}
		version, payload := unpackValue(e.Value)
		out = append(out, kv.Entry{Key: e.Key, Value: payload, Version: version})
	}
	return &sliceIterator{entries: out, idx: -1}, nil
}

// Atomic implements kv.Store: all checks must hold, else no op applies.
func (s *Store) Atomic(_ context.Context, batch kv.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range batch.Checks {
		raw, err := s.tree.Search(c.Key)
		exists := true
		if err != nil {
			if errors.Is(err, util.ErrDocumentNotFound) {
				exists = false
			} else {
				return err
			}
		}
		if c.ExpectAbsent {
			if exists {
				return kv.ErrVersionMismatch
			}
			continue
		}
		if !exists {
			return kv.ErrVersionMismatch
		}
		version, _ := unpackValue(raw)
		if version != c.ExpectVersion {
			return kv.ErrVersionMismatch
		}
	}

	for _, op := range batch.Ops {
		switch op.Type {
		case kv.OpSet:
			if err := s.setLocked(op.Key, op.Value); err != nil {
				return err
			}
		case kv.OpDelete:
			if err := s.deleteLocked(op.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and releases all underlying resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.bp.FlushAllPages(); err != nil {
		return err
	}
	s.gc.Stop()
	if err := s.wal.Close(); err != nil {
		return err
	}
	return s.pager.Close()
}

type sliceIterator struct {
	entries []kv.Entry
	idx     int
}

func (it *sliceIterator) Next(context.Context) bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *sliceIterator) Entry() kv.Entry {
	return it.entries[it.idx]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
