// Package wal implements the write-ahead log docengine's btreekv.Store uses
// for durability: every document write, index-entry update, and metadata
// change is appended here, synchronously batched to disk, before the
// corresponding B+Tree mutation is considered committed. A crash mid-write
// leaves the log as the single source of truth recovery replays from.
//
// Components:
//   - WAL: the coordinator that owns the active segment and assigns LSNs.
//   - Segment: one on-disk log file, rotated once it fills.
//   - Record: one log entry (header plus key/value payload).
//   - GroupCommitter: batches concurrent callers' fsyncs into one syscall.
package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default WAL buffer size (256KB).
const DefaultBufferSize = 256 * 1024

// WAL is the write-ahead log for one btreekv.Store: a sequence of segments
// and the monotonic LSN counter every appended record is stamped with.
type WAL struct {
	dir            string
	currentSegment *Segment
	currentLSN     atomic.Uint64
	nextSegmentID  SegmentID
	buffer         *bufio.Writer
	bufferSize     int
	mu             sync.RWMutex
}

// NewWAL opens (creating if necessary) a write-ahead log rooted at dir.
func NewWAL(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	segment, err := NewSegment(dir, 0, LSN(1))
	if err != nil {
		return nil, err
	}

	w := &WAL{
		dir:            dir,
		currentSegment: segment,
		nextSegmentID:  1,
		bufferSize:     DefaultBufferSize,
	}
	w.currentLSN.Store(1)
	return w, nil
}

// Append assigns record the next LSN, rotating to a fresh segment first if
// the current one is full, and writes it.
func (w *WAL) Append(record *Record) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(record)
}

// AppendBatch appends every record in records under a single lock hold,
// returning the LSN of the last one written.
func (w *WAL) AppendBatch(records []*Record) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lastLSN LSN
	for _, record := range records {
		lsn, err := w.writeLocked(record)
		if err != nil {
			return 0, err
		}
		lastLSN = lsn
	}
	return lastLSN, nil
}

// writeLocked assigns the next LSN to record and writes it to the current
// segment, rotating first if that segment has filled up. Callers must hold
// w.mu.
func (w *WAL) writeLocked(record *Record) (LSN, error) {
	lsn := LSN(w.currentLSN.Add(1))
	record.LSN = lsn

	if w.currentSegment.IsFull() {
		if err := w.rotateSegment(); err != nil {
			return 0, err
		}
	}
	if err := w.currentSegment.Write(record); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Sync forces the current segment's buffered writes to stable storage.
func (w *WAL) Sync() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentSegment.Sync()
}

// rotateSegment closes the current segment and opens a fresh one for
// subsequent appends.
func (w *WAL) rotateSegment() error {
	if err := w.currentSegment.Close(); err != nil {
		return err
	}
	nextLSN := LSN(w.currentLSN.Load() + 1)
	newSegment, err := NewSegment(w.dir, w.nextSegmentID, nextLSN)
	if err != nil {
		return err
	}
	w.currentSegment = newSegment
	w.nextSegmentID++
	return nil
}

// GetCurrentLSN returns the most recently assigned LSN.
func (w *WAL) GetCurrentLSN() LSN {
	return LSN(w.currentLSN.Load())
}

// ReadAllRecords reads and concatenates every record across every segment
// on disk, in segment order. Used by recovery and by tests that need to
// inspect what was actually persisted.
func (w *WAL) ReadAllRecords() ([]*Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(w.dir, "wal-*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}

	var allRecords []*Record
	for _, file := range files {
		var segID uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "wal-%016x.log", &segID); err != nil {
			continue // not a segment file; skip
		}

		segment, err := OpenSegment(w.dir, SegmentID(segID))
		if err != nil {
			return nil, err
		}
		records, err := segment.ReadRecords()
		segment.Close()
		if err != nil {
			return nil, err
		}
		allRecords = append(allRecords, records...)
	}
	return allRecords, nil
}

// Truncate is reserved for future log compaction (dropping segments wholly
// below upToLSN); it currently performs no work beyond validating segment
// names, since no caller in this engine needs log compaction yet.
func (w *WAL) Truncate(upToLSN LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(w.dir, "wal-*.log"))
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}

	for _, file := range files {
		var segID uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "wal-%016x.log", &segID); err != nil {
			continue
		}
		if SegmentID(segID) == w.currentSegment.ID {
			continue
		}
		segment, err := OpenSegment(w.dir, SegmentID(segID))
		if err != nil {
			continue
		}
		segment.Close()
	}
	return nil
}

// Close closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment != nil {
		return w.currentSegment.Close()
	}
	return nil
}

// RecordExists reports whether lsn has been assigned to some appended
// record.
func (w *WAL) RecordExists(lsn LSN) bool {
	return lsn <= w.GetCurrentLSN() && lsn > 0
}
