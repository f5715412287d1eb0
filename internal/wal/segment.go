package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/docengine/internal/util"
)

// SegmentID names one WAL segment file, encoded into its filename.
type SegmentID uint64

// DefaultSegmentSize is the size a segment rotates at (64MB).
const DefaultSegmentSize = 64 * 1024 * 1024

// maxRecordLen guards ReadRecords against treating a corrupt length field
// as an enormous allocation request.
const maxRecordLen = 10 * 1024 * 1024

// Segment is one append-only log file on disk, holding records with LSNs
// in [startLSN, endLSN].
type Segment struct {
	ID       SegmentID
	file     *os.File
	size     int64
	maxSize  int64
	startLSN LSN
	endLSN   LSN
	mu       sync.RWMutex
}

func segmentPath(dir string, id SegmentID) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%016x.log", id))
}

// NewSegment creates the on-disk file for a fresh segment, starting at
// startLSN.
func NewSegment(dir string, id SegmentID, startLSN LSN) (*Segment, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	return &Segment{
		ID:       id,
		file:     file,
		size:     info.Size(),
		maxSize:  DefaultSegmentSize,
		startLSN: startLSN,
		endLSN:   startLSN,
	}, nil
}

// OpenSegment reopens a previously written segment file for reading and
// further appends.
func OpenSegment(dir string, id SegmentID) (*Segment, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	return &Segment{
		ID:      id,
		file:    file,
		size:    info.Size(),
		maxSize: DefaultSegmentSize,
	}, nil
}

// Write appends record to the segment as a 4-byte little-endian length
// prefix followed by its encoded bytes.
func (s *Segment) Write(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := record.Encode()
	if err != nil {
		return err
	}

	lenBuf := []byte{
		byte(len(data)), byte(len(data) >> 8),
		byte(len(data) >> 16), byte(len(data) >> 24),
	}
	if _, err := s.file.Write(lenBuf); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	s.size += int64(4 + len(data))
	s.endLSN = record.LSN
	return nil
}

// Sync flushes the segment's writes to stable storage.
func (s *Segment) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return nil
}

// IsFull reports whether the segment has reached DefaultSegmentSize.
func (s *Segment) IsFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size >= s.maxSize
}

// Size returns the segment's current on-disk size in bytes.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close syncs and closes the segment's underlying file.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// ReadRecords reads every length-prefixed record in the segment from the
// start of the file, decoding and checksum-verifying each one.
func (s *Segment) ReadRecords() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	var records []*Record
	lenBuf := make([]byte, 4)
	for {
		n, err := s.file.Read(lenBuf)
		if err != nil || n == 0 {
			break
		}
		if n != 4 {
			return nil, fmt.Errorf("%w: incomplete length header", util.ErrWALCorrupt)
		}

		recordLen := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
		if recordLen == 0 || recordLen > maxRecordLen {
			return nil, fmt.Errorf("%w: invalid record length %d", util.ErrWALCorrupt, recordLen)
		}

		data := make([]byte, recordLen)
		n, err = s.file.Read(data)
		if err != nil || n != recordLen {
			return nil, fmt.Errorf("%w: incomplete record data", util.ErrWALCorrupt)
		}

		record, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrWALCorrupt, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// GetPath returns the segment file's path on disk.
func (s *Segment) GetPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}
