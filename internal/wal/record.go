package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// RecordType identifies what kind of change a Record describes.
type RecordType byte

const (
	RecordTypeInvalid RecordType = iota
	RecordTypeInsert             // new document/index-entry key set
	RecordTypeUpdate             // existing key overwritten
	RecordTypeDelete             // key removed
	RecordTypeCommit             // transaction boundary: everything before this LSN is durable
	RecordTypeAbort              // transaction boundary: everything since PrevLSN should be discarded
	RecordTypeCheckpoint
)

// LSN (Log Sequence Number) uniquely identifies a WAL record and its
// position in append order.
type LSN uint64

// Record is a single append to the write-ahead log: a key/value change
// tagged with the transaction and LSN it belongs to.
type Record struct {
	LSN       LSN
	TxnID     uint64
	Type      RecordType
	Key       []byte
	Value     []byte
	PrevLSN   LSN
	Timestamp int64
}

// RecordHeaderSize is the fixed-width header every record carries ahead of
// its key/value payload:
//
//	CRC32 (4) | LSN (8) | TxnID (8) | Type (1) | PrevLSN (8) |
//	Timestamp (8) | KeyLen (4) | ValueLen (4)  = 45 bytes
const RecordHeaderSize = 45

// Encode serializes r into its on-disk byte form, header first, with a
// CRC32 over everything but the checksum field itself.
func (r *Record) Encode() ([]byte, error) {
	keyLen, valueLen := len(r.Key), len(r.Value)
	buf := make([]byte, RecordHeaderSize+keyLen+valueLen)

	off := 4 // CRC32 filled in last
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.LSN))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], r.TxnID)
	off += 8
	buf[off] = byte(r.Type)
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.PrevLSN))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.Timestamp))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(keyLen))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(valueLen))
	off += 4
	copy(buf[off:off+keyLen], r.Key)
	off += keyLen
	copy(buf[off:off+valueLen], r.Value)

	crc := crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], crc)
	return buf, nil
}

// Decode parses a record previously produced by Encode, verifying its
// checksum and declared lengths before trusting the payload.
func Decode(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize {
		return nil, fmt.Errorf("invalid record: too short (got %d bytes, need at least %d)", len(data), RecordHeaderSize)
	}

	expectedCRC := binary.LittleEndian.Uint32(data[0:4])
	if actualCRC := crc32.ChecksumIEEE(data[4:]); expectedCRC != actualCRC {
		return nil, fmt.Errorf("invalid record: CRC mismatch (expected %d, got %d)", expectedCRC, actualCRC)
	}

	off := 4
	lsn := LSN(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	txnID := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	recordType := RecordType(data[off])
	off++
	prevLSN := LSN(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	timestamp := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	keyLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	valueLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4

	if off+keyLen+valueLen != len(data) {
		return nil, fmt.Errorf("invalid record: length mismatch")
	}

	key := make([]byte, keyLen)
	copy(key, data[off:off+keyLen])
	off += keyLen
	value := make([]byte, valueLen)
	copy(value, data[off:off+valueLen])

	return &Record{
		LSN:       lsn,
		TxnID:     txnID,
		Type:      recordType,
		Key:       key,
		Value:     value,
		PrevLSN:   prevLSN,
		Timestamp: timestamp,
	}, nil
}

// Size returns the number of bytes Encode would produce for r.
func (r *Record) Size() int {
	return RecordHeaderSize + len(r.Key) + len(r.Value)
}

func (r *Record) String() string {
	return fmt.Sprintf("Record{LSN:%d, TxnID:%d, Type:%d, KeyLen:%d, ValueLen:%d}",
		r.LSN, r.TxnID, r.Type, len(r.Key), len(r.Value))
}
