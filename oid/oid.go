// Package oid implements the 12-byte object identifier used as the primary
// key for every document: a 4-byte creation timestamp (seconds since epoch,
// big-endian), a 5-byte random component, and a 3-byte big-endian counter
// that lets IDs generated within the same second still sort monotonically.
package oid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Size is the byte length of an ObjectId.
const Size = 12

// ObjectId is an opaque 12-byte identifier with lexicographic byte ordering,
// an embedded creation timestamp, and equality by bytewise comparison.
type ObjectId [Size]byte

var (
	counter       uint32
	processRandom [5]byte
)

func init() {
	// Seed the counter from uuid-sourced entropy rather than math/rand so
	// two processes started in the same second still diverge.
	seed := uuid.New()
	counter = binary.BigEndian.Uint32(seed[:4]) & 0x00FFFFFF

	if _, err := rand.Read(processRandom[:]); err != nil {
		// crypto/rand failing is fatal-grade, but ObjectId generation must
		// not panic a caller; fall back to uuid entropy.
		u := uuid.New()
		copy(processRandom[:], u[:5])
	}
}

// New generates a fresh ObjectId using the current time, process-random
// bytes sourced via crypto/rand, and a monotonic counter.
func New() ObjectId {
	var id ObjectId

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))

	copy(id[4:9], processRandom[:])

	c := atomic.AddUint32(&counter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// ErrInvalidLength is returned when decoding bytes of the wrong length.
var ErrInvalidLength = errors.New("oid: invalid byte length")

// FromBytes copies a 12-byte slice into an ObjectId.
func FromBytes(b []byte) (ObjectId, error) {
	var id ObjectId
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d want %d", ErrInvalidLength, len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// FromHex parses the 24-character hex form produced by Hex.
func FromHex(s string) (ObjectId, error) {
	var id ObjectId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("oid: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// Bytes returns the raw 12 bytes.
func (id ObjectId) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// Hex returns the canonical 24-character hex encoding, used as the
// serialized-value form for index entries and as the primary-key component
// of a document's KV key.
func (id ObjectId) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ObjectId) String() string {
	return id.Hex()
}

// IsZero reports whether id is the zero value (never produced by New).
func (id ObjectId) IsZero() bool {
	return id == ObjectId{}
}

// Timestamp returns the embedded creation time.
func (id ObjectId) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

// Compare returns -1, 0, or 1 comparing the raw bytes of id and other,
// matching the host KV's lexicographic byte ordering.
func (id ObjectId) Compare(other ObjectId) int {
	for i := 0; i < Size; i++ {
		if id[i] < other[i] {
			return -1
		}
		if id[i] > other[i] {
			return 1
		}
	}
	return 0
}

// Equal reports bytewise equality.
func (id ObjectId) Equal(other ObjectId) bool {
	return id == other
}
