// Package mvcc supplies the versionstamp authority behind the kv package's
// optimistic-concurrency writes. The document store's atomic batches are
// single-shot compare-and-set operations, not long-lived snapshot
// transactions, so this package only keeps the two things that model
// survives from MVCC: a monotonic Timestamp source for versionstamps, and
// version-chain helpers for point-in-time history. kv/btreekv uses only the
// Timestamp source; nothing in the module builds version chains.
package mvcc

import (
	"sync/atomic"
	"time"
)

// Timestamp represents a unique, monotonically increasing point in time.
type Timestamp uint64

// Version represents a single historical state of a record.
// Versions are linked in a reverse-chronological chain (newest first).
type Version struct {
	Timestamp Timestamp // Creation time of this version
	Data      []byte    // The actual data content
	TxnID     uint64    // ID of the transaction that created this version
	Next      *Version  // Pointer to the previous (older) version
}

// VersionManager manages timestamps and version chains
type VersionManager struct {
	currentTimestamp atomic.Uint64
}

// NewVersionManager creates a new version manager
func NewVersionManager() *VersionManager {
	vm := &VersionManager{}
	// Initialize with current Unix nanosecond timestamp
	vm.currentTimestamp.Store(uint64(time.Now().UnixNano()))
	return vm
}

// NewTimestamp generates a new unique timestamp
func (vm *VersionManager) NewTimestamp() Timestamp {
	// Atomically increment and return
	ts := vm.currentTimestamp.Add(1)
	return Timestamp(ts)
}

// GetCurrentTimestamp returns the current timestamp without incrementing
func (vm *VersionManager) GetCurrentTimestamp() Timestamp {
	return Timestamp(vm.currentTimestamp.Load())
}

// CreateVersion creates a new version with the given data
func (vm *VersionManager) CreateVersion(data []byte, txnID uint64) *Version {
	return &Version{
		Timestamp: vm.NewTimestamp(),
		Data:      data,
		TxnID:     txnID,
		Next:      nil,
	}
}

// AddVersion adds a new version to the front of a version chain
func (vm *VersionManager) AddVersion(head *Version, newVersion *Version) *Version {
	newVersion.Next = head
	return newVersion
}

// FindVersion returns the most recent version with Timestamp <= asOf, or nil
// if every version in the chain postdates asOf.
func FindVersion(head *Version, asOf Timestamp) *Version {
	current := head

	for current != nil {
		if current.Timestamp <= asOf {
			return current
		}
		current = current.Next
	}

	return nil
}

// GarbageCollect drops versions older than the given cutoff timestamp,
// keeping the head regardless of its age.
func GarbageCollect(head *Version, cutoff Timestamp) *Version {
	if head == nil {
		return nil
	}

	current := head

	for current.Next != nil {
		if current.Next.Timestamp < cutoff {
			current.Next = current.Next.Next
		} else {
			current = current.Next
		}
	}

	return head
}

// CountVersions counts the number of versions in a version chain
func CountVersions(head *Version) int {
	count := 0
	current := head
	for current != nil {
		count++
		current = current.Next
	}
	return count
}

// CopyData creates a deep copy of version data
func CopyData(data []byte) []byte {
	if data == nil {
		return nil
	}
	copy := make([]byte, len(data))
	for i, b := range data {
		copy[i] = b
	}
	return copy
}
