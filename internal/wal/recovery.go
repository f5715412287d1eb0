package wal

import (
	"fmt"

	"github.com/kartikbazzad/docengine/internal/util"
)

// Recovery replays a WAL after an unclean shutdown, reconstructing the set
// of data records safe to re-apply.
type Recovery struct {
	wal *WAL
}

// NewRecovery builds a Recovery over wal.
func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// Recover returns every data record belonging to a transaction that
// reached RecordTypeCommit, in the order they were appended. Records from
// aborted or still-open transactions are dropped.
func (r *Recovery) Recover() ([]*Record, error) {
	records, err := r.wal.ReadAllRecords()
	if err != nil {
		return nil, fmt.Errorf("recovery failed: %w", err)
	}
	return r.filterValidRecords(records), nil
}

// filterValidRecords classifies every transaction as committed or not by
// scanning for its terminal marker, then keeps only the data records whose
// transaction committed.
func (r *Recovery) filterValidRecords(records []*Record) []*Record {
	committed := make(map[uint64]bool)
	for _, rec := range records {
		switch rec.Type {
		case RecordTypeCommit:
			committed[rec.TxnID] = true
		case RecordTypeAbort:
			committed[rec.TxnID] = false
		}
	}

	var valid []*Record
	for _, rec := range records {
		if rec.Type == RecordTypeCommit || rec.Type == RecordTypeAbort {
			continue
		}
		if committed[rec.TxnID] {
			valid = append(valid, rec)
		}
	}
	return valid
}

// RecoverToLSN is Recover bounded to records at or below targetLSN, for
// point-in-time recovery.
func (r *Recovery) RecoverToLSN(targetLSN LSN) ([]*Record, error) {
	all, err := r.Recover()
	if err != nil {
		return nil, err
	}
	var records []*Record
	for _, rec := range all {
		if rec.LSN <= targetLSN {
			records = append(records, rec)
		}
	}
	return records, nil
}

// VerifyIntegrity checks that every record's LSN is strictly greater than
// the one before it, catching truncation or reordering on disk.
func (r *Recovery) VerifyIntegrity() error {
	records, err := r.wal.ReadAllRecords()
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrWALCorrupt, err)
	}

	var prevLSN LSN
	for i, rec := range records {
		if rec.LSN <= prevLSN {
			return fmt.Errorf("%w: LSN not monotonic at record %d (prev=%d, current=%d)",
				util.ErrWALCorrupt, i, prevLSN, rec.LSN)
		}
		prevLSN = rec.LSN
	}
	return nil
}

// GetLastCommittedLSN returns the highest LSN among RecordTypeCommit
// markers in the log.
func (r *Recovery) GetLastCommittedLSN() (LSN, error) {
	records, err := r.wal.ReadAllRecords()
	if err != nil {
		return 0, err
	}
	var lastLSN LSN
	for _, rec := range records {
		if rec.Type == RecordTypeCommit && rec.LSN > lastLSN {
			lastLSN = rec.LSN
		}
	}
	return lastLSN, nil
}
