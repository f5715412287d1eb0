package wal

import (
	"sync"
	"time"
)

// maxBatchSize bounds how many pending commits one fsync absorbs.
const maxBatchSize = 100

// maxBatchDelay bounds how long a commit waits for siblings to join its
// batch before being flushed alone.
const maxBatchDelay = 10 * time.Millisecond

// CommitRequest is one caller's wait for its LSN to be durably synced.
type CommitRequest struct {
	LSN      LSN
	Response chan error
}

// GroupCommitter coalesces concurrent Commit calls into shared fsyncs, so a
// burst of writers pays for one disk flush instead of one each.
//
// A background goroutine drains the request channel into a batch and
// flushes it via a single WAL.Sync() when any of three conditions holds:
// the batch has reached maxBatchSize, the request channel has momentarily
// drained (nothing more is arriving right now), or the maxBatchDelay timer,
// re-armed after every flush, fires while the batch is non-empty. The middle condition
// keeps single-writer latency low without giving up batching under load.
type GroupCommitter struct {
	wal      *WAL
	requests chan *CommitRequest

	mu       sync.Mutex
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewGroupCommitter starts a GroupCommitter over wal. Callers should Stop
// it once the WAL is no longer being written to.
func NewGroupCommitter(wal *WAL) *GroupCommitter {
	gc := &GroupCommitter{
		wal:      wal,
		requests: make(chan *CommitRequest, 1000),
		stopChan: make(chan struct{}),
	}
	gc.wg.Add(1)
	go gc.run()
	return gc
}

// Commit blocks until lsn's record (and every record batched alongside it)
// has been fsynced, returning the batch's sync error if any.
func (gc *GroupCommitter) Commit(lsn LSN) error {
	gc.mu.Lock()
	stopped := gc.stopped
	gc.mu.Unlock()
	if stopped {
		return ErrCommitterStopped
	}

	req := &CommitRequest{LSN: lsn, Response: make(chan error, 1)}
	select {
	case gc.requests <- req:
	case <-gc.stopChan:
		return ErrCommitterStopped
	}
	return <-req.Response
}

func (gc *GroupCommitter) run() {
	defer gc.wg.Done()

	var batch []*CommitRequest
	timer := time.NewTimer(maxBatchDelay)
	defer timer.Stop()

	for {
		select {
		case req := <-gc.requests:
			batch = append(batch, req)
			if len(batch) >= maxBatchSize || len(gc.requests) == 0 {
				gc.flushBatch(batch)
				batch = nil
				timer.Reset(maxBatchDelay)
			}

		case <-timer.C:
			if len(batch) > 0 {
				gc.flushBatch(batch)
				batch = nil
			}
			timer.Reset(maxBatchDelay)

		case <-gc.stopChan:
			if len(batch) > 0 {
				gc.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch performs one fsync on behalf of every request in batch and
// wakes each of their callers with the shared result.
func (gc *GroupCommitter) flushBatch(batch []*CommitRequest) {
	err := gc.wal.Sync()
	for _, req := range batch {
		req.Response <- err
	}
}

// Stop drains and flushes any in-flight batch, then shuts down the
// background goroutine. Safe to call more than once.
func (gc *GroupCommitter) Stop() {
	gc.mu.Lock()
	if gc.stopped {
		gc.mu.Unlock()
		return
	}
	gc.stopped = true
	gc.mu.Unlock()

	close(gc.stopChan)
	gc.wg.Wait()
}

// ErrCommitterStopped is returned by Commit once Stop has been called.
var ErrCommitterStopped = &CommitError{msg: "group committer stopped"}

// CommitError reports a group-commit failure.
type CommitError struct {
	msg string
}

func (e *CommitError) Error() string {
	return e.msg
}
