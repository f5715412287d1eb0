package storage

import (
	"container/list"
	"sync"

	"github.com/kartikbazzad/docengine/internal/util"
)

// BufferPool caches pages in memory to absorb repeat reads without going
// back to the Pager, using a two-segment (SLRU) eviction policy: pages
// enter on probation, and only graduate to the protected segment once
// they're fetched a second time. This survives one-pass scans much better
// than plain LRU, since a scan's pages churn through probation without
// ever evicting the working set sitting in protected.
type BufferPool struct {
	capacity     int
	protectedCap int // Capacity of protected segment (e.g., 70-80%)
	pages        map[PageID]*bufferEntry
	protected    *list.List // Protected segment (hot pages)
	probation    *list.List // Probation segment (new/cold pages)
	pager        *Pager
	mu           sync.RWMutex
}

// bufferEntry represents an entry in the buffer pool
type bufferEntry struct {
	page        *Page
	element     *list.Element
	isProtected bool // Tracks which list the element is in
}

// NewBufferPool creates a new buffer pool with the given capacity
func NewBufferPool(capacity int, pager *Pager) *BufferPool {
	// 80% protected, 20% probation is a common split
	protectedCap := int(float64(capacity) * 0.8)
	if protectedCap < 1 {
		protectedCap = 1
	}

	return &BufferPool{
		capacity:     capacity,
		protectedCap: protectedCap,
		pages:        make(map[PageID]*bufferEntry),
		protected:    list.New(),
		probation:    list.New(),
		pager:        pager,
	}
}

// FetchPage pins and returns pageID, reading it from disk through the
// Pager on a cache miss.
func (bp *BufferPool) FetchPage(pageID PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if entry, exists := bp.pages[pageID]; exists {
		entry.page.Pin()
		bp.touch(pageID, entry)
		return entry.page, nil
	}

	page, err := bp.pager.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	if err := bp.admit(pageID, page); err != nil {
		return nil, err
	}
	page.Pin()
	return page, nil
}

// touch records a cache hit on entry: a page already in the protected
// segment just moves to the front (MRU), while a page still on probation
// graduates to protected, demoting protected's current LRU page back to
// probation if that pushes the segment over its capacity.
func (bp *BufferPool) touch(pageID PageID, entry *bufferEntry) {
	if entry.isProtected {
		bp.protected.MoveToFront(entry.element)
		return
	}

	bp.probation.Remove(entry.element)
	entry.element = bp.protected.PushFront(pageID)
	entry.isProtected = true

	if bp.protected.Len() > bp.protectedCap {
		if demoteElem := bp.protected.Back(); demoteElem != nil {
			demoteID := demoteElem.Value.(PageID)
			demoteEntry := bp.pages[demoteID]
			bp.protected.Remove(demoteElem)
			demoteEntry.element = bp.probation.PushFront(demoteID)
			demoteEntry.isProtected = false
		}
	}
}

// admit evicts a page if the pool is at capacity, then inserts page on
// probation as pageID.
func (bp *BufferPool) admit(pageID PageID, page *Page) error {
	if len(bp.pages) >= bp.capacity {
		if err := bp.evictPage(); err != nil {
			return err
		}
	}
	element := bp.probation.PushFront(pageID)
	bp.pages[pageID] = &bufferEntry{page: page, element: element}
	return nil
}

// NewPage allocates a fresh page on disk and inserts it into the pool,
// pinned and marked dirty so it survives until explicitly flushed.
func (bp *BufferPool) NewPage(pageType byte) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pageID, err := bp.pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	page := NewPage(pageID, pageType)
	if err := bp.admit(pageID, page); err != nil {
		return nil, err
	}

	page.Pin()
	page.MarkDirty()
	return page, nil
}

// UnpinPage unpins a page, making it eligible for eviction
func (bp *BufferPool) UnpinPage(pageID PageID, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	entry, exists := bp.pages[pageID]
	if !exists {
		return util.ErrPageNotFound
	}

	if isDirty {
		entry.page.MarkDirty()
	}

	entry.page.Unpin()
	return nil
}

// FlushPage writes a page to disk if it's dirty
func (bp *BufferPool) FlushPage(pageID PageID) error {
	bp.mu.RLock()
	entry, exists := bp.pages[pageID]
	bp.mu.RUnlock()

	if !exists {
		return util.ErrPageNotFound
	}

	entry.page.mu.RLock()
	isDirty := entry.page.IsDirty
	entry.page.mu.RUnlock()

	if isDirty {
		return bp.pager.WritePage(entry.page)
	}

	return nil
}

// FlushAllPages writes all dirty pages to disk
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.RLock()
	pageIDs := make([]PageID, 0, len(bp.pages))
	for pageID := range bp.pages {
		pageIDs = append(pageIDs, pageID)
	}
	bp.mu.RUnlock()

	for _, pageID := range pageIDs {
		if err := bp.FlushPage(pageID); err != nil {
			return err
		}
	}

	return bp.pager.Sync()
}

// evictPage evicts one unpinned page, preferring probation's LRU end over
// protected's so that pages which have proven themselves hot are the last
// to go. Caller must hold bp.mu.
func (bp *BufferPool) evictPage() error {
	if evicted, err := bp.evictFromList(bp.probation); evicted || err != nil {
		return err
	}
	if evicted, err := bp.evictFromList(bp.protected); evicted || err != nil {
		return err
	}
	return util.ErrPageFull
}

// evictFromList scans l from its LRU end (the back) for the first unpinned
// page, flushing it if dirty and removing it from the pool.
func (bp *BufferPool) evictFromList(l *list.List) (bool, error) {
	for element := l.Back(); element != nil; element = element.Prev() {
		pageID := element.Value.(PageID)
		entry := bp.pages[pageID]
		if entry.page.IsPinned() {
			continue
		}

		entry.page.mu.RLock()
		isDirty := entry.page.IsDirty
		entry.page.mu.RUnlock()
		if isDirty {
			if err := bp.pager.WritePage(entry.page); err != nil {
				return false, err
			}
		}

		l.Remove(element)
		delete(bp.pages, pageID)
		return true, nil
	}
	return false, nil
}

// Size returns the current number of pages in the buffer pool
func (bp *BufferPool) Size() int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return len(bp.pages)
}

// Close flushes all pages and closes the buffer pool
func (bp *BufferPool) Close() error {
	if err := bp.FlushAllPages(); err != nil {
		return err
	}
	return bp.pager.Close()
}
