package storage

import (
	"encoding/binary"
	"sync"
)

// PageID identifies a fixed-size page within a database file. Page 0 is
// reserved for the file's meta page.
type PageID uint64

// PageSize is the fixed size of every page on disk.
const PageSize = 8192

// Page type tags, stored in the first header byte.
const (
	PageTypeInvalid = iota
	PageTypeMeta    // file-level metadata (root pointer, etc.)
	PageTypeFree    // entry in the free list
	PageTypeIndex   // B+Tree internal node
	PageTypeLeaf    // B+Tree leaf node holding key/value cells
)

// Header field byte offsets within Page.Data. Every page, regardless of
// type, starts with this fixed 30-byte header; the rest of the page is
// type-specific.
const (
	offType      = 0
	offKeyCount  = 2
	offFreeSpace = 4
	offLSN       = 6
	offNextPage  = 14
	offPrevPage  = 22

	// PageHeaderSize is the number of header bytes preceding page content.
	PageHeaderSize = 30
)

// Page is one in-memory page buffer, backed by a fixed PageSize byte array
// and guarded by its own lock so concurrent readers/writers sharing a
// single buffer-pool entry stay consistent.
type Page struct {
	ID       PageID
	Data     [PageSize]byte
	IsDirty  bool
	PinCount int32
	mu       sync.RWMutex
}

// NewPage allocates a zeroed page of the given type, with an empty header
// (no keys, free space starting right after the header).
func NewPage(id PageID, pageType byte) *Page {
	p := &Page{ID: id}
	p.SetPageType(pageType)
	p.SetKeyCount(0)
	p.SetFreeSpace(PageHeaderSize)
	return p
}

// Pin marks the page as in use by one more caller; the buffer pool must not
// evict a pinned page.
func (p *Page) Pin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PinCount++
}

// Unpin releases one pin taken by Pin.
func (p *Page) Unpin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PinCount > 0 {
		p.PinCount--
	}
}

// IsPinned reports whether any caller currently holds a pin on the page.
func (p *Page) IsPinned() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.PinCount > 0
}

// MarkDirty flags the page as modified since it was last written to disk.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IsDirty = true
}

// GetPageType returns the page's type tag.
func (p *Page) GetPageType() byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Data[offType]
}

// SetPageType overwrites the page's type tag.
func (p *Page) SetPageType(pageType byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Data[offType] = pageType
	p.IsDirty = true
}

// GetKeyCount returns how many keys/cells the page currently holds.
func (p *Page) GetKeyCount() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint16(p.Data[offKeyCount : offKeyCount+2])
}

// SetKeyCount updates the page's key/cell count.
func (p *Page) SetKeyCount(count uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint16(p.Data[offKeyCount:offKeyCount+2], count)
	p.IsDirty = true
}

// GetFreeSpace returns the byte offset where unused space in the page
// begins.
func (p *Page) GetFreeSpace() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint16(p.Data[offFreeSpace : offFreeSpace+2])
}

// SetFreeSpace updates the free-space offset.
func (p *Page) SetFreeSpace(offset uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint16(p.Data[offFreeSpace:offFreeSpace+2], offset)
	p.IsDirty = true
}

// GetLSN returns the WAL LSN of the last change applied to this page.
func (p *Page) GetLSN() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint64(p.Data[offLSN : offLSN+8])
}

// SetLSN records the WAL LSN of the change just applied to this page.
func (p *Page) SetLSN(lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.Data[offLSN:offLSN+8], lsn)
	p.IsDirty = true
}

// GetNextPage returns the sibling leaf page following this one, or 0 if
// this is the rightmost leaf.
func (p *Page) GetNextPage() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(p.Data[offNextPage : offNextPage+8]))
}

// SetNextPage sets the sibling leaf page following this one.
func (p *Page) SetNextPage(pageID PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.Data[offNextPage:offNextPage+8], uint64(pageID))
	p.IsDirty = true
}

// GetPrevPage returns the sibling leaf page preceding this one, or 0 if
// this is the leftmost leaf.
func (p *Page) GetPrevPage() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(p.Data[offPrevPage : offPrevPage+8]))
}

// SetPrevPage sets the sibling leaf page preceding this one.
func (p *Page) SetPrevPage(pageID PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.Data[offPrevPage:offPrevPage+8], uint64(pageID))
	p.IsDirty = true
}

// RemainingSpace returns how many bytes of the page are still unused.
func (p *Page) RemainingSpace() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	freeSpace := int(binary.LittleEndian.Uint16(p.Data[offFreeSpace : offFreeSpace+2]))
	return PageSize - freeSpace
}

// Copy returns an independent page with the same ID and contents, for
// callers that need to mutate a snapshot without touching the shared
// buffer-pool copy.
func (p *Page) Copy() *Page {
	p.mu.RLock()
	defer p.mu.RUnlock()

	newPage := &Page{
		ID:       p.ID,
		IsDirty:  p.IsDirty,
		PinCount: p.PinCount,
	}
	copy(newPage.Data[:], p.Data[:])
	return newPage
}
