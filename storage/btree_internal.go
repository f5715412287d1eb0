package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kartikbazzad/docengine/internal/util"
)

// Internal node layout, following the shared page header:
//
//	LeftPtr (8 bytes, P0) | (KeyLen, Key, ValLen=8, ChildPageID) * KeyCount
//
// Entry i's key is the separator between child i (or LeftPtr for i==0) and
// child i+1: keys less than entry 0's key route to LeftPtr, keys in
// [entry[i].Key, entry[i+1].Key) route to entry[i]'s child.
const InternalHeaderSize = PageHeaderSize + 8

// getLeftPtr returns P0, the child pointer for keys less than every
// separator key on the page.
func (t *BPlusTree) getLeftPtr(page *Page) PageID {
	page.mu.RLock()
	defer page.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(page.Data[PageHeaderSize : PageHeaderSize+8]))
}

// setLeftPtr overwrites P0.
func (t *BPlusTree) setLeftPtr(page *Page, ptr PageID) {
	page.mu.Lock()
	defer page.mu.Unlock()
	binary.LittleEndian.PutUint64(page.Data[PageHeaderSize:PageHeaderSize+8], uint64(ptr))
	page.IsDirty = true
}

// getInternalEntries decodes every (separator key, child page ID) pair
// stored on an internal page, in on-page order (which is key order).
func (t *BPlusTree) getInternalEntries(page *Page) []Entry {
	var entries []Entry

	page.mu.RLock()
	defer page.mu.RUnlock()

	keyCount := int(binary.LittleEndian.Uint16(page.Data[offKeyCount : offKeyCount+2]))
	if keyCount == 0 {
		return entries
	}

	offset := InternalHeaderSize
	for i := 0; i < keyCount && offset < PageSize-8; i++ {
		if offset+2 > PageSize {
			break
		}
		keyLen := int(binary.LittleEndian.Uint16(page.Data[offset : offset+2]))
		offset += 2

		if offset+keyLen > PageSize {
			break
		}
		key := make([]byte, keyLen)
		copy(key, page.Data[offset:offset+keyLen])
		offset += keyLen

		// Child pointers are always 8-byte PageIDs, but stored with the
		// same (len-prefixed) encoding as leaf values for symmetry.
		if offset+2 > PageSize {
			break
		}
		valLen := int(binary.LittleEndian.Uint16(page.Data[offset : offset+2]))
		offset += 2

		if offset+valLen > PageSize {
			break
		}
		value := make([]byte, valLen)
		copy(value, page.Data[offset:offset+valLen])
		offset += valLen

		entries = append(entries, Entry{Key: key, Value: value})
	}

	return entries
}

// writeInternalEntries rewrites an internal page's leftPtr and entries in
// full, discarding whatever was there before.
func (t *BPlusTree) writeInternalEntries(page *Page, leftPtr PageID, entries []Entry) error {
	page.mu.Lock()
	defer page.mu.Unlock()

	binary.LittleEndian.PutUint64(page.Data[PageHeaderSize:PageHeaderSize+8], uint64(leftPtr))

	for i := InternalHeaderSize; i < PageSize; i++ {
		page.Data[i] = 0
	}

	offset := InternalHeaderSize
	for i, entry := range entries {
		needed := 2 + len(entry.Key) + 2 + len(entry.Value)
		if offset+needed > PageSize {
			return fmt.Errorf("%w: cannot fit internal entry %d", util.ErrPageFull, i)
		}

		binary.LittleEndian.PutUint16(page.Data[offset:offset+2], uint16(len(entry.Key)))
		offset += 2
		copy(page.Data[offset:offset+len(entry.Key)], entry.Key)
		offset += len(entry.Key)

		binary.LittleEndian.PutUint16(page.Data[offset:offset+2], uint16(len(entry.Value)))
		offset += 2
		copy(page.Data[offset:offset+len(entry.Value)], entry.Value)
		offset += len(entry.Value)
	}

	binary.LittleEndian.PutUint16(page.Data[offKeyCount:offKeyCount+2], uint16(len(entries)))
	binary.LittleEndian.PutUint16(page.Data[offFreeSpace:offFreeSpace+2], uint16(offset))
	page.IsDirty = true

	return nil
}

// searchInternal returns the child page ID a lookup for key should
// descend into.
func (t *BPlusTree) searchInternal(page *Page, key []byte) (PageID, error) {
	currPtr := t.getLeftPtr(page)
	for _, entry := range t.getInternalEntries(page) {
		if bytes.Compare(key, entry.Key) < 0 {
			return currPtr, nil
		}
		if len(entry.Value) != 8 {
			return 0, fmt.Errorf("invalid internal node value length")
		}
		currPtr = PageID(binary.LittleEndian.Uint64(entry.Value))
	}
	return currPtr, nil
}

// actualSplitInternal splits an overfull internal page in two, returning
// the key promoted to the parent and the new right sibling's page ID. The
// median entry's child pointer becomes the left pointer of the new right
// page, since that child covers keys starting at the promoted key.
func (t *BPlusTree) actualSplitInternal(page *Page, leftPtr PageID, entries []Entry) ([]byte, PageID, error) {
	newPage, err := t.bp.NewPage(PageTypeIndex)
	if err != nil {
		return nil, 0, err
	}
	defer t.bp.UnpinPage(newPage.ID, true)

	mid := len(entries) / 2
	promoteEntry := entries[mid]
	promoteKey := promoteEntry.Key
	rightLeftPtr := PageID(binary.LittleEndian.Uint64(promoteEntry.Value))

	leftEntries := entries[:mid]
	rightEntries := entries[mid+1:]

	if err := t.writeInternalEntries(page, leftPtr, leftEntries); err != nil {
		return nil, 0, err
	}
	if err := t.writeInternalEntries(newPage, rightLeftPtr, rightEntries); err != nil {
		return nil, 0, err
	}

	return promoteKey, newPage.ID, nil
}
