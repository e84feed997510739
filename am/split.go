package am

import "github.com/ryogrid/stonedb/stoneerr"

// appendLeafEntryWithChain appends (key, recs) as the next key in
// ascending build order, writing its RID chain from the page end
// downward. Used both by leaf split (moving the upper half) and by
// BulkLoad (building fresh leaves from sorted input).
func appendLeafEntryWithChain(data []byte, h *leafHeader, attrLen int, key []byte, recs []RecID) {
	head := noOffset
	for i := len(recs) - 1; i >= 0; i-- {
		h.RecIdPtr -= chainNodeSize
		writeChainNode(data, h.RecIdPtr, recs[i], head)
		head = h.RecIdPtr
	}
	writeLeafEntry(data, h.NumKeys, attrLen, key, head)
	h.NumKeys++
	h.KeyPtr += int16(leafEntrySize(attrLen))
}

// splitLeaf moves the upper half of leafPage's keys (with their full
// RID chains) to a freshly allocated leaf, linked into the leaf chain
// right after the old page, and returns the separator key (the
// smallest key of the new right sibling) and the new page number.
func (m *Manager) splitLeaf(fd int, leafPage int32, meta metaHeader) ([]byte, int32, error) {
	guard, data, err := m.pf.GetThisPage(fd, leafPage)
	if err != nil {
		return nil, 0, err
	}
	h := readLeafHeader(data)
	attrLen := int(meta.AttrLength)
	mid := h.NumKeys / 2
	if mid < 1 {
		mid = 1
	}

	type movedEntry struct {
		key  []byte
		recs []RecID
	}
	upper := make([]movedEntry, 0, int(h.NumKeys)-int(mid))
	for i := mid; i < h.NumKeys; i++ {
		k := append([]byte(nil), readLeafKey(data, i, attrLen)...)
		var recs []RecID
		off := readLeafChainHead(data, i, attrLen)
		for off != noOffset {
			rec, next := readChainNode(data, off)
			recs = append(recs, rec)
			off = next
		}
		upper = append(upper, movedEntry{key: k, recs: recs})
	}
	if len(upper) == 0 {
		guard.Unfix(false)
		return nil, 0, stoneerr.New(layer, stoneerr.NoMem)
	}
	sepKey := upper[0].key
	oldNext := h.NextLeafPage

	pageSize := int(m.pf.PageSize())
	newPn, newData, err := m.pf.AllocPage(fd)
	if err != nil {
		guard.Unfix(false)
		return nil, 0, err
	}
	initLeaf(newData, pageSize, byte(attrLen), meta.MaxKeys)
	nh := readLeafHeader(newData)
	for _, me := range upper {
		appendLeafEntryWithChain(newData, &nh, attrLen, me.key, me.recs)
	}
	nh.NextLeafPage = oldNext
	writeLeafHeader(newData, nh)
	if err := m.pf.UnfixPage(fd, newPn, true); err != nil {
		return nil, 0, err
	}

	h.NumKeys = mid
	h.KeyPtr = int16(leafHeaderSize) + mid*int16(leafEntrySize(attrLen))
	h.NextLeafPage = newPn
	compactLeaf(data, &h, attrLen)
	writeLeafHeader(data, h)
	if err := guard.Unfix(true); err != nil {
		return nil, 0, err
	}

	return sepKey, newPn, nil
}

func shiftInternalEntriesRight(data []byte, from, numKeys int16, attrLen int) {
	size := internalEntrySize(attrLen)
	for i := numKeys; i > from; i-- {
		srcOff := internalEntryOffset(i-1, attrLen)
		dstOff := internalEntryOffset(i, attrLen)
		copy(data[dstOff:dstOff+size], data[srcOff:srcOff+size])
	}
}

// createNewRoot builds a fresh internal root over the old root page
// and its new sibling, and points the tree's meta page at it.
func (m *Manager) createNewRoot(fd int, meta metaHeader, sep []byte, newChildPage int32) error {
	newPn, newData, err := m.pf.AllocPage(fd)
	if err != nil {
		return err
	}
	initInternal(newData, meta.AttrLength, meta.MaxKeys, meta.RootPage)
	h := readInternalHeader(newData)
	writeInternalEntry(newData, 0, int(meta.AttrLength), sep, newChildPage)
	h.NumKeys = 1
	writeInternalHeader(newData, h)
	if err := m.pf.UnfixPage(fd, newPn, true); err != nil {
		return err
	}
	meta.RootPage = newPn
	return m.writeMeta(fd, meta)
}

// propagateSplit inserts (sep, newChildPage) into the parent recorded
// at the top of path, splitting that internal node (and recursing
// further up) if it has no room, or creating a new root if path is
// empty because the node that just split was the root.
func (m *Manager) propagateSplit(fd int, path []pathEntry, meta metaHeader, sep []byte, newChildPage int32) error {
	if len(path) == 0 {
		return m.createNewRoot(fd, meta, sep, newChildPage)
	}
	parent := path[len(path)-1]
	rest := path[:len(path)-1]
	attrLen := int(meta.AttrLength)
	entrySize := internalEntrySize(attrLen)

	guard, data, err := m.pf.GetThisPage(fd, parent.page)
	if err != nil {
		return err
	}
	h := readInternalHeader(data)
	pageSize := int(m.pf.PageSize())
	used := internalHeaderSize + 4 + int(h.NumKeys)*entrySize

	if pageSize-used >= entrySize {
		shiftInternalEntriesRight(data, parent.ordinal, h.NumKeys, attrLen)
		writeInternalEntry(data, parent.ordinal, attrLen, sep, newChildPage)
		h.NumKeys++
		writeInternalHeader(data, h)
		return guard.Unfix(true)
	}

	type ent struct {
		key   []byte
		child int32
	}
	firstChild := readInternalFirstChild(data)
	all := make([]ent, 0, h.NumKeys)
	for i := int16(0); i < h.NumKeys; i++ {
		k, c := readInternalEntry(data, i, attrLen)
		all = append(all, ent{key: append([]byte(nil), k...), child: c})
	}
	combined := make([]ent, 0, len(all)+1)
	combined = append(combined, all[:parent.ordinal]...)
	combined = append(combined, ent{key: append([]byte(nil), sep...), child: newChildPage})
	combined = append(combined, all[parent.ordinal:]...)

	n := len(combined)
	mid := n / 2
	medianKey := combined[mid].key
	medianChild := combined[mid].child

	newPn, newData, err := m.pf.AllocPage(fd)
	if err != nil {
		guard.Unfix(false)
		return err
	}
	initInternal(newData, byte(attrLen), meta.MaxKeys, medianChild)
	nh := readInternalHeader(newData)
	for i := mid + 1; i < n; i++ {
		writeInternalEntry(newData, nh.NumKeys, attrLen, combined[i].key, combined[i].child)
		nh.NumKeys++
	}
	writeInternalHeader(newData, nh)
	if err := m.pf.UnfixPage(fd, newPn, true); err != nil {
		return err
	}

	initInternal(data, byte(attrLen), meta.MaxKeys, firstChild)
	oh := readInternalHeader(data)
	for i := 0; i < mid; i++ {
		writeInternalEntry(data, oh.NumKeys, attrLen, combined[i].key, combined[i].child)
		oh.NumKeys++
	}
	writeInternalHeader(data, oh)
	if err := guard.Unfix(true); err != nil {
		return err
	}

	return m.propagateSplit(fd, rest, meta, medianKey, newPn)
}

// splitAndRetryInsert splits leafPage, propagates the split up path,
// and re-dispatches the original insert, which lands in whichever
// half's key range now covers it.
func (m *Manager) splitAndRetryInsert(fd int, path []pathEntry, meta metaHeader, leafPage int32, key []byte, recID RecID) error {
	sep, newLeafPage, err := m.splitLeaf(fd, leafPage, meta)
	if err != nil {
		return err
	}
	if err := m.propagateSplit(fd, path, meta, sep, newLeafPage); err != nil {
		return err
	}
	return m.InsertEntry(fd, key, recID)
}
