package am

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ryogrid/stonedb/pf"
	"github.com/ryogrid/stonedb/stoneconfig"
	"github.com/ryogrid/stonedb/stoneerr"
)

const layer = "am"

// Manager is the B+-tree layer's Engine-facing handle.
type Manager struct {
	pf    *pf.Manager
	log   *logrus.Entry
	scans []*scanCursor
}

// NewManager builds an am.Manager over an already-constructed pf
// layer, per the "typed managers, not singletons" composition. The
// scan table is sized from cfg.MaxScans.
func NewManager(pfm *pf.Manager, cfg stoneconfig.Config) *Manager {
	return &Manager{
		pf:    pfm,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		scans: make([]*scanCursor, cfg.MaxScans),
	}
}

// CreateFile creates a fresh index file named "<relation>.<indexNo>"
// (the caller supplies the already-joined name) holding a single empty
// leaf root.
func (m *Manager) CreateFile(name string, attrType AttrType, attrLength byte) error {
	if attrLength < 1 || attrLength > 255 {
		return stoneerr.New(layer, stoneerr.InvalidAttrLength)
	}
	if (attrType == Int32 || attrType == Float) && attrLength != 4 {
		return stoneerr.New(layer, stoneerr.InvalidAttrLength)
	}
	if attrType != Int32 && attrType != Float && attrType != Chars {
		return stoneerr.New(layer, stoneerr.InvalidAttrType)
	}
	if err := m.pf.CreateFile(name); err != nil {
		return err
	}
	return m.initFile(name, attrType, attrLength)
}

// CreateMemoryFile is CreateFile's memory-backed-Manager counterpart.
func (m *Manager) CreateMemoryFile(name string, attrType AttrType, attrLength byte) error {
	if attrLength < 1 || attrLength > 255 {
		return stoneerr.New(layer, stoneerr.InvalidAttrLength)
	}
	if err := m.pf.CreateMemoryFile(name); err != nil {
		return err
	}
	return m.initFile(name, attrType, attrLength)
}

func (m *Manager) initFile(name string, attrType AttrType, attrLength byte) error {
	fd, err := m.pf.OpenFile(name)
	if err != nil {
		return err
	}
	defer m.pf.CloseFile(fd)

	pageSize := int(m.pf.PageSize())
	maxKeys := maxKeysFor(pageSize, int(attrLength))

	metaPn, metaData, err := m.pf.AllocPage(fd)
	if err != nil {
		return err
	}
	if metaPn != metaPage {
		return stoneerr.New(layer, stoneerr.InvalidPage)
	}

	leafPn, leafData, err := m.pf.AllocPage(fd)
	if err != nil {
		return err
	}
	initLeaf(leafData, pageSize, attrLength, maxKeys)
	if err := m.pf.UnfixPage(fd, leafPn, true); err != nil {
		return err
	}

	writeMetaHeader(metaData, metaHeader{
		RootPage:     leafPn,
		LeftmostLeaf: leafPn,
		AttrType:     attrType,
		AttrLength:   attrLength,
		MaxKeys:      maxKeys,
	})
	return m.pf.UnfixPage(fd, metaPn, true)
}

// OpenFile opens the index's underlying PF file.
func (m *Manager) OpenFile(name string) (int, error) { return m.pf.OpenFile(name) }

// CloseFile closes the index's underlying PF file.
func (m *Manager) CloseFile(fd int) error { return m.pf.CloseFile(fd) }

// DestroyFile removes the index.
func (m *Manager) DestroyFile(name string) error { return m.pf.DestroyFile(name) }

func (m *Manager) readMeta(fd int) (metaHeader, error) {
	guard, data, err := m.pf.GetThisPage(fd, metaPage)
	if err != nil {
		return metaHeader{}, err
	}
	defer guard.Unfix(false)
	return readMetaHeader(data), nil
}

func (m *Manager) writeMeta(fd int, h metaHeader) error {
	guard, data, err := m.pf.GetThisPage(fd, metaPage)
	if err != nil {
		return err
	}
	writeMetaHeader(data, h)
	return guard.Unfix(true)
}

// Height reports the number of internal levels above the leaves (0 for
// a single-leaf tree).
func (m *Manager) Height(fd int) (int, error) {
	meta, err := m.readMeta(fd)
	if err != nil {
		return 0, err
	}
	height := 0
	cur := meta.RootPage
	for {
		guard, data, err := m.pf.GetThisPage(fd, cur)
		if err != nil {
			return 0, err
		}
		tag := pageTag(data)
		var child int32
		if tag == internalTag {
			child = readInternalFirstChild(data)
		}
		guard.Unfix(false)
		if tag == leafTag {
			return height, nil
		}
		height++
		cur = child
	}
}

// LeafCount walks the leaf chain and counts pages in it.
func (m *Manager) LeafCount(fd int) (int, error) {
	meta, err := m.readMeta(fd)
	if err != nil {
		return 0, err
	}
	count := 0
	cur := meta.LeftmostLeaf
	for cur != noLink {
		guard, data, err := m.pf.GetThisPage(fd, cur)
		if err != nil {
			return 0, err
		}
		h := readLeafHeader(data)
		guard.Unfix(false)
		count++
		cur = h.NextLeafPage
	}
	return count, nil
}

// pathEntry records an internal page visited while descending, and
// the ordinal (0 = first child, i+1 = entries[i].child) of the child
// that was followed, so a split below can insert the new separator at
// the right position without re-searching.
type pathEntry struct {
	page    int32
	ordinal int16
}

func leafSearch(data []byte, t AttrType, attrLen int, key []byte) (idx int16, found bool) {
	h := readLeafHeader(data)
	n := int(h.NumKeys)
	i := sort.Search(n, func(i int) bool {
		return Compare(t, attrLen, readLeafKey(data, int16(i), attrLen), key) >= 0
	})
	idx = int16(i)
	found = i < n && Compare(t, attrLen, readLeafKey(data, int16(i), attrLen), key) == 0
	return
}

func internalSearch(data []byte, t AttrType, attrLen int, key []byte) (ordinal int16, child int32) {
	h := readInternalHeader(data)
	n := int(h.NumKeys)
	i := sort.Search(n, func(i int) bool {
		k, _ := readInternalEntry(data, int16(i), attrLen)
		return Compare(t, attrLen, k, key) > 0
	})
	if i == 0 {
		return 0, readInternalFirstChild(data)
	}
	_, c := readInternalEntry(data, int16(i-1), attrLen)
	return int16(i), c
}

// searchPath descends from the root to the leaf covering key, pushing
// (page, ordinal) for every internal page left behind and unpinning it
// before following the child, per spec's path-stack discipline.
func (m *Manager) searchPath(fd int, key []byte) ([]pathEntry, metaHeader, int32, int16, bool, error) {
	meta, err := m.readMeta(fd)
	if err != nil {
		return nil, meta, 0, 0, false, err
	}
	var path []pathEntry
	cur := meta.RootPage
	attrLen := int(meta.AttrLength)
	for {
		guard, data, err := m.pf.GetThisPage(fd, cur)
		if err != nil {
			return nil, meta, 0, 0, false, err
		}
		if pageTag(data) == leafTag {
			idx, found := leafSearch(data, meta.AttrType, attrLen, key)
			guard.Unfix(false)
			return path, meta, cur, idx, found, nil
		}
		ordinal, child := internalSearch(data, meta.AttrType, attrLen, key)
		guard.Unfix(false)
		path = append(path, pathEntry{page: cur, ordinal: ordinal})
		cur = child
	}
}

// Search returns the leaf page and in-leaf index covering key, and
// whether key is present there.
func (m *Manager) Search(fd int, key []byte) (int32, int16, bool, error) {
	_, _, leafPage, idx, found, err := m.searchPath(fd, key)
	return leafPage, idx, found, err
}

func shiftLeafEntriesRight(data []byte, from, numKeys int16, attrLen int) {
	size := leafEntrySize(attrLen)
	for i := numKeys; i > from; i-- {
		srcOff := leafEntryOffset(i-1, attrLen)
		dstOff := leafEntryOffset(i, attrLen)
		copy(data[dstOff:dstOff+size], data[srcOff:srcOff+size])
	}
}

func shiftLeafEntriesLeft(data []byte, from, numKeys int16, attrLen int) {
	size := leafEntrySize(attrLen)
	for i := from; i < numKeys-1; i++ {
		srcOff := leafEntryOffset(i+1, attrLen)
		dstOff := leafEntryOffset(i, attrLen)
		copy(data[dstOff:dstOff+size], data[srcOff:srcOff+size])
	}
}

// compactLeaf rebuilds the RID-chain region from scratch, squeezing
// out every freed node, by reading each key's chain into memory first
// (so rewriting the page afterward never overlaps un-read data).
func compactLeaf(data []byte, h *leafHeader, attrLen int) {
	chains := make([][]RecID, h.NumKeys)
	total := 0
	for i := int16(0); i < h.NumKeys; i++ {
		off := readLeafChainHead(data, i, attrLen)
		var recs []RecID
		for off != noOffset {
			rec, next := readChainNode(data, off)
			recs = append(recs, rec)
			off = next
		}
		chains[i] = recs
		total += len(recs)
	}
	start := int16(len(data)) - int16(total)*chainNodeSize
	cursor := start
	for i := int16(0); i < h.NumKeys; i++ {
		recs := chains[i]
		if len(recs) == 0 {
			writeLeafChainHead(data, i, attrLen, noOffset)
			continue
		}
		head := cursor
		for j := 0; j < len(recs); j++ {
			off := cursor + int16(j)*chainNodeSize
			next := noOffset
			if j+1 < len(recs) {
				next = cursor + int16(j+1)*chainNodeSize
			}
			writeChainNode(data, off, recs[j], next)
		}
		writeLeafChainHead(data, i, attrLen, head)
		cursor += int16(len(recs)) * chainNodeSize
	}
	h.RecIdPtr = start
	h.FreeListPtr = noOffset
	h.NumInFreeList = 0
}

// InsertEntry inserts (key, recID) into the index, chaining under an
// existing key or creating a new one, splitting as needed.
func (m *Manager) InsertEntry(fd int, key []byte, recID RecID) error {
	path, meta, leafPage, idx, found, err := m.searchPath(fd, key)
	if err != nil {
		return err
	}
	attrLen := int(meta.AttrLength)

	guard, data, err := m.pf.GetThisPage(fd, leafPage)
	if err != nil {
		return err
	}
	h := readLeafHeader(data)

	if found {
		if leafFreeGap(h) < chainNodeSize && h.FreeListPtr == noOffset {
			if h.NumInFreeList > 0 {
				compactLeaf(data, &h, attrLen)
			}
			if leafFreeGap(h) < chainNodeSize {
				guard.Unfix(false)
				return m.splitAndRetryInsert(fd, path, meta, leafPage, key, recID)
			}
		}
		var off int16
		if h.FreeListPtr != noOffset {
			off = h.FreeListPtr
			_, next := readChainNode(data, off)
			h.FreeListPtr = next
			h.NumInFreeList--
		} else {
			h.RecIdPtr -= chainNodeSize
			off = h.RecIdPtr
		}
		oldHead := readLeafChainHead(data, idx, attrLen)
		writeChainNode(data, off, recID, oldHead)
		writeLeafChainHead(data, idx, attrLen, off)
		writeLeafHeader(data, h)
		return guard.Unfix(true)
	}

	need := leafEntrySize(attrLen) + chainNodeSize
	if leafFreeGap(h) < need {
		if h.NumInFreeList > 0 {
			compactLeaf(data, &h, attrLen)
		}
		if leafFreeGap(h) < need {
			guard.Unfix(false)
			return m.splitAndRetryInsert(fd, path, meta, leafPage, key, recID)
		}
	}

	shiftLeafEntriesRight(data, idx, h.NumKeys, attrLen)
	h.RecIdPtr -= chainNodeSize
	off := h.RecIdPtr
	writeChainNode(data, off, recID, noOffset)
	writeLeafEntry(data, idx, attrLen, key, off)
	h.NumKeys++
	h.KeyPtr += int16(leafEntrySize(attrLen))
	writeLeafHeader(data, h)
	return guard.Unfix(true)
}

// DeleteEntry unlinks recID from key's chain, removing the key entirely
// if its chain becomes empty. Returns NotFound if key isn't present.
func (m *Manager) DeleteEntry(fd int, key []byte, recID RecID) error {
	_, meta, leafPage, idx, found, err := m.searchPath(fd, key)
	if err != nil {
		return err
	}
	if !found {
		return stoneerr.New(layer, stoneerr.NotFound)
	}
	attrLen := int(meta.AttrLength)

	guard, data, err := m.pf.GetThisPage(fd, leafPage)
	if err != nil {
		return err
	}
	h := readLeafHeader(data)

	head := readLeafChainHead(data, idx, attrLen)
	prevOff := noOffset
	cur := head
	foundNode := false
	for cur != noOffset {
		rec, next := readChainNode(data, cur)
		if rec == recID {
			foundNode = true
			if prevOff == noOffset {
				head = next
			} else {
				pRec, _ := readChainNode(data, prevOff)
				writeChainNode(data, prevOff, pRec, next)
			}
			writeChainNode(data, cur, rec, h.FreeListPtr)
			h.FreeListPtr = cur
			h.NumInFreeList++
			break
		}
		prevOff = cur
		cur = next
	}
	if !foundNode {
		guard.Unfix(false)
		return stoneerr.New(layer, stoneerr.NotFound)
	}

	if head == noOffset {
		shiftLeafEntriesLeft(data, idx, h.NumKeys, attrLen)
		h.NumKeys--
		h.KeyPtr -= int16(leafEntrySize(attrLen))
	} else {
		writeLeafChainHead(data, idx, attrLen, head)
	}
	writeLeafHeader(data, h)
	return guard.Unfix(true)
}
