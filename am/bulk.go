package am

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/ryogrid/stonedb/stoneerr"
)

// BulkEntry is one (key, RecID) pair fed to BulkLoad, which requires
// the stream to already be sorted ascending by key.
type BulkEntry struct {
	Key []byte
	Rec RecID
}

// BulkLoad builds a fresh index file from a key-sorted stream, filling
// leaves sequentially and internal levels bottom-up, rather than one
// InsertEntry at a time. A disk-backed build is staged under a
// UUID-suffixed temp name and renamed into place on success, so a
// crash mid-build never leaves a half-written index at name.
func (m *Manager) BulkLoad(name string, attrType AttrType, attrLength byte, entries []BulkEntry) error {
	if attrLength < 1 || attrLength > 255 {
		return stoneerr.New(layer, stoneerr.InvalidAttrLength)
	}
	if (attrType == Int32 || attrType == Float) && attrLength != 4 {
		return stoneerr.New(layer, stoneerr.InvalidAttrLength)
	}
	if attrType != Int32 && attrType != Float && attrType != Chars {
		return stoneerr.New(layer, stoneerr.InvalidAttrType)
	}

	if m.pf.IsMemory() {
		return m.buildBulkFile(name, attrType, attrLength, entries)
	}

	staged := fmt.Sprintf("%s.tmp-%s", name, uuid.NewString())
	if err := m.buildBulkFile(staged, attrType, attrLength, entries); err != nil {
		m.pf.DestroyFile(staged)
		return err
	}
	if err := os.Rename(staged, name); err != nil {
		os.Remove(staged)
		return stoneerr.Wrap(layer, stoneerr.Unix, err)
	}
	return nil
}

func (m *Manager) buildBulkFile(name string, attrType AttrType, attrLength byte, entries []BulkEntry) error {
	var err error
	if m.pf.IsMemory() {
		err = m.pf.CreateMemoryFile(name)
	} else {
		err = m.pf.CreateFile(name)
	}
	if err != nil {
		return err
	}

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

	if len(entries) == 0 {
		leafPn, leafData, err := m.pf.AllocPage(fd)
		if err != nil {
			return err
		}
		initLeaf(leafData, pageSize, attrLength, maxKeys)
		if err := m.pf.UnfixPage(fd, leafPn, true); err != nil {
			return err
		}
		writeMetaHeader(metaData, metaHeader{
			RootPage: leafPn, LeftmostLeaf: leafPn,
			AttrType: attrType, AttrLength: attrLength, MaxKeys: maxKeys,
		})
		return m.pf.UnfixPage(fd, metaPn, true)
	}

	type group struct {
		key  []byte
		recs []RecID
	}
	groups := make([]group, 0, len(entries))
	for _, e := range entries {
		if n := len(groups); n > 0 && Compare(attrType, int(attrLength), groups[n-1].key, e.Key) == 0 {
			groups[n-1].recs = append(groups[n-1].recs, e.Rec)
		} else {
			groups = append(groups, group{key: append([]byte(nil), e.Key...), recs: []RecID{e.Rec}})
		}
	}

	// A leaf's usable space is its body minus the header; each group
	// costs one forward (key, chainHead) entry plus one backward chain
	// node per RID, the same accounting InsertEntry does via
	// leafFreeGap. maxKeys (sized for internal-node fanout) says
	// nothing about this, since a group's RID chain can make it far
	// wider than a single internal entry.
	budget := pageSize - leafHeaderSize

	var leafPages []int32
	var firstKeys [][]byte
	prevLeaf := noLink
	leftmostLeaf := noLink
	for i := 0; i < len(groups); {
		pn, data, err := m.pf.AllocPage(fd)
		if err != nil {
			return err
		}
		initLeaf(data, pageSize, attrLength, maxKeys)
		h := readLeafHeader(data)

		start := i
		used := 0
		for i < len(groups) {
			g := groups[i]
			cost := leafEntrySize(int(attrLength)) + len(g.recs)*chainNodeSize
			if cost > budget {
				// a single group's own chain can't fit in any leaf,
				// same unsplittable-key case splitLeaf rejects.
				return stoneerr.New(layer, stoneerr.NoMem)
			}
			if used+cost > budget {
				break
			}
			appendLeafEntryWithChain(data, &h, int(attrLength), g.key, g.recs)
			used += cost
			i++
		}
		writeLeafHeader(data, h)
		if err := m.pf.UnfixPage(fd, pn, true); err != nil {
			return err
		}

		if prevLeaf == noLink {
			leftmostLeaf = pn
		} else {
			pguard, pdata, err := m.pf.GetThisPage(fd, prevLeaf)
			if err != nil {
				return err
			}
			ph := readLeafHeader(pdata)
			ph.NextLeafPage = pn
			writeLeafHeader(pdata, ph)
			if err := pguard.Unfix(true); err != nil {
				return err
			}
		}

		leafPages = append(leafPages, pn)
		firstKeys = append(firstKeys, groups[start].key)
		prevLeaf = pn
	}

	pages := leafPages
	groupSize := int(maxKeys) + 1
	for len(pages) > 1 {
		var nextPages []int32
		var nextKeys [][]byte
		for j := 0; j < len(pages); {
			end := j + groupSize
			if end > len(pages) {
				end = len(pages)
			}
			chunkPages := pages[j:end]
			chunkKeys := firstKeys[j:end]

			pn, data, err := m.pf.AllocPage(fd)
			if err != nil {
				return err
			}
			initInternal(data, attrLength, maxKeys, chunkPages[0])
			h := readInternalHeader(data)
			for k := 1; k < len(chunkPages); k++ {
				writeInternalEntry(data, h.NumKeys, int(attrLength), chunkKeys[k], chunkPages[k])
				h.NumKeys++
			}
			writeInternalHeader(data, h)
			if err := m.pf.UnfixPage(fd, pn, true); err != nil {
				return err
			}

			nextPages = append(nextPages, pn)
			nextKeys = append(nextKeys, chunkKeys[0])
			j = end
		}
		pages = nextPages
		firstKeys = nextKeys
	}

	writeMetaHeader(metaData, metaHeader{
		RootPage: pages[0], LeftmostLeaf: leftmostLeaf,
		AttrType: attrType, AttrLength: attrLength, MaxKeys: maxKeys,
	})
	return m.pf.UnfixPage(fd, metaPn, true)
}
