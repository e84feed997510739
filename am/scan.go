package am

import "github.com/ryogrid/stonedb/stoneerr"

type scanStatus int

const (
	scanFree scanStatus = iota
	scanFirst
	scanBusy
	scanOver
)

// chainPending marks a cursor positioned on a key whose chain head
// hasn't been fetched yet, distinct from noOffset (chain exhausted).
const chainPending = int16(-2)

// scanCursor is one entry of the bounded index-scan table: a position
// in the leaf chain plus the comparison that decides when to stop or
// skip, so FindNextEntry can resume a walk across calls without
// re-searching from the root.
type scanCursor struct {
	fd       int
	op       ScanOp
	attrType AttrType
	attrLen  int
	value    []byte

	curPage  int32
	curIndex int16
	chainOff int16
	lastKey  []byte
	status   scanStatus
}

func (m *Manager) allocScanSlot(c *scanCursor) (int, error) {
	for i, slot := range m.scans {
		if slot == nil {
			m.scans[i] = c
			return i, nil
		}
	}
	return -1, stoneerr.New(layer, stoneerr.ScanTabFull)
}

func (m *Manager) scanAt(sd int) (*scanCursor, error) {
	if sd < 0 || sd >= len(m.scans) || m.scans[sd] == nil {
		return nil, stoneerr.New(layer, stoneerr.InvalidScanDesc)
	}
	return m.scans[sd], nil
}

// OpenIndexScan positions a cursor per op's start rule and returns a
// scan descriptor to pass to FindNextEntry/CloseIndexScan. value is
// nil for OpAll.
func (m *Manager) OpenIndexScan(fd int, op ScanOp, value []byte) (int, error) {
	meta, err := m.readMeta(fd)
	if err != nil {
		return -1, err
	}
	attrLen := int(meta.AttrLength)

	var val []byte
	if value != nil {
		val = append([]byte(nil), value...)
	} else {
		// a NULL search value always means a plain ascending scan,
		// whatever op was requested.
		op = OpAll
	}

	switch op {
	case OpAll, OpLessThan, OpLessThanEqual, OpNotEqual:
		return m.allocScanSlot(&scanCursor{
			fd: fd, op: op, attrType: meta.AttrType, attrLen: attrLen, value: val,
			curPage: meta.LeftmostLeaf, curIndex: 0, chainOff: chainPending, status: scanFirst,
		})
	case OpEqual:
		leafPage, idx, found, err := m.Search(fd, value)
		if err != nil {
			return -1, err
		}
		if !found {
			return m.allocScanSlot(&scanCursor{fd: fd, op: op, attrType: meta.AttrType, attrLen: attrLen, value: val, status: scanOver})
		}
		return m.allocScanSlot(&scanCursor{
			fd: fd, op: op, attrType: meta.AttrType, attrLen: attrLen, value: val,
			curPage: leafPage, curIndex: idx, chainOff: chainPending, status: scanFirst,
		})
	case OpGreaterThan, OpGreaterThanEqual:
		leafPage, idx, found, err := m.Search(fd, value)
		if err != nil {
			return -1, err
		}
		if op == OpGreaterThan && found {
			idx++
		}
		return m.allocScanSlot(&scanCursor{
			fd: fd, op: op, attrType: meta.AttrType, attrLen: attrLen, value: val,
			curPage: leafPage, curIndex: idx, chainOff: chainPending, status: scanFirst,
		})
	default:
		return -1, stoneerr.New(layer, stoneerr.InvalidOpToScan)
	}
}

// FindNextEntry returns the next matching RecID, or Eof once the
// cursor's stop condition is reached or the leaf chain is exhausted.
func (m *Manager) FindNextEntry(sd int) (RecID, error) {
	c, err := m.scanAt(sd)
	if err != nil {
		return 0, err
	}
	if c.status == scanOver {
		return 0, stoneerr.New(layer, stoneerr.Eof)
	}

	for {
		if c.curPage == noLink {
			c.status = scanOver
			return 0, stoneerr.New(layer, stoneerr.Eof)
		}

		guard, data, err := m.pf.GetThisPage(c.fd, c.curPage)
		if err != nil {
			return 0, err
		}
		h := readLeafHeader(data)

		if c.curIndex >= h.NumKeys {
			next := h.NextLeafPage
			guard.Unfix(false)
			c.curPage = next
			c.curIndex = 0
			c.chainOff = chainPending
			continue
		}

		// resync: if we were mid-chain on a key that's no longer at
		// curIndex (an intervening delete emptied and removed it, and
		// the left shift slid the next key into this slot), treat
		// curIndex as a fresh, not-yet-visited key rather than
		// resuming a chain that no longer belongs there.
		if c.chainOff != chainPending && c.status != scanFirst {
			key := readLeafKey(data, c.curIndex, c.attrLen)
			if c.lastKey != nil && Compare(c.attrType, c.attrLen, key, c.lastKey) != 0 {
				c.chainOff = chainPending
			}
		}

		key := readLeafKey(data, c.curIndex, c.attrLen)
		stop, skip := false, false
		switch c.op {
		case OpEqual:
			if Compare(c.attrType, c.attrLen, key, c.value) != 0 {
				stop = true
			}
		case OpLessThan:
			if Compare(c.attrType, c.attrLen, key, c.value) >= 0 {
				stop = true
			}
		case OpLessThanEqual:
			if Compare(c.attrType, c.attrLen, key, c.value) > 0 {
				stop = true
			}
		case OpNotEqual:
			if Compare(c.attrType, c.attrLen, key, c.value) == 0 {
				skip = true
			}
		}

		if stop {
			guard.Unfix(false)
			c.status = scanOver
			return 0, stoneerr.New(layer, stoneerr.Eof)
		}
		if skip {
			guard.Unfix(false)
			c.curIndex++
			c.chainOff = chainPending
			continue
		}

		if c.chainOff == chainPending {
			c.chainOff = readLeafChainHead(data, c.curIndex, c.attrLen)
			c.lastKey = append([]byte(nil), key...)
		}
		if c.chainOff == noOffset {
			guard.Unfix(false)
			c.curIndex++
			c.chainOff = chainPending
			continue
		}

		rec, next := readChainNode(data, c.chainOff)
		c.chainOff = next
		guard.Unfix(false)
		c.status = scanBusy
		return rec, nil
	}
}

// CloseIndexScan frees the scan slot.
func (m *Manager) CloseIndexScan(sd int) error {
	if sd < 0 || sd >= len(m.scans) || m.scans[sd] == nil {
		return stoneerr.New(layer, stoneerr.InvalidScanDesc)
	}
	m.scans[sd] = nil
	return nil
}
