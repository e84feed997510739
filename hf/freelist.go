package hf

// freeListUpdate reconciles a page's free-list membership with its
// current effective free space. It walks the list from the meta page's
// head holding at most two pages pinned at once (the meta page and
// one list page), exactly as far as needed to find pn or reach the
// end, then links or unlinks as appropriate. No-op if the page's membership already
// matches what effectiveFree demands.
func (m *Manager) freeListUpdate(fd int, pn int32, free int) error {
	wantListed := free > 0

	metaGuard, metaData, err := m.pf.GetThisPage(fd, metaPage)
	if err != nil {
		return err
	}
	defer metaGuard.Unfix(true)
	head := readMetaHeader(metaData)

	if head.FirstFreePage == notListed {
		if !wantListed {
			return nil
		}
		return m.linkHead(fd, metaData, pn)
	}

	prevPage := notListed
	cur := head.FirstFreePage
	for cur != notListed {
		if cur == pn {
			if wantListed {
				return nil // already listed, still has room
			}
			return m.unlink(fd, metaData, prevPage, cur)
		}
		curGuard, curData, err := m.pf.GetThisPage(fd, cur)
		if err != nil {
			return err
		}
		next := readHeader(curData).NextFreePage
		curGuard.Unfix(false)
		prevPage = cur
		cur = next
	}

	if wantListed {
		return m.linkHead(fd, metaData, pn)
	}
	return nil
}

// linkHead links pn at the free-list head. metaData is the caller's
// already-pinned meta page buffer; the caller owns its pin/unfix.
func (m *Manager) linkHead(fd int, metaData []byte, pn int32) error {
	head := readMetaHeader(metaData)
	pg, data, err := m.pf.GetThisPage(fd, pn)
	if err != nil {
		return err
	}
	h := readHeader(data)
	h.NextFreePage = head.FirstFreePage
	writeHeader(data, h)
	pg.Unfix(true)

	head.FirstFreePage = pn
	writeMetaHeader(metaData, head)
	return nil
}

// unlink removes pn from the free list given its predecessor
// (notListed if pn is currently the head).
func (m *Manager) unlink(fd int, metaData []byte, prevPage, pn int32) error {
	pg, data, err := m.pf.GetThisPage(fd, pn)
	if err != nil {
		return err
	}
	next := readHeader(data).NextFreePage
	h := readHeader(data)
	h.NextFreePage = notListed
	writeHeader(data, h)
	pg.Unfix(true)

	if prevPage == notListed {
		head := readMetaHeader(metaData)
		head.FirstFreePage = next
		writeMetaHeader(metaData, head)
		return nil
	}
	prevGuard, prevData, err := m.pf.GetThisPage(fd, prevPage)
	if err != nil {
		return err
	}
	ph := readHeader(prevData)
	ph.NextFreePage = next
	writeHeader(prevData, ph)
	prevGuard.Unfix(true)
	return nil
}

// findPageWithRoom walks the free list looking for a page whose
// effective free space can hold need bytes. Returns notListed if none
// qualifies.
func (m *Manager) findPageWithRoom(fd int, need int) (int32, error) {
	metaGuard, metaData, err := m.pf.GetThisPage(fd, metaPage)
	if err != nil {
		return notListed, err
	}
	head := readMetaHeader(metaData)
	metaGuard.Unfix(false)

	cur := head.FirstFreePage
	for cur != notListed {
		guard, data, err := m.pf.GetThisPage(fd, cur)
		if err != nil {
			return notListed, err
		}
		h := readHeader(data)
		free := effectiveFree(h)
		next := h.NextFreePage
		guard.Unfix(false)
		if free >= need {
			return cur, nil
		}
		cur = next
	}
	return notListed, nil
}
