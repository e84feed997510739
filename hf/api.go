package hf

import (
	"github.com/sirupsen/logrus"

	"github.com/ryogrid/stonedb/pf"
	"github.com/ryogrid/stonedb/stoneerr"
)

const layer = "hf"

// Manager is the heap-file layer's Engine-facing handle: a thin layer
// of record semantics over a pf.Manager's page storage.
type Manager struct {
	pf  *pf.Manager
	log *logrus.Entry
}

// NewManager builds an hf.Manager over an already-constructed pf
// layer, per the "typed managers, not singletons" composition the
// engine package uses for all three layers.
func NewManager(pfm *pf.Manager) *Manager {
	return &Manager{pf: pfm, log: logrus.NewEntry(logrus.StandardLogger())}
}

// CreateFile creates the underlying PF file and initializes its meta
// page (page 0) with an empty free-space list.
func (m *Manager) CreateFile(name string) error {
	if err := m.pf.CreateFile(name); err != nil {
		return err
	}
	fd, err := m.pf.OpenFile(name)
	if err != nil {
		return err
	}
	defer m.pf.CloseFile(fd)

	pn, data, err := m.pf.AllocPage(fd)
	if err != nil {
		return err
	}
	if pn != metaPage {
		return stoneerr.New(layer, stoneerr.InvalidPage)
	}
	writeMetaHeader(data, metaHeader{FirstFreePage: notListed})
	return m.pf.UnfixPage(fd, pn, true)
}

// CreateMemoryFile is CreateFile's memory-backed-Manager counterpart.
func (m *Manager) CreateMemoryFile(name string) error {
	if err := m.pf.CreateMemoryFile(name); err != nil {
		return err
	}
	fd, err := m.pf.OpenFile(name)
	if err != nil {
		return err
	}
	defer m.pf.CloseFile(fd)

	pn, data, err := m.pf.AllocPage(fd)
	if err != nil {
		return err
	}
	if pn != metaPage {
		return stoneerr.New(layer, stoneerr.InvalidPage)
	}
	writeMetaHeader(data, metaHeader{FirstFreePage: notListed})
	return m.pf.UnfixPage(fd, pn, true)
}

// OpenFile opens the heap file's underlying PF file.
func (m *Manager) OpenFile(name string) (int, error) { return m.pf.OpenFile(name) }

// CloseFile closes the heap file's underlying PF file.
func (m *Manager) CloseFile(fd int) error { return m.pf.CloseFile(fd) }

// DestroyFile removes the heap file.
func (m *Manager) DestroyFile(name string) error { return m.pf.DestroyFile(name) }

// PageStats reports a data page's slot count and effective free space,
// for diagnostics and tests of the free-space list's correctness.
func (m *Manager) PageStats(fd int, pageNum int32) (slotCount int, effFree int, err error) {
	guard, data, err := m.pf.GetThisPage(fd, pageNum)
	if err != nil {
		return 0, 0, err
	}
	defer guard.Unfix(false)
	h := readHeader(data)
	return int(h.SlotCount), effectiveFree(h), nil
}

func (m *Manager) pageSize() int { return int(m.pf.PageSize()) }

// allocDataPage grows the file by one page and initializes it as an
// empty data page.
func (m *Manager) allocDataPage(fd int) (int32, []byte, error) {
	pn, data, err := m.pf.AllocPage(fd)
	if err != nil {
		return 0, nil, err
	}
	initPage(data, m.pageSize())
	return pn, data, nil
}

// InsertRecord places rec on a page with room (reusing the free-space
// list) or a freshly allocated one, and returns its RID.
func (m *Manager) InsertRecord(fd int, rec []byte) (RID, error) {
	need := len(rec)
	pn, err := m.findPageWithRoom(fd, need)
	if err != nil {
		return RID{}, err
	}

	var guard *pf.PinGuard
	var data []byte
	isNew := pn == notListed
	if isNew {
		pn, data, err = m.allocDataPage(fd)
		if err != nil {
			return RID{}, err
		}
	} else {
		guard, data, err = m.pf.GetThisPage(fd, pn)
		if err != nil {
			return RID{}, err
		}
	}

	h := readHeader(data)
	if effectiveFree(h) < need {
		if guard != nil {
			guard.Unfix(false)
		} else {
			m.pf.UnfixPage(fd, pn, false)
		}
		return RID{}, stoneerr.New(layer, stoneerr.NoMem)
	}

	offset := h.FreeStart
	copy(data[offset:int(offset)+need], rec)
	slot := h.SlotCount
	writeSlot(data, m.pageSize(), slot, offset, int16(need))
	h.FreeStart += int16(need)
	h.FreeEnd -= slotSize
	h.SlotCount++
	writeHeader(data, h)

	if isNew {
		if err := m.pf.UnfixPage(fd, pn, true); err != nil {
			return RID{}, err
		}
	} else {
		guard.Unfix(true)
	}

	if err := m.freeListUpdate(fd, pn, effectiveFree(h)); err != nil {
		return RID{}, err
	}

	rid := RID{Page: pn, Slot: slot}
	m.log.WithFields(logrus.Fields{"page": pn, "slot": slot, "len": need}).Debug("insert record")
	return rid, nil
}

// GetRecord returns a copy of the live record at rid. Fails
// InvalidPage if the slot index is out of range, PageFree if
// tombstoned.
func (m *Manager) GetRecord(fd int, rid RID) ([]byte, error) {
	guard, data, err := m.pf.GetThisPage(fd, rid.Page)
	if err != nil {
		return nil, err
	}
	defer guard.Unfix(false)

	h := readHeader(data)
	if rid.Slot < 0 || rid.Slot >= h.SlotCount {
		return nil, stoneerr.New(layer, stoneerr.InvalidPage)
	}
	offset, length := readSlot(data, m.pageSize(), rid.Slot)
	if length == tombstone {
		return nil, stoneerr.New(layer, stoneerr.PageFree)
	}
	out := make([]byte, length)
	copy(out, data[offset:int(offset)+int(length)])
	return out, nil
}

// UpdateRecord overwrites the record at rid in place when it fits in
// the existing slot, else tombstones it and inserts rec as a new
// record, returning the possibly-new RID.
func (m *Manager) UpdateRecord(fd int, rid RID, rec []byte) (RID, error) {
	guard, data, err := m.pf.GetThisPage(fd, rid.Page)
	if err != nil {
		return RID{}, err
	}

	h := readHeader(data)
	if rid.Slot < 0 || rid.Slot >= h.SlotCount {
		guard.Unfix(false)
		return RID{}, stoneerr.New(layer, stoneerr.InvalidPage)
	}
	offset, length := readSlot(data, m.pageSize(), rid.Slot)
	if length == tombstone {
		guard.Unfix(false)
		return RID{}, stoneerr.New(layer, stoneerr.PageFree)
	}

	if len(rec) <= int(length) {
		copy(data[offset:int(offset)+len(rec)], rec)
		writeSlot(data, m.pageSize(), rid.Slot, offset, int16(len(rec)))
		guard.Unfix(true)
		if err := m.freeListUpdate(fd, rid.Page, effectiveFree(h)); err != nil {
			return RID{}, err
		}
		return rid, nil
	}

	writeSlot(data, m.pageSize(), rid.Slot, offset, tombstone)
	guard.Unfix(true)
	if err := m.freeListUpdate(fd, rid.Page, effectiveFree(h)); err != nil {
		return RID{}, err
	}

	newRID, err := m.InsertRecord(fd, rec)
	if err != nil {
		return RID{}, err
	}
	return newRID, nil
}

// DeleteRecord tombstones rid's slot. Idempotent on an already-deleted
// slot and never changes scan output beyond the original delete.
func (m *Manager) DeleteRecord(fd int, rid RID) error {
	guard, data, err := m.pf.GetThisPage(fd, rid.Page)
	if err != nil {
		return err
	}

	h := readHeader(data)
	if rid.Slot < 0 || rid.Slot >= h.SlotCount {
		guard.Unfix(false)
		return stoneerr.New(layer, stoneerr.InvalidPage)
	}
	_, length := readSlot(data, m.pageSize(), rid.Slot)
	if length == tombstone {
		guard.Unfix(false)
		return nil
	}
	writeSlot(data, m.pageSize(), rid.Slot, 0, tombstone)
	guard.Unfix(true)

	return m.freeListUpdate(fd, rid.Page, effectiveFree(h))
}
