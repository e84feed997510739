package hf

import "github.com/ryogrid/stonedb/stoneerr"

// Scan is a sequential cursor over every live record in a heap file,
// in ascending PF page order, skipping the meta page and any
// tombstoned slots.
type Scan struct {
	m    *Manager
	fd   int
	page int32
	slot int16
	done bool
}

// ScanOpen positions a cursor just before the first data page.
func (m *Manager) ScanOpen(fd int) (*Scan, error) {
	return &Scan{m: m, fd: fd, page: metaPage, slot: -1}, nil
}

// ScanNext advances to the next live record and returns its RID and
// bytes. Returns Eof once every data page has been exhausted.
func (s *Scan) ScanNext() (RID, []byte, error) {
	if s.done {
		return RID{}, nil, stoneerr.New(layer, stoneerr.Eof)
	}
	for {
		if s.slot < 0 {
			pn, guard, _, err := s.m.pf.GetNextPage(s.fd, s.page)
			if err != nil {
				if stoneerr.Is(err, stoneerr.Eof) {
					s.done = true
					return RID{}, nil, stoneerr.New(layer, stoneerr.Eof)
				}
				return RID{}, nil, err
			}
			s.page = pn
			s.slot = 0
			guard.Unfix(false)
		}

		guard, data, err := s.m.pf.GetThisPage(s.fd, s.page)
		if err != nil {
			return RID{}, nil, err
		}
		h := readHeader(data)
		for s.slot < h.SlotCount {
			offset, length := readSlot(data, s.m.pageSize(), s.slot)
			if length == tombstone {
				s.slot++
				continue
			}
			rec := make([]byte, length)
			copy(rec, data[offset:int(offset)+int(length)])
			rid := RID{Page: s.page, Slot: s.slot}
			s.slot++
			guard.Unfix(false)
			return rid, rec, nil
		}
		guard.Unfix(false)
		s.slot = -1 // exhausted this page, advance to the next in the outer loop
	}
}

// ScanClose marks the cursor ended.
func (s *Scan) ScanClose() { s.done = true }
