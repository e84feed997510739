package pf

import (
	"encoding/binary"
	"os"

	"github.com/dsnet/golib/memfile"
	"github.com/pkg/errors"

	"github.com/ryogrid/stonedb/stoneerr"
)

const headerSize = 8 // {FirstFree int32, NumPages int32}

// hostFile is the byte-addressable backing store a storage binds to.
// *os.File and memHostFile both satisfy it.
type hostFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// storage owns one open host file and its PF-level header: the
// free-page-chain head and page count, plus the slot geometry
// (4-byte nextFree prefix + P-byte body per page).
type storage struct {
	f          hostFile
	pageSize   uint32
	slotSize   int64
	header     fileHeader
	headerDiry bool
}

func slotOffset(pn int32, slotSize int64) int64 {
	return headerSize + int64(pn)*slotSize
}

func createHostFile(path string) (hostFile, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, stoneerr.New("pf.storage", stoneerr.Unix)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, stoneerr.Wrap("pf.storage", stoneerr.Unix, err)
	}
	return f, nil
}

func openHostFile(path string) (hostFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, stoneerr.Wrap("pf.storage", stoneerr.Unix, err)
	}
	return f, nil
}

// memHostFile adapts *memfile.File to hostFile: memfile has no Sync or
// Close (there's no descriptor or durability to flush), so both are
// no-ops here.
type memHostFile struct {
	*memfile.File
}

func (memHostFile) Sync() error  { return nil }
func (memHostFile) Close() error { return nil }

// newMemoryHostFile backs a storage with an in-memory memfile, used by
// the pf.NewMemoryManager test harness so the buffer-pool eviction and
// free-list suites run without touching disk.
func newMemoryHostFile() hostFile {
	return memHostFile{memfile.New(nil)}
}

func newStorage(f hostFile, pageSize uint32, init bool) (*storage, error) {
	s := &storage{f: f, pageSize: pageSize, slotSize: int64(pageSize) + 4}
	if init {
		s.header = fileHeader{FirstFree: end, NumPages: 0}
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *storage) readHeader() error {
	buf := make([]byte, headerSize)
	n, err := s.f.ReadAt(buf, 0)
	if err != nil || n != headerSize {
		return stoneerr.Wrap("pf.storage", stoneerr.HdrRead, errors.Wrap(err, "short header read"))
	}
	s.header.FirstFree = int32(binary.LittleEndian.Uint32(buf[0:4]))
	s.header.NumPages = int32(binary.LittleEndian.Uint32(buf[4:8]))
	return nil
}

func (s *storage) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.header.FirstFree))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.header.NumPages))
	n, err := s.f.WriteAt(buf, 0)
	if err != nil || n != headerSize {
		return stoneerr.Wrap("pf.storage", stoneerr.HdrWrite, errors.Wrap(err, "short header write"))
	}
	s.headerDiry = false
	return s.f.Sync()
}

// readPage reads the raw (nextFree, body) pair for page pn.
func (s *storage) readPage(pn int32) (int32, []byte, error) {
	buf := make([]byte, s.slotSize)
	n, err := s.f.ReadAt(buf, slotOffset(pn, s.slotSize))
	if err != nil || int64(n) != s.slotSize {
		return 0, nil, stoneerr.Wrap("pf.storage", stoneerr.IncompleteRead, errors.Wrap(err, "short page read"))
	}
	return int32(binary.LittleEndian.Uint32(buf[0:4])), buf[4:], nil
}

// peekNextFree reads only the 4-byte nextFree prefix, for scans that
// skip free pages without pulling them into the buffer pool.
func (s *storage) peekNextFree(pn int32) (int32, error) {
	buf := make([]byte, 4)
	n, err := s.f.ReadAt(buf, slotOffset(pn, s.slotSize))
	if err != nil || n != 4 {
		return 0, stoneerr.Wrap("pf.storage", stoneerr.IncompleteRead, errors.Wrap(err, "short peek read"))
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func (s *storage) writePage(pn int32, nextFree int32, body []byte) error {
	buf := make([]byte, s.slotSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(nextFree))
	copy(buf[4:], body)
	n, err := s.f.WriteAt(buf, slotOffset(pn, s.slotSize))
	if err != nil || int64(n) != s.slotSize {
		return stoneerr.Wrap("pf.storage", stoneerr.IncompleteWrite, errors.Wrap(err, "short page write"))
	}
	return nil
}

func (s *storage) growTo(numPages int32) error {
	return s.f.Truncate(headerSize + int64(numPages)*s.slotSize)
}

func (s *storage) close() error {
	return s.f.Close()
}
