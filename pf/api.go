package pf

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ryogrid/stonedb/stoneconfig"
	"github.com/ryogrid/stonedb/stoneerr"
)

const layer = "pf"

type openFile struct {
	name  string
	inUse bool
	st    *storage
}

// Manager is the PF layer's Engine-facing handle: the open-file table,
// the shared buffer pool, and the file-level free-page/page-count
// bookkeeping for every open file.
type Manager struct {
	cfg      stoneconfig.Config
	log      *logrus.Entry
	bp       *bufferPool
	files    []openFile
	memory   bool
	memFiles map[string]*storage
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the default standard logrus logger.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) { m.log = l }
}

// WithEvictionPolicy selects LRU (default) or MRU eviction.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(m *Manager) { m.bp.policy = p }
}

// NewManager creates the PF layer's Engine: a shared buffer pool sized
// per cfg and an empty open-file table.
func NewManager(cfg stoneconfig.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		bp:    newBufferPool(cfg.MaxBufs, cfg.HashTableSize, cfg.PageSize, LRU),
		files: make([]openFile, cfg.FtabSize),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NewMemoryManager creates a Manager whose host files are in-memory
// dsnet/golib/memfile buffers instead of real files, for fast,
// disk-free unit tests of the buffer pool and free-list behavior.
func NewMemoryManager(cfg stoneconfig.Config, opts ...Option) *Manager {
	m := NewManager(cfg, opts...)
	m.memory = true
	m.memFiles = make(map[string]*storage)
	return m
}

func (m *Manager) writeBack(fr *frame) error {
	of := &m.files[fr.fileID]
	return of.st.writePage(fr.pageNum, fr.nextFree, fr.data)
}

// CreateFile creates a new, empty host file. Fails with Unix if a file
// of that name already exists.
func (m *Manager) CreateFile(name string) error {
	if m.memory {
		return stoneerr.New(layer, stoneerr.Unix)
	}
	f, err := createHostFile(name)
	if err != nil {
		return err
	}
	st, err := newStorage(f, m.cfg.PageSize, true)
	if err != nil {
		f.Close()
		return err
	}
	if err := st.close(); err != nil {
		return stoneerr.Wrap(layer, stoneerr.Unix, err)
	}
	m.log.WithField("file", name).Debug("created file")
	return nil
}

// CreateMemoryFile registers an in-memory file under name on a
// memory-backed Manager. Real-disk Managers reject this.
func (m *Manager) CreateMemoryFile(name string) error {
	if !m.memory {
		return stoneerr.New(layer, stoneerr.Unix)
	}
	if _, exists := m.memFiles[name]; exists {
		return stoneerr.New(layer, stoneerr.FileOpen)
	}
	f := newMemoryHostFile()
	st, err := newStorage(f, m.cfg.PageSize, true)
	if err != nil {
		return err
	}
	// stashed unopened; OpenFile below looks it up by name, so a given
	// in-memory file can be reopened by name for this Manager's lifetime.
	m.memFiles[name] = st
	return nil
}

// DestroyFile removes a closed host file.
func (m *Manager) DestroyFile(name string) error {
	if m.memory {
		delete(m.memFiles, name)
		return nil
	}
	if err := os.Remove(name); err != nil {
		return stoneerr.Wrap(layer, stoneerr.Unix, err)
	}
	return nil
}

func (m *Manager) findOpenSlot(name string) (int, error) {
	free := -1
	for i := range m.files {
		if m.files[i].inUse {
			if m.files[i].name == name {
				return -1, stoneerr.New(layer, stoneerr.FileOpen)
			}
			continue
		}
		if free == -1 {
			free = i
		}
	}
	if free == -1 {
		return -1, stoneerr.New(layer, stoneerr.FtabFull)
	}
	return free, nil
}

// OpenFile opens a host file, returning a file descriptor in
// [0, FtabSize). Fails FileOpen if already open, FtabFull if the
// open-file table has no free slot.
func (m *Manager) OpenFile(name string) (int, error) {
	fd, err := m.findOpenSlot(name)
	if err != nil {
		return -1, err
	}
	var st *storage
	if m.memory {
		s, ok := m.memFiles[name]
		if !ok {
			return -1, stoneerr.New(layer, stoneerr.Fd)
		}
		st = s
	} else {
		f, oerr := openHostFile(name)
		if oerr != nil {
			return -1, oerr
		}
		s, serr := newStorage(f, m.cfg.PageSize, false)
		if serr != nil {
			f.Close()
			return -1, serr
		}
		st = s
	}
	m.files[fd] = openFile{name: name, inUse: true, st: st}
	m.log.WithFields(logrus.Fields{"file": name, "fd": fd}).Debug("opened file")
	return fd, nil
}

func (m *Manager) checkFd(fd int) (*openFile, error) {
	if fd < 0 || fd >= len(m.files) || !m.files[fd].inUse {
		return nil, stoneerr.New(layer, stoneerr.Fd)
	}
	return &m.files[fd], nil
}

// CloseFile flushes every dirty frame for fd, writes the header if
// changed, and closes the host file. Fails PageFixed if any frame for
// this file is still pinned.
func (m *Manager) CloseFile(fd int) error {
	of, err := m.checkFd(fd)
	if err != nil {
		return err
	}
	if err := m.bp.releaseFile(fd, m.writeBack); err != nil {
		return err
	}
	if of.st.headerDiry {
		if err := of.st.writeHeader(); err != nil {
			return err
		}
	}
	if !m.memory {
		if err := of.st.close(); err != nil {
			return stoneerr.Wrap(layer, stoneerr.Unix, err)
		}
	}
	m.files[fd] = openFile{}
	m.log.WithField("fd", fd).Debug("closed file")
	return nil
}

// acquire finds-or-loads the frame for (fd, pn), without pinning it.
// fromDisk controls whether a miss is populated from the host file
// (true) or left zeroed for a brand-new page (false).
func (m *Manager) acquire(fd int, pn int32, fromDisk bool) (*frame, error) {
	of := &m.files[fd]
	if fr := m.bp.find(fd, pn); fr != nil {
		m.bp.stats.Hits++
		return fr, nil
	}
	m.bp.stats.Misses++
	fr, err := m.bp.obtain(m.writeBack)
	if err != nil {
		return nil, err
	}
	if fromDisk {
		nf, body, rerr := of.st.readPage(pn)
		if rerr != nil {
			m.bp.pushFree(fr.idx)
			return nil, rerr
		}
		fr.nextFree = nf
		copy(fr.data, body)
		m.bp.stats.Reads++
	} else {
		for i := range fr.data {
			fr.data[i] = 0
		}
	}
	m.bp.bind(fr, fd, pn)
	m.bp.unpin(fr, false) // bind pins; caller pins explicitly below
	return fr, nil
}

// AllocPage allocates a page (reusing the file's free-page chain head
// if non-empty, else appending), pins it dirty, and returns its page
// number and data.
func (m *Manager) AllocPage(fd int) (int32, []byte, error) {
	of, err := m.checkFd(fd)
	if err != nil {
		return 0, nil, err
	}
	var pn int32
	var fromDisk bool
	if of.st.header.FirstFree != end {
		pn = of.st.header.FirstFree
		fromDisk = true
	} else {
		pn = of.st.header.NumPages
		fromDisk = false
	}
	fr, err := m.acquire(fd, pn, fromDisk)
	if err != nil {
		return 0, nil, err
	}
	if fr.pinned {
		return 0, nil, stoneerr.New(layer, stoneerr.PageFixed)
	}
	if fromDisk {
		of.st.header.FirstFree = fr.nextFree
	} else {
		of.st.header.NumPages++
		if err := of.st.growTo(of.st.header.NumPages); err != nil {
			return 0, nil, err
		}
	}
	of.st.headerDiry = true
	fr.nextFree = used
	m.bp.pin(fr)
	fr.dirty = true
	m.log.WithFields(logrus.Fields{"fd": fd, "page": pn}).Debug("alloc page")
	return pn, fr.data, nil
}

// DisposePage links pn into fd's free-page chain. Fails PageFree if
// the page is already free, PageFixed if some other caller holds it
// pinned.
func (m *Manager) DisposePage(fd int, pn int32) error {
	of, err := m.checkFd(fd)
	if err != nil {
		return err
	}
	if pn < 0 || pn >= of.st.header.NumPages {
		return stoneerr.New(layer, stoneerr.InvalidPage)
	}
	fr, err := m.acquire(fd, pn, true)
	if err != nil {
		return err
	}
	if fr.pinned {
		return stoneerr.New(layer, stoneerr.PageFixed)
	}
	if fr.nextFree != used {
		return stoneerr.New(layer, stoneerr.PageFree)
	}
	m.bp.pin(fr)
	fr.nextFree = of.st.header.FirstFree
	of.st.header.FirstFree = pn
	of.st.headerDiry = true
	fr.dirty = true
	m.bp.unpin(fr, true)
	m.log.WithFields(logrus.Fields{"fd": fd, "page": pn}).Debug("dispose page")
	return nil
}

// GetThisPage returns a pinned handle to page pn's data. Fails
// InvalidPage if out of range, PageFixed if already pinned.
func (m *Manager) GetThisPage(fd int, pn int32) (*PinGuard, []byte, error) {
	of, err := m.checkFd(fd)
	if err != nil {
		return nil, nil, err
	}
	if pn < 0 || pn >= of.st.header.NumPages {
		return nil, nil, stoneerr.New(layer, stoneerr.InvalidPage)
	}
	fr, err := m.acquire(fd, pn, true)
	if err != nil {
		return nil, nil, err
	}
	if fr.pinned {
		return nil, nil, stoneerr.New(layer, stoneerr.PageFixed)
	}
	m.bp.pin(fr)
	return &PinGuard{mgr: m, fd: fd, page: pn}, fr.data, nil
}

func (m *Manager) pageUsed(fd int, of *openFile, pn int32) (bool, error) {
	if fr := m.bp.find(fd, pn); fr != nil {
		return fr.nextFree == used, nil
	}
	nf, err := of.st.peekNextFree(pn)
	if err != nil {
		return false, err
	}
	return nf == used, nil
}

// GetFirstPage returns the first used page at or after page 0.
func (m *Manager) GetFirstPage(fd int) (int32, *PinGuard, []byte, error) {
	return m.getNextUsed(fd, -1)
}

// GetNextPage returns the first used page strictly after pn.
func (m *Manager) GetNextPage(fd int, pn int32) (int32, *PinGuard, []byte, error) {
	return m.getNextUsed(fd, pn)
}

func (m *Manager) getNextUsed(fd int, after int32) (int32, *PinGuard, []byte, error) {
	of, err := m.checkFd(fd)
	if err != nil {
		return 0, nil, nil, err
	}
	for pn := after + 1; pn < of.st.header.NumPages; pn++ {
		usedPage, err := m.pageUsed(fd, of, pn)
		if err != nil {
			return 0, nil, nil, err
		}
		if !usedPage {
			continue
		}
		guard, data, err := m.GetThisPage(fd, pn)
		if err != nil {
			return 0, nil, nil, err
		}
		return pn, guard, data, nil
	}
	return 0, nil, nil, stoneerr.New(layer, stoneerr.Eof)
}

// UnfixPage decrements the pin on (fd, pn) and marks it dirty if
// requested. Fails PageNotInBuf if not resident, PageUnfixed if
// already unpinned.
func (m *Manager) UnfixPage(fd int, pn int32, dirty bool) error {
	if _, err := m.checkFd(fd); err != nil {
		return err
	}
	fr := m.bp.find(fd, pn)
	if fr == nil {
		return stoneerr.New(layer, stoneerr.PageNotInBuf)
	}
	if !fr.pinned {
		return stoneerr.New(layer, stoneerr.PageUnfixed)
	}
	m.bp.unpin(fr, dirty)
	return nil
}

// Stats returns a snapshot of buffer-pool activity counters.
func (m *Manager) Stats() Stats { return m.bp.stats }

// PageSize returns the configured page body size.
func (m *Manager) PageSize() uint32 { return m.cfg.PageSize }

// IsMemory reports whether this Manager backs files with in-memory
// buffers rather than the host filesystem.
func (m *Manager) IsMemory() bool { return m.memory }
