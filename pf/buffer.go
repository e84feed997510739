package pf

import "github.com/ryogrid/stonedb/stoneerr"

const nilIdx = -1

// bufferPool is the bounded frame pool shared by every open file: a
// bucketed hash index from (fileID, pageNum) to a resident frame, a
// global MRU-ordered doubly linked list of used frames, and a singly
// linked list of free frames. Eviction walks the MRU list from the
// tail (LRU policy) or head (MRU policy) for the first unpinned frame.
type bufferPool struct {
	maxBufs  int
	pageSize uint32
	policy   EvictionPolicy

	frames    []*frame
	hashTable []int // bucket head frame index, nilIdx if empty
	mruHead   int
	mruTail   int
	freeHead  int

	stats Stats
}

func newBufferPool(maxBufs int, hashSize int, pageSize uint32, policy EvictionPolicy) *bufferPool {
	ht := make([]int, hashSize)
	for i := range ht {
		ht[i] = nilIdx
	}
	return &bufferPool{
		maxBufs:   maxBufs,
		pageSize:  pageSize,
		policy:    policy,
		hashTable: ht,
		mruHead:   nilIdx,
		mruTail:   nilIdx,
		freeHead:  nilIdx,
	}
}

func (bp *bufferPool) bucket(fileID int, pageNum int32) int {
	h := uint64(fileID)*1099511628211 ^ uint64(uint32(pageNum))
	return int(h % uint64(len(bp.hashTable)))
}

func (bp *bufferPool) find(fileID int, pageNum int32) *frame {
	idx := bp.hashTable[bp.bucket(fileID, pageNum)]
	for idx != nilIdx {
		fr := bp.frames[idx]
		if fr.fileID == fileID && fr.pageNum == pageNum {
			return fr
		}
		idx = fr.hashNext
	}
	return nil
}

func (bp *bufferPool) linkHash(fr *frame) {
	b := bp.bucket(fr.fileID, fr.pageNum)
	fr.hashPrev = nilIdx
	fr.hashNext = bp.hashTable[b]
	if fr.hashNext != nilIdx {
		bp.frames[fr.hashNext].hashPrev = fr.idx
	}
	bp.hashTable[b] = fr.idx
}

func (bp *bufferPool) unlinkHash(fr *frame) {
	b := bp.bucket(fr.fileID, fr.pageNum)
	if fr.hashPrev != nilIdx {
		bp.frames[fr.hashPrev].hashNext = fr.hashNext
	} else {
		bp.hashTable[b] = fr.hashNext
	}
	if fr.hashNext != nilIdx {
		bp.frames[fr.hashNext].hashPrev = fr.hashPrev
	}
}

// linkMRUHead moves fr (already out of the list) to the MRU head.
func (bp *bufferPool) linkMRUHead(fr *frame) {
	fr.mruPrev = nilIdx
	fr.mruNext = bp.mruHead
	if bp.mruHead != nilIdx {
		bp.frames[bp.mruHead].mruPrev = fr.idx
	}
	bp.mruHead = fr.idx
	if bp.mruTail == nilIdx {
		bp.mruTail = fr.idx
	}
}

func (bp *bufferPool) unlinkMRU(fr *frame) {
	if fr.mruPrev != nilIdx {
		bp.frames[fr.mruPrev].mruNext = fr.mruNext
	} else if bp.mruHead == fr.idx {
		bp.mruHead = fr.mruNext
	}
	if fr.mruNext != nilIdx {
		bp.frames[fr.mruNext].mruPrev = fr.mruPrev
	} else if bp.mruTail == fr.idx {
		bp.mruTail = fr.mruPrev
	}
	fr.mruPrev, fr.mruNext = nilIdx, nilIdx
}

// touch relinks an already-resident, already-linked frame to the MRU head.
func (bp *bufferPool) touch(fr *frame) {
	bp.unlinkMRU(fr)
	bp.linkMRUHead(fr)
}

func (bp *bufferPool) pushFree(idx int) {
	bp.frames[idx].resident = false
	bp.frames[idx].freeNext = bp.freeHead
	bp.freeHead = idx
}

func (bp *bufferPool) popFree() int {
	idx := bp.freeHead
	if idx == nilIdx {
		return nilIdx
	}
	bp.freeHead = bp.frames[idx].freeNext
	return idx
}

// obtain returns an unbound frame ready to be linked to a new identity:
// pulled from the free list, grown fresh, or reclaimed via eviction.
func (bp *bufferPool) obtain(writeBack func(fr *frame) error) (*frame, error) {
	if idx := bp.popFree(); idx != nilIdx {
		return bp.frames[idx], nil
	}
	if len(bp.frames) < bp.maxBufs {
		fr := &frame{idx: len(bp.frames), data: make([]byte, bp.pageSize), hashNext: nilIdx, hashPrev: nilIdx, mruNext: nilIdx, mruPrev: nilIdx, freeNext: nilIdx}
		bp.frames = append(bp.frames, fr)
		return fr, nil
	}
	return bp.evict(writeBack)
}

func (bp *bufferPool) evict(writeBack func(fr *frame) error) (*frame, error) {
	next := func(fr *frame) int { return fr.mruPrev }
	start := bp.mruTail
	if bp.policy != LRU {
		next = func(fr *frame) int { return fr.mruNext }
		start = bp.mruHead
	}
	for i := start; i != nilIdx; i = next(bp.frames[i]) {
		fr := bp.frames[i]
		if fr.pinned {
			continue
		}
		if fr.dirty {
			if err := writeBack(fr); err != nil {
				return nil, err
			}
			bp.stats.Writes++
		}
		bp.unlinkHash(fr)
		bp.unlinkMRU(fr)
		bp.stats.Evictions++
		fr.dirty = false
		return fr, nil
	}
	return nil, stoneerr.New("pf.buffer", stoneerr.NoBuf)
}

// bind installs fr as the resident frame for (fileID, pageNum), links
// it into the hash index and the MRU head, and pins it.
func (bp *bufferPool) bind(fr *frame, fileID int, pageNum int32) {
	fr.fileID = fileID
	fr.pageNum = pageNum
	fr.resident = true
	fr.pinned = true
	fr.dirty = false
	bp.linkHash(fr)
	bp.linkMRUHead(fr)
}

func (bp *bufferPool) pin(fr *frame) {
	fr.pinned = true
	bp.touch(fr)
}

func (bp *bufferPool) unpin(fr *frame, dirty bool) {
	fr.pinned = false
	if dirty {
		fr.dirty = true
	}
	bp.touch(fr)
}

// releaseFile drops every resident frame belonging to fileID back onto
// the free list, flushing dirty ones first. Returns PageFixed if any
// of them are still pinned.
func (bp *bufferPool) releaseFile(fileID int, writeBack func(fr *frame) error) error {
	for _, fr := range bp.frames {
		if fr.resident && fr.fileID == fileID && fr.pinned {
			return stoneerr.New("pf.buffer", stoneerr.PageFixed)
		}
	}
	for i, fr := range bp.frames {
		if fr.resident && fr.fileID == fileID {
			if fr.dirty {
				if err := writeBack(fr); err != nil {
					return err
				}
			}
			bp.unlinkHash(fr)
			bp.unlinkMRU(fr)
			fr.dirty = false
			bp.pushFree(i)
		}
	}
	return nil
}
