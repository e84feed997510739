package am

import "encoding/binary"

const (
	leafTag     byte = 'l'
	internalTag byte = 'i'
)

// chainNodeSize is one {recId int32, nextOffset int16} RID-chain node.
const chainNodeSize = 6

// noLink and noOffset are the -1 sentinels: noLink for page links
// (leaf-to-leaf), noOffset for in-page offsets (the end of a RID chain
// or of the chain free list).
const noLink = int32(-1)
const noOffset = int16(-1)

// leafHeaderSize is {tag byte, nextLeafPage int32, recIdPtr int16,
// keyPtr int16, freeListPtr int16, numInFreeList int16, attrLength
// byte, numKeys int16, maxKeys int16}.
const leafHeaderSize = 1 + 4 + 2 + 2 + 2 + 2 + 1 + 2 + 2

// internalHeaderSize is {tag byte, numKeys int16, maxKeys int16,
// attrLength byte}.
const internalHeaderSize = 1 + 2 + 2 + 1

type leafHeader struct {
	NextLeafPage  int32
	RecIdPtr      int16
	KeyPtr        int16
	FreeListPtr   int16
	NumInFreeList int16
	AttrLength    byte
	NumKeys       int16
	MaxKeys       int16
}

func pageTag(data []byte) byte { return data[0] }

func readLeafHeader(data []byte) leafHeader {
	return leafHeader{
		NextLeafPage:  int32(binary.LittleEndian.Uint32(data[1:5])),
		RecIdPtr:      int16(binary.LittleEndian.Uint16(data[5:7])),
		KeyPtr:        int16(binary.LittleEndian.Uint16(data[7:9])),
		FreeListPtr:   int16(binary.LittleEndian.Uint16(data[9:11])),
		NumInFreeList: int16(binary.LittleEndian.Uint16(data[11:13])),
		AttrLength:    data[13],
		NumKeys:       int16(binary.LittleEndian.Uint16(data[14:16])),
		MaxKeys:       int16(binary.LittleEndian.Uint16(data[16:18])),
	}
}

func writeLeafHeader(data []byte, h leafHeader) {
	data[0] = leafTag
	binary.LittleEndian.PutUint32(data[1:5], uint32(h.NextLeafPage))
	binary.LittleEndian.PutUint16(data[5:7], uint16(h.RecIdPtr))
	binary.LittleEndian.PutUint16(data[7:9], uint16(h.KeyPtr))
	binary.LittleEndian.PutUint16(data[9:11], uint16(h.FreeListPtr))
	binary.LittleEndian.PutUint16(data[11:13], uint16(h.NumInFreeList))
	data[13] = h.AttrLength
	binary.LittleEndian.PutUint16(data[14:16], uint16(h.NumKeys))
	binary.LittleEndian.PutUint16(data[16:18], uint16(h.MaxKeys))
}

func initLeaf(data []byte, pageSize int, attrLen byte, maxKeys int16) {
	for i := range data {
		data[i] = 0
	}
	writeLeafHeader(data, leafHeader{
		NextLeafPage:  noLink,
		RecIdPtr:      int16(pageSize),
		KeyPtr:        int16(leafHeaderSize),
		FreeListPtr:   noOffset,
		NumInFreeList: 0,
		AttrLength:    attrLen,
		NumKeys:       0,
		MaxKeys:       maxKeys,
	})
}

// leafEntrySize is one (key_bytes, chainHeadOffset int16) entry.
func leafEntrySize(attrLen int) int { return attrLen + 2 }

func leafEntryOffset(i int16, attrLen int) int {
	return leafHeaderSize + int(i)*leafEntrySize(attrLen)
}

func readLeafKey(data []byte, i int16, attrLen int) []byte {
	off := leafEntryOffset(i, attrLen)
	return data[off : off+attrLen]
}

func readLeafChainHead(data []byte, i int16, attrLen int) int16 {
	off := leafEntryOffset(i, attrLen) + attrLen
	return int16(binary.LittleEndian.Uint16(data[off : off+2]))
}

func writeLeafEntry(data []byte, i int16, attrLen int, key []byte, chainHead int16) {
	off := leafEntryOffset(i, attrLen)
	copy(data[off:off+attrLen], key)
	binary.LittleEndian.PutUint16(data[off+attrLen:off+attrLen+2], uint16(chainHead))
}

func writeLeafChainHead(data []byte, i int16, attrLen int, chainHead int16) {
	off := leafEntryOffset(i, attrLen) + attrLen
	binary.LittleEndian.PutUint16(data[off:off+2], uint16(chainHead))
}

func readChainNode(data []byte, off int16) (recID RecID, next int16) {
	return RecID(int32(binary.LittleEndian.Uint32(data[off : off+4]))),
		int16(binary.LittleEndian.Uint16(data[off+4 : off+6]))
}

func writeChainNode(data []byte, off int16, recID RecID, next int16) {
	binary.LittleEndian.PutUint32(data[off:off+4], uint32(int32(recID)))
	binary.LittleEndian.PutUint16(data[off+4:off+6], uint16(next))
}

// leafFreeGap is recIdPtr - keyPtr, the space available for growth.
func leafFreeGap(h leafHeader) int { return int(h.RecIdPtr) - int(h.KeyPtr) }

type internalHeader struct {
	NumKeys    int16
	MaxKeys    int16
	AttrLength byte
}

func readInternalHeader(data []byte) internalHeader {
	return internalHeader{
		NumKeys:    int16(binary.LittleEndian.Uint16(data[1:3])),
		MaxKeys:    int16(binary.LittleEndian.Uint16(data[3:5])),
		AttrLength: data[5],
	}
}

func writeInternalHeader(data []byte, h internalHeader) {
	data[0] = internalTag
	binary.LittleEndian.PutUint16(data[1:3], uint16(h.NumKeys))
	binary.LittleEndian.PutUint16(data[3:5], uint16(h.MaxKeys))
	data[5] = h.AttrLength
}

// internalEntrySize is one (key_bytes, childPage int32) entry.
func internalEntrySize(attrLen int) int { return attrLen + 4 }

func internalFirstChildOffset() int { return internalHeaderSize }

func readInternalFirstChild(data []byte) int32 {
	off := internalFirstChildOffset()
	return int32(binary.LittleEndian.Uint32(data[off : off+4]))
}

func writeInternalFirstChild(data []byte, child int32) {
	off := internalFirstChildOffset()
	binary.LittleEndian.PutUint32(data[off:off+4], uint32(child))
}

func internalEntryOffset(i int16, attrLen int) int {
	return internalFirstChildOffset() + 4 + int(i)*internalEntrySize(attrLen)
}

func readInternalEntry(data []byte, i int16, attrLen int) (key []byte, child int32) {
	off := internalEntryOffset(i, attrLen)
	return data[off : off+attrLen], int32(binary.LittleEndian.Uint32(data[off+attrLen : off+attrLen+4]))
}

func writeInternalEntry(data []byte, i int16, attrLen int, key []byte, child int32) {
	off := internalEntryOffset(i, attrLen)
	copy(data[off:off+attrLen], key)
	binary.LittleEndian.PutUint32(data[off+attrLen:off+attrLen+4], uint32(child))
}

func initInternal(data []byte, attrLen byte, maxKeys int16, firstChild int32) {
	for i := range data {
		data[i] = 0
	}
	writeInternalHeader(data, internalHeader{NumKeys: 0, MaxKeys: maxKeys, AttrLength: attrLen})
	writeInternalFirstChild(data, firstChild)
}

// maxKeysFor computes how many (key, childPage) entries fit in an
// internal page of the given size, rounded down to even (never below
// 2). Leaf headers record the same value, but how many keys a leaf
// holds is decided by its free bytes (leafFreeGap), not by this count.
func maxKeysFor(pageSize int, attrLen int) int16 {
	n := (pageSize - internalHeaderSize - 4) / (4 + attrLen)
	if n%2 != 0 {
		n--
	}
	if n < 2 {
		n = 2
	}
	return int16(n)
}
