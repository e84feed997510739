package am

import "encoding/binary"

// metaPage is the fixed PF page holding the index's tree-wide state:
// the root page number (relocated on every root split, per spec),
// the leftmost leaf (tracked explicitly rather than rediscovered by
// walking left siblings), and the attribute shape fixed at creation.
const metaPage int32 = 0

type metaHeader struct {
	RootPage     int32
	LeftmostLeaf int32
	AttrType     AttrType
	AttrLength   byte
	MaxKeys      int16
}

const metaHeaderSize = 4 + 4 + 1 + 1 + 2

func readMetaHeader(data []byte) metaHeader {
	return metaHeader{
		RootPage:     int32(binary.LittleEndian.Uint32(data[0:4])),
		LeftmostLeaf: int32(binary.LittleEndian.Uint32(data[4:8])),
		AttrType:     AttrType(data[8]),
		AttrLength:   data[9],
		MaxKeys:      int16(binary.LittleEndian.Uint16(data[10:12])),
	}
}

func writeMetaHeader(data []byte, h metaHeader) {
	binary.LittleEndian.PutUint32(data[0:4], uint32(h.RootPage))
	binary.LittleEndian.PutUint32(data[4:8], uint32(h.LeftmostLeaf))
	data[8] = byte(h.AttrType)
	data[9] = h.AttrLength
	binary.LittleEndian.PutUint16(data[10:12], uint16(h.MaxKeys))
}
