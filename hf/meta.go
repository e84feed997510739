package hf

import "encoding/binary"

// metaPage is the fixed PF page number holding the heap file's
// bookkeeping: the free-space list head. Data pages occupy every PF
// page after it, and a full scan walks them in that same PF page
// order, so no separate firstDataPage pointer is needed.
const metaPage int32 = 0

type metaHeader struct {
	FirstFreePage int32
}

func readMetaHeader(data []byte) metaHeader {
	return metaHeader{FirstFreePage: int32(binary.LittleEndian.Uint32(data[0:4]))}
}

func writeMetaHeader(data []byte, h metaHeader) {
	binary.LittleEndian.PutUint32(data[0:4], uint32(h.FirstFreePage))
}
