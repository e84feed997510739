// Package hf implements the slotted-page heap file on top of pf: a
// per-page record area growing up from a free-space header, a slot
// directory growing down from the page end, and a free-space list
// threading pages with room for another insert.
package hf

import "encoding/binary"

// headerSize is the {nextFreePage int32, slotCount int16, freeStart
// int16, freeEnd int16} page header.
const headerSize = 10

// slotSize is one {offset int16, length int16} directory entry.
const slotSize = 4

// tombstone marks a slot whose record has been deleted.
const tombstone = int16(-1)

// notListed marks a page's nextFreePage as absent from the free list.
const notListed = int32(-1)

type pageHeader struct {
	NextFreePage int32
	SlotCount    int16
	FreeStart    int16
	FreeEnd      int16
}

func readHeader(data []byte) pageHeader {
	return pageHeader{
		NextFreePage: int32(binary.LittleEndian.Uint32(data[0:4])),
		SlotCount:    int16(binary.LittleEndian.Uint16(data[4:6])),
		FreeStart:    int16(binary.LittleEndian.Uint16(data[6:8])),
		FreeEnd:      int16(binary.LittleEndian.Uint16(data[8:10])),
	}
}

func writeHeader(data []byte, h pageHeader) {
	binary.LittleEndian.PutUint32(data[0:4], uint32(h.NextFreePage))
	binary.LittleEndian.PutUint16(data[4:6], uint16(h.SlotCount))
	binary.LittleEndian.PutUint16(data[6:8], uint16(h.FreeStart))
	binary.LittleEndian.PutUint16(data[8:10], uint16(h.FreeEnd))
}

func initPage(data []byte, pageSize int) {
	for i := range data {
		data[i] = 0
	}
	writeHeader(data, pageHeader{
		NextFreePage: notListed,
		SlotCount:    0,
		FreeStart:    int16(headerSize),
		FreeEnd:      int16(pageSize),
	})
}

// slotAt returns the byte offset of slot i's directory entry. Slot 0
// sits immediately before the page end, slot i at P-(i+1)*slotSize.
func slotAt(pageSize int, i int16) int {
	return pageSize - (int(i)+1)*slotSize
}

func readSlot(data []byte, pageSize int, i int16) (offset, length int16) {
	off := slotAt(pageSize, i)
	return int16(binary.LittleEndian.Uint16(data[off : off+2])),
		int16(binary.LittleEndian.Uint16(data[off+2 : off+4]))
}

func writeSlot(data []byte, pageSize int, i, offset, length int16) {
	off := slotAt(pageSize, i)
	binary.LittleEndian.PutUint16(data[off:off+2], uint16(offset))
	binary.LittleEndian.PutUint16(data[off+2:off+4], uint16(length))
}

// effectiveFree is the usable space for one more record of arbitrary
// length plus its slot directory entry.
func effectiveFree(h pageHeader) int {
	return int(h.FreeEnd) - int(h.FreeStart) - slotSize
}
