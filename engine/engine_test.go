package engine_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryogrid/stonedb/am"
	"github.com/ryogrid/stonedb/engine"
	"github.com/ryogrid/stonedb/hf"
	"github.com/ryogrid/stonedb/stoneconfig"
)

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

// TestEngineRelationAndIndex drives the whole stack the way a caller
// would: insert records into a heap file, index each by an int32
// field, then resolve an equality lookup through the index down to
// the heap record it names.
func TestEngineRelationAndIndex(t *testing.T) {
	cfg := stoneconfig.Default()
	cfg.PageSize = 256
	cfg.MaxBufs = 40

	e := engine.NewMemory(cfg)
	require.NoError(t, e.CreateMemoryRelation("widgets"))
	hfd, err := e.HF.OpenFile("widgets")
	require.NoError(t, err)

	require.NoError(t, e.CreateMemoryIndex("widgets", 0, am.Int32, 4))
	afd, err := e.AM.OpenFile(engine.IndexFileName("widgets", 0))
	require.NoError(t, err)

	type row struct {
		id  int32
		rid hf.RID
	}
	var rows []row
	for id := int32(0); id < 30; id++ {
		rid, err := e.HF.InsertRecord(hfd, []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)})
		require.NoError(t, err)
		rows = append(rows, row{id: id, rid: rid})
		// RID packs into the index's RecID payload as page<<16|slot,
		// reversible below, matching an engine-level caller's choice.
		packed := am.RecID(int64(rid.Page)<<16 | int64(rid.Slot))
		require.NoError(t, e.AM.InsertEntry(afd, encodeInt32(id), packed))
	}

	for _, r := range rows {
		sd, err := e.AM.OpenIndexScan(afd, am.OpEqual, encodeInt32(r.id))
		require.NoError(t, err)
		rec, err := e.AM.FindNextEntry(sd)
		require.NoError(t, err)
		require.NoError(t, e.AM.CloseIndexScan(sd))

		rid := hf.RID{Page: int32(rec >> 16), Slot: int16(rec & 0xffff)}
		require.Equal(t, r.rid, rid)

		data, err := e.HF.GetRecord(hfd, rid)
		require.NoError(t, err)
		require.Equal(t, byte(r.id), data[0])
	}

	stats := e.Stats()
	require.Greater(t, stats.Hits+stats.Misses, uint64(0))
}
