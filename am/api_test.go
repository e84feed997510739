package am_test

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryogrid/stonedb/am"
	"github.com/ryogrid/stonedb/pf"
	"github.com/ryogrid/stonedb/stoneconfig"
	"github.com/ryogrid/stonedb/stoneerr"
)

func newAM(t *testing.T, pageSize uint32, attrType am.AttrType, attrLen byte) (*am.Manager, int) {
	t.Helper()
	cfg := stoneconfig.Default()
	cfg.PageSize = pageSize
	cfg.MaxBufs = 40
	pfm := pf.NewMemoryManager(cfg)
	m := am.NewManager(pfm, cfg)
	require.NoError(t, m.CreateMemoryFile("idx", attrType, attrLen))
	fd, err := m.OpenFile("idx")
	require.NoError(t, err)
	return m, fd
}

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func drainScan(t *testing.T, m *am.Manager, sd int) []am.RecID {
	t.Helper()
	var out []am.RecID
	for {
		rec, err := m.FindNextEntry(sd)
		if stoneerr.Is(err, stoneerr.Eof) {
			break
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
	require.NoError(t, m.CloseIndexScan(sd))
	return out
}

func TestAMIntIndexEqualDeleteAndRange(t *testing.T) {
	m, fd := newAM(t, 128, am.Int32, 4)

	for i := int32(0); i < 20; i++ {
		require.NoError(t, m.InsertEntry(fd, encodeInt32(i), am.RecID(i)))
	}
	height, err := m.Height(fd)
	require.NoError(t, err)
	require.GreaterOrEqual(t, height, 1, "20 keys should overflow a single leaf's maxKeys")

	for i := int32(1); i < 20; i += 2 {
		require.NoError(t, m.DeleteEntry(fd, encodeInt32(i), am.RecID(i)))
	}

	sd, err := m.OpenIndexScan(fd, am.OpEqual, nil)
	require.NoError(t, err)
	got := drainScan(t, m, sd)
	require.Len(t, got, 10)
	for i, rec := range got {
		require.Equal(t, am.RecID(i*2), rec)
	}

	// a deleted odd key's equality scan finds nothing.
	sd, err = m.OpenIndexScan(fd, am.OpEqual, encodeInt32(7))
	require.NoError(t, err)
	_, err = m.FindNextEntry(sd)
	require.True(t, stoneerr.Is(err, stoneerr.Eof))
	require.NoError(t, m.CloseIndexScan(sd))

	const n = 2000
	for i := int32(0); i < 20; i += 2 {
		require.NoError(t, m.DeleteEntry(fd, encodeInt32(i), am.RecID(i)))
	}

	for i := int32(0); i < n; i++ {
		require.NoError(t, m.InsertEntry(fd, encodeInt32(i), am.RecID(i)))
	}
	for i := int32(0); i < n; i++ {
		require.NoError(t, m.DeleteEntry(fd, encodeInt32(i), am.RecID(i)))
	}
	sd, err = m.OpenIndexScan(fd, am.OpAll, nil)
	require.NoError(t, err)
	require.Empty(t, drainScan(t, m, sd))

	for i := int32(0); i < n; i++ {
		require.NoError(t, m.InsertEntry(fd, encodeInt32(i), am.RecID(i)))
	}

	sd, err = m.OpenIndexScan(fd, am.OpLessThan, encodeInt32(100))
	require.NoError(t, err)
	lt := drainScan(t, m, sd)
	require.Len(t, lt, 100)
	for i, rec := range lt {
		require.Equal(t, am.RecID(i), rec)
	}

	sd, err = m.OpenIndexScan(fd, am.OpGreaterThan, encodeInt32(150))
	require.NoError(t, err)
	gt := drainScan(t, m, sd)
	require.Len(t, gt, n-151)
	for i, rec := range gt {
		require.Equal(t, am.RecID(151+i), rec)
	}
}

func TestAMBulkLoadEquivalence(t *testing.T) {
	const n = 500
	pairs := make([]am.BulkEntry, n)
	for i := 0; i < n; i++ {
		pairs[i] = am.BulkEntry{Key: encodeInt32(int32(i)), Rec: am.RecID(i * 10)}
	}

	shuffled := append([]am.BulkEntry(nil), pairs...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cfg := stoneconfig.Default()
	cfg.PageSize = 128
	cfg.MaxBufs = 40

	pfA := pf.NewMemoryManager(cfg)
	a := am.NewManager(pfA, cfg)
	require.NoError(t, a.CreateMemoryFile("A", am.Int32, 4))
	fdA, err := a.OpenFile("A")
	require.NoError(t, err)
	for _, p := range shuffled {
		require.NoError(t, a.InsertEntry(fdA, p.Key, p.Rec))
	}

	pfB := pf.NewMemoryManager(cfg)
	b := am.NewManager(pfB, cfg)
	require.NoError(t, b.BulkLoad("B", am.Int32, 4, pairs))
	fdB, err := b.OpenFile("B")
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		key := encodeInt32(int32(i))

		sdA, err := a.OpenIndexScan(fdA, am.OpEqual, key)
		require.NoError(t, err)
		gotA := drainScan(t, a, sdA)

		sdB, err := b.OpenIndexScan(fdB, am.OpEqual, key)
		require.NoError(t, err)
		gotB := drainScan(t, b, sdB)

		require.ElementsMatch(t, gotA, gotB)
	}

	sdA, err := a.OpenIndexScan(fdA, am.OpAll, nil)
	require.NoError(t, err)
	allA := drainScan(t, a, sdA)

	sdB, err := b.OpenIndexScan(fdB, am.OpAll, nil)
	require.NoError(t, err)
	allB := drainScan(t, b, sdB)

	require.Equal(t, allA, allB)
	require.Len(t, allA, n)
}

func TestAMSearchMiss(t *testing.T) {
	m, fd := newAM(t, 128, am.Int32, 4)
	require.NoError(t, m.InsertEntry(fd, encodeInt32(5), am.RecID(5)))
	err := m.DeleteEntry(fd, encodeInt32(9), am.RecID(9))
	require.True(t, stoneerr.Is(err, stoneerr.NotFound))
}
