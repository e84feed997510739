package hf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryogrid/stonedb/hf"
	"github.com/ryogrid/stonedb/pf"
	"github.com/ryogrid/stonedb/stoneconfig"
	"github.com/ryogrid/stonedb/stoneerr"
)

func newHF(t *testing.T, pageSize uint32) (*hf.Manager, int) {
	t.Helper()
	cfg := stoneconfig.Default()
	cfg.PageSize = pageSize
	cfg.MaxBufs = 20
	pfm := pf.NewMemoryManager(cfg)
	m := hf.NewManager(pfm)
	require.NoError(t, m.CreateMemoryFile("f"))
	fd, err := m.OpenFile("f")
	require.NoError(t, err)
	return m, fd
}

func scanAll(t *testing.T, m *hf.Manager, fd int) map[hf.RID]string {
	t.Helper()
	s, err := m.ScanOpen(fd)
	require.NoError(t, err)
	out := map[hf.RID]string{}
	for {
		rid, rec, err := s.ScanNext()
		if stoneerr.Is(err, stoneerr.Eof) {
			break
		}
		require.NoError(t, err)
		out[rid] = string(rec)
	}
	return out
}

func TestHFInsertScanDelete(t *testing.T) {
	m, fd := newHF(t, 256)

	ridAlpha, err := m.InsertRecord(fd, []byte("alpha"))
	require.NoError(t, err)
	_, err = m.InsertRecord(fd, []byte("beta"))
	require.NoError(t, err)
	_, err = m.InsertRecord(fd, []byte("gamma"))
	require.NoError(t, err)

	values := func(m map[hf.RID]string) []string {
		var v []string
		for _, s := range m {
			v = append(v, s)
		}
		return v
	}

	got := scanAll(t, m, fd)
	require.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, values(got))

	var betaRID hf.RID
	for rid, s := range got {
		if s == "beta" {
			betaRID = rid
		}
	}
	require.NoError(t, m.DeleteRecord(fd, betaRID))

	got = scanAll(t, m, fd)
	require.ElementsMatch(t, []string{"alpha", "gamma"}, values(got))

	require.NoError(t, m.DeleteRecord(fd, betaRID)) // idempotent

	rec, err := m.GetRecord(fd, ridAlpha)
	require.NoError(t, err)
	require.Equal(t, "alpha", string(rec))
}

func TestHFUpdateGrowMovesRID(t *testing.T) {
	m, fd := newHF(t, 512)

	small := make([]byte, 10)
	rid, err := m.InsertRecord(fd, small)
	require.NoError(t, err)

	// a grown update can never fit in its original slot, which is
	// capacity-checked against the old record length, not the page's
	// current free space.
	big := make([]byte, 200)
	newRID, err := m.UpdateRecord(fd, rid, big)
	require.NoError(t, err)
	require.NotEqual(t, rid, newRID)

	_, err = m.GetRecord(fd, rid)
	require.True(t, stoneerr.Is(err, stoneerr.PageFree))

	got, err := m.GetRecord(fd, newRID)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestHFGetRecordInvalidSlot(t *testing.T) {
	m, fd := newHF(t, 64)
	rid, err := m.InsertRecord(fd, []byte("x"))
	require.NoError(t, err)
	_, err = m.GetRecord(fd, hf.RID{Page: rid.Page, Slot: rid.Slot + 1})
	require.Error(t, err)
	require.True(t, stoneerr.Is(err, stoneerr.InvalidPage))
}
