package pf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryogrid/stonedb/pf"
	"github.com/ryogrid/stonedb/stoneconfig"
	"github.com/ryogrid/stonedb/stoneerr"
)

func testConfig(maxBufs int) stoneconfig.Config {
	cfg := stoneconfig.Default()
	cfg.PageSize = 64
	cfg.MaxBufs = maxBufs
	return cfg
}

func TestPFBasic(t *testing.T) {
	m := pf.NewMemoryManager(testConfig(10))
	require.NoError(t, m.CreateMemoryFile("f"))
	fd, err := m.OpenFile("f")
	require.NoError(t, err)

	for i := int32(0); i < 3; i++ {
		pn, data, err := m.AllocPage(fd)
		require.NoError(t, err)
		require.Equal(t, i, pn)
		data[0] = byte(i)
		require.NoError(t, m.UnfixPage(fd, pn, true))
	}
	require.NoError(t, m.CloseFile(fd))

	fd, err = m.OpenFile("f")
	require.NoError(t, err)

	var got []byte
	pn, guard, data, err := m.GetFirstPage(fd)
	require.NoError(t, err)
	got = append(got, data[0])
	require.NoError(t, guard.Unfix(false))

	for i := 0; i < 2; i++ {
		pn, guard, data, err = m.GetNextPage(fd, pn)
		require.NoError(t, err)
		got = append(got, data[0])
		require.NoError(t, guard.Unfix(false))
	}

	require.Equal(t, []byte{0, 1, 2}, got)

	_, _, _, err = m.GetNextPage(fd, pn)
	require.True(t, stoneerr.Is(err, stoneerr.Eof))
}

func TestPFEviction(t *testing.T) {
	m := pf.NewMemoryManager(testConfig(3))
	require.NoError(t, m.CreateMemoryFile("f"))
	fd, err := m.OpenFile("f")
	require.NoError(t, err)

	for i := int32(0); i < 4; i++ {
		pn, _, err := m.AllocPage(fd)
		require.NoError(t, err)
		require.Equal(t, i, pn)
		require.NoError(t, m.UnfixPage(fd, pn, false))
	}

	guards := make([]*pf.PinGuard, 3)
	for i := int32(0); i < 3; i++ {
		g, _, err := m.GetThisPage(fd, i)
		require.NoError(t, err)
		guards[i] = g
	}

	_, _, err = m.GetThisPage(fd, 3)
	require.Error(t, err)
	require.True(t, stoneerr.Is(err, stoneerr.NoBuf))

	require.NoError(t, guards[0].Unfix(false))

	g3, _, err := m.GetThisPage(fd, 3)
	require.NoError(t, err)
	require.NoError(t, g3.Unfix(false))

	_, _, err = m.GetThisPage(fd, 0)
	require.NoError(t, err)

	stats := m.Stats()
	require.GreaterOrEqual(t, stats.Evictions, uint64(1))
}

func TestPFDisposeAndReuse(t *testing.T) {
	m := pf.NewMemoryManager(testConfig(10))
	require.NoError(t, m.CreateMemoryFile("f"))
	fd, err := m.OpenFile("f")
	require.NoError(t, err)

	pn0, _, err := m.AllocPage(fd)
	require.NoError(t, err)
	require.NoError(t, m.UnfixPage(fd, pn0, true))

	pn1, _, err := m.AllocPage(fd)
	require.NoError(t, err)
	require.NoError(t, m.UnfixPage(fd, pn1, true))

	require.NoError(t, m.DisposePage(fd, pn0))
	require.Error(t, m.DisposePage(fd, pn0))

	pn2, _, err := m.AllocPage(fd)
	require.NoError(t, err)
	require.Equal(t, pn0, pn2)
	require.NoError(t, m.UnfixPage(fd, pn2, true))
}

func TestPFDoubleUnfixFails(t *testing.T) {
	m := pf.NewMemoryManager(testConfig(10))
	require.NoError(t, m.CreateMemoryFile("f"))
	fd, err := m.OpenFile("f")
	require.NoError(t, err)

	pn, _, err := m.AllocPage(fd)
	require.NoError(t, err)
	require.NoError(t, m.UnfixPage(fd, pn, true))

	err = m.UnfixPage(fd, pn, true)
	require.True(t, stoneerr.Is(err, stoneerr.PageUnfixed))
}

func TestPFCloseWithPinFails(t *testing.T) {
	m := pf.NewMemoryManager(testConfig(10))
	require.NoError(t, m.CreateMemoryFile("f"))
	fd, err := m.OpenFile("f")
	require.NoError(t, err)

	_, _, err = m.AllocPage(fd)
	require.NoError(t, err)

	err = m.CloseFile(fd)
	require.True(t, stoneerr.Is(err, stoneerr.PageFixed))
}
