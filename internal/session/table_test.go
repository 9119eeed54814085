package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embarknet/udprelay/internal/netaddr"
)

func addrN(n int) netaddr.Address {
	return netaddr.MustParse(fmt.Sprintf("10.%d.%d.%d:%d", (n>>16)&0xFF, (n>>8)&0xFF, n&0xFF, 20000+n))
}

func TestInsertThenGetAllKeys(t *testing.T) {
	tbl := New(4096)

	const n = 2000 // <= C/2
	for i := 0; i < n; i++ {
		tbl.Insert(addrN(i), i)
	}
	for i := 0; i < n; i++ {
		require.Equalf(t, i, tbl.Get(addrN(i)), "key %d", i)
	}
}

func TestSurvivesOneSwap(t *testing.T) {
	tbl := New(256)
	tbl.Insert(addrN(1), 111)

	tbl.Swap()

	require.Equal(t, 111, tbl.Get(addrN(1)), "entry should survive one swap")
}

func TestGoneAfterTwoSwapsNoAccess(t *testing.T) {
	tbl := New(256)
	tbl.Insert(addrN(1), 111)

	tbl.Swap()
	tbl.Swap()

	require.Equal(t, -1, tbl.Get(addrN(1)), "entry should be gone after two swaps with no intervening access")
}

func TestGetPromotesFromPreviousEpoch(t *testing.T) {
	tbl := New(256)
	tbl.Insert(addrN(1), 111)
	tbl.Swap()

	// First Get finds it in the previous epoch and promotes it to current.
	require.Equal(t, 111, tbl.Get(addrN(1)))

	// A second swap would normally make a previous-epoch-only entry vanish,
	// but since the promotion re-inserted it into the (new) current epoch,
	// it must still be retrievable directly afterward.
	tbl.Swap()
	require.Equal(t, 111, tbl.Get(addrN(1)), "promoted entry should survive the next swap")
}

func TestUpdateReturnsTrueOnlyWhenAbsent(t *testing.T) {
	tbl := New(256)

	require.True(t, tbl.Update(addrN(1), 111), "first Update of a new key should insert and return true")
	require.False(t, tbl.Update(addrN(1), 222), "Update of an already-present key must not overwrite and must return false")
	require.Equal(t, 111, tbl.Get(addrN(1)), "value must be unchanged after a no-op Update")
}

func TestGetMissReturnsNegativeOne(t *testing.T) {
	tbl := New(256)
	require.Equal(t, -1, tbl.Get(addrN(42)))
}

func TestLoadFactorUnderHalfNeverFails(t *testing.T) {
	tbl := New(4096)
	for i := 0; i < 2048; i++ {
		tbl.Insert(addrN(i), i)
	}
	for i := 0; i < 2048; i++ {
		require.Equalf(t, i, tbl.Get(addrN(i)), "key %d should resolve at <50%% load", i)
	}
}
