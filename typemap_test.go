package mpi

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorMapGeometry(t *testing.T) {
	var tt typeTable
	h, err := tt.TypeVector(3, 2, 4, hInt32)
	require.NoError(t, err)
	tm, err := tt.lookup(h)
	require.NoError(t, err)

	// Three blocks of two int32, block starts 4 elements apart.
	assert.Equal(t, Address(40), tm.extent())
	assert.Equal(t, Address(24), tm.packed)
	assert.Equal(t, []typeSegment{{0, 8}, {16, 8}, {32, 8}}, tm.segs)
}

func TestNegativeStrideCoalesces(t *testing.T) {
	var tt typeTable
	h, err := tt.TypeVector(2, 1, -1, hInt32)
	require.NoError(t, err)
	tm, err := tt.lookup(h)
	require.NoError(t, err)

	// Blocks at 0 and -4 are adjacent once sorted, so they merge.
	assert.Equal(t, []typeSegment{{-4, 8}}, tm.segs)
	assert.Equal(t, Address(-4), tm.lb)
	assert.Equal(t, Address(4), tm.ub)
}

func TestPackUnpackLeavesGapsUntouched(t *testing.T) {
	var tt typeTable
	h, err := tt.TypeVector(3, 2, 4, hInt32)
	require.NoError(t, err)
	tm, err := tt.lookup(h)
	require.NoError(t, err)

	src := [12]int32{}
	for i := range src {
		src[i] = int32(i + 1)
	}
	payload := tm.pack(unsafe.Pointer(&src[0]), 1)
	require.Len(t, payload, 24)

	dst := [12]int32{}
	for i := range dst {
		dst[i] = -1
	}
	require.NoError(t, tm.unpack(unsafe.Pointer(&dst[0]), 1, payload))

	want := [12]int32{1, 2, -1, -1, 5, 6, -1, -1, 9, 10, -1, -1}
	assert.Equal(t, want, dst)
}

func TestUnpackRejectsShortPayload(t *testing.T) {
	var tt typeTable
	tm, err := tt.lookup(hInt64)
	require.NoError(t, err)

	var v int64
	assert.Error(t, tm.unpack(unsafe.Pointer(&v), 1, []byte{1, 2, 3}))
}

func TestContiguousOfVectorExtent(t *testing.T) {
	var tt typeTable
	vec, err := tt.TypeVector(2, 1, 3, hInt32)
	require.NoError(t, err)
	h, err := tt.TypeContiguous(2, vec)
	require.NoError(t, err)
	tm, err := tt.lookup(h)
	require.NoError(t, err)

	// The inner vector spans 16 bytes with 8 of data; two copies
	// back to back.
	assert.Equal(t, Address(32), tm.extent())
	assert.Equal(t, Address(16), tm.packed)
}

func TestIndexedMapDisplacements(t *testing.T) {
	var tt typeTable
	h, err := tt.TypeIndexed([]Count{1, 2}, []Count{5, 1}, hInt32)
	require.NoError(t, err)
	tm, err := tt.lookup(h)
	require.NoError(t, err)

	assert.Equal(t, []typeSegment{{4, 8}, {20, 4}}, tm.segs)
	assert.Equal(t, Address(4), tm.lb)
	assert.Equal(t, Address(24), tm.ub)
}

func TestHeterogeneousDisplacementsAreBytes(t *testing.T) {
	var tt typeTable
	h, err := tt.TypeHIndexedBlock(1, []Address{0, 6}, hInt16)
	require.NoError(t, err)
	tm, err := tt.lookup(h)
	require.NoError(t, err)

	assert.Equal(t, []typeSegment{{0, 2}, {6, 2}}, tm.segs)
	assert.Equal(t, Address(8), tm.extent())
}

func TestTypeTableErrors(t *testing.T) {
	var tt typeTable

	_, err := tt.TypeContiguous(-1, hInt32)
	assert.Error(t, err)

	_, err = tt.TypeContiguous(1, TypeHandle(999))
	assert.Error(t, err)

	_, err = tt.TypeIndexed([]Count{1}, []Count{0, 1}, hInt32)
	assert.Error(t, err)

	_, err = tt.TypeFree(hInt32)
	assert.Error(t, err, "system datatypes are not freeable")

	_, err = tt.TypeFree(TypeHandle(999))
	assert.Error(t, err)

	h, err := tt.TypeContiguous(2, hFloat64)
	require.NoError(t, err)
	null, err := tt.TypeFree(h)
	require.NoError(t, err)
	assert.Equal(t, TypeNull, null)
	_, err = tt.lookup(h)
	assert.Error(t, err, "freed handles are forgotten")
}
