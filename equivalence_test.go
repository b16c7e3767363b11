package mpi

import (
	"strconv"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestTypeOfFixedWidth(t *testing.T) {
	assert.Equal(t, Int8, TypeOf[int8]())
	assert.Equal(t, Int16, TypeOf[int16]())
	assert.Equal(t, Int32, TypeOf[int32]())
	assert.Equal(t, Int64, TypeOf[int64]())
	assert.Equal(t, Uint8, TypeOf[uint8]())
	assert.Equal(t, Uint16, TypeOf[uint16]())
	assert.Equal(t, Uint32, TypeOf[uint32]())
	assert.Equal(t, Uint64, TypeOf[uint64]())
	assert.Equal(t, Float32, TypeOf[float32]())
	assert.Equal(t, Float64, TypeOf[float64]())
}

func TestTypeOfPointerSized(t *testing.T) {
	if strconv.IntSize == 64 {
		assert.Equal(t, Int64, TypeOf[int]())
		assert.Equal(t, Uint64, TypeOf[uint]())
	} else {
		assert.Equal(t, Int32, TypeOf[int]())
		assert.Equal(t, Uint32, TypeOf[uint]())
	}
	var p uintptr
	if unsafe.Sizeof(p) == 8 {
		assert.Equal(t, Uint64, TypeOf[uintptr]())
	} else {
		assert.Equal(t, Uint32, TypeOf[uintptr]())
	}
}

func TestValueBuffer(t *testing.T) {
	x := int32(7)
	v := ValueOf(&x)
	assert.Equal(t, Count(1), v.Count())
	assert.Equal(t, Int32.Raw(), v.Datatype().Raw())
	assert.Equal(t, unsafe.Pointer(&x), v.Addr())
	assert.Equal(t, unsafe.Pointer(&x), v.AddrMut())
}

func TestSliceBuffer(t *testing.T) {
	s := []float64{1, 2, 3}
	b := SliceOf(s)
	assert.Equal(t, Count(3), b.Count())
	assert.Equal(t, Float64.Raw(), b.Datatype().Raw())
	assert.Equal(t, unsafe.Pointer(&s[0]), b.Addr())
}

func TestSliceCountOverflowPanics(t *testing.T) {
	if strconv.IntSize == 32 {
		t.Skip("cannot build an oversized slice header on a 32-bit platform")
	}
	// Build a slice header longer than any Count can express without
	// touching the memory it claims to reach.
	var b byte
	big := unsafe.Slice(&b, 1<<31)
	assert.Panics(t, func() { SliceOf(big).Count() })
}
