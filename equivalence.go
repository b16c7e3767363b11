package mpi

import (
	"math"
	"strconv"
	"unsafe"
)

// Scalar is the closed set of machine scalar types with a direct equivalence
// to a system datatype. The pointer-sized integer types int, uint and uintptr
// map to the fixed-width system datatype of matching bit width. No other type
// may be added to the set: user-defined structured types must compose a
// UserDatatype and present it through a View or MutView instead.
type Scalar interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 |
		int | uint | uintptr
}

// System datatypes for the scalar equivalence set. They are process-wide
// constants, valid for the life of the runtime, and are never freed.
var (
	Int8    = SystemDatatype{hInt8}
	Int16   = SystemDatatype{hInt16}
	Int32   = SystemDatatype{hInt32}
	Int64   = SystemDatatype{hInt64}
	Uint8   = SystemDatatype{hUint8}
	Uint16  = SystemDatatype{hUint16}
	Uint32  = SystemDatatype{hUint32}
	Uint64  = SystemDatatype{hUint64}
	Float32 = SystemDatatype{hFloat32}
	Float64 = SystemDatatype{hFloat64}
)

// TypeOf returns the system datatype equivalent to the scalar type T.
func TypeOf[T Scalar]() SystemDatatype {
	var v T
	switch any(v).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case uint:
		if strconv.IntSize == 32 {
			return Uint32
		}
		return Uint64
	case uintptr:
		if unsafe.Sizeof(v) == 4 {
			return Uint32
		}
		return Uint64
	}
	panic("mpi: type outside the scalar equivalence set")
}

// Value adapts a single scalar value to the buffer capabilities: its count is
// one, its datatype is the system datatype of T, and its address is the
// address of the value. A Value is both a Buffer and a BufferMut.
type Value[T Scalar] struct {
	ref *T
}

// ValueOf returns the buffer describing the single scalar *p.
func ValueOf[T Scalar](p *T) Value[T] {
	return Value[T]{ref: p}
}

func (v Value[T]) Datatype() Datatype { return TypeOf[T]() }

func (v Value[T]) Count() Count { return 1 }

func (v Value[T]) Addr() unsafe.Pointer { return unsafe.Pointer(v.ref) }

func (v Value[T]) AddrMut() unsafe.Pointer { return unsafe.Pointer(v.ref) }

// Slice adapts a slice of scalars to the buffer capabilities: its count is
// the slice length, its datatype is the system datatype of the element type,
// and its address is the address of the first element. A Slice is both a
// Buffer and a BufferMut.
type Slice[T Scalar] []T

// SliceOf returns the buffer describing the elements of s.
func SliceOf[T Scalar](s []T) Slice[T] {
	return Slice[T](s)
}

func (s Slice[T]) Datatype() Datatype { return TypeOf[T]() }

// Count returns the slice length. It panics if the length cannot be
// represented as a Count; silently truncating would describe a shorter
// buffer than the caller holds.
func (s Slice[T]) Count() Count {
	if uint64(len(s)) > math.MaxInt32 {
		panic("mpi: slice length cannot be expressed as a Count")
	}
	return Count(len(s))
}

func (s Slice[T]) Addr() unsafe.Pointer { return unsafe.Pointer(unsafe.SliceData(s)) }

func (s Slice[T]) AddrMut() unsafe.Pointer { return unsafe.Pointer(unsafe.SliceData(s)) }
