package mpi

import "unsafe"

// The buffer capabilities are structural: anything that can answer the
// questions below qualifies, so the collective layer is uniformly generic
// over scalar values, slices, views and partitions.

// Typed is the capability of having an associated datatype.
type Typed interface {
	Datatype() Datatype
}

// Counted is the capability of knowing how many elements are described.
type Counted interface {
	Count() Count
}

// Addressed is the capability of providing the starting address of the
// described memory for reading.
type Addressed interface {
	Addr() unsafe.Pointer
}

// AddressedMut is the capability of providing the starting address of the
// described memory for writing.
type AddressedMut interface {
	AddrMut() unsafe.Pointer
}

// Buffer is a readable memory region for a collective operation: Count()
// copies of Datatype() laid out starting at Addr(). A Buffer borrows the
// memory and the datatype for the duration of a single call and never
// outlives it.
type Buffer interface {
	Typed
	Counted
	Addressed
}

// BufferMut is a writable memory region for a collective operation.
type BufferMut interface {
	Typed
	Counted
	AddressedMut
}

// View is a Buffer assembled from independently supplied parts: a raw
// address, an element count and a datatype, bypassing the derivation that
// SliceOf and ValueOf perform. It describes memory the static type system
// cannot express, such as the lower triangle of a dense matrix.
//
// Constructing a View is unchecked: the caller asserts that count copies of
// the datatype's footprint lie within the referenced memory. Violating this
// is undefined behavior at the runtime boundary, exactly as with raw pointer
// arithmetic. Safe call sites should never need a View.
type View struct {
	dt  Datatype
	n   Count
	ptr unsafe.Pointer
}

// NewView returns a view of the memory at ptr holding count instances of
// datatype. See the type documentation for the precondition the caller
// takes on.
func NewView(ptr unsafe.Pointer, count Count, datatype Datatype) View {
	return View{dt: datatype, n: count, ptr: ptr}
}

func (v View) Datatype() Datatype   { return v.dt }
func (v View) Count() Count         { return v.n }
func (v View) Addr() unsafe.Pointer { return v.ptr }

// MutView is the writable variant of View, with the same unchecked
// construction precondition.
type MutView struct {
	dt  Datatype
	n   Count
	ptr unsafe.Pointer
}

// NewMutView returns a mutable view of the memory at ptr holding count
// instances of datatype. See View for the precondition the caller takes on.
func NewMutView(ptr unsafe.Pointer, count Count, datatype Datatype) MutView {
	return MutView{dt: datatype, n: count, ptr: ptr}
}

func (v MutView) Datatype() Datatype      { return v.dt }
func (v MutView) Count() Count            { return v.n }
func (v MutView) AddrMut() unsafe.Pointer { return v.ptr }
