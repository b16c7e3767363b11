package mpi

// Datatype is the capability of holding a raw runtime type-descriptor
// handle. It is satisfied by SystemDatatype and *UserDatatype.
type Datatype interface {
	Raw() TypeHandle
}

// System datatype handles are fixed, so that SystemDatatype values are
// process-wide constants independent of the registered runtime. Every
// runtime implementation seeds its descriptor table with these handles.
const (
	hInt8 TypeHandle = iota + 1
	hInt16
	hInt32
	hInt64
	hUint8
	hUint16
	hUint32
	hUint64
	hFloat32
	hFloat64

	// hFirstUser is the first handle a runtime may assign to a
	// user datatype.
	hFirstUser
)

// SystemDatatype is a pre-defined datatype provided by the runtime for one
// of the scalar equivalence types. It does not own its handle and is freely
// copyable.
type SystemDatatype struct {
	h TypeHandle
}

func (d SystemDatatype) Raw() TypeHandle { return d.h }

// UserDatatype is a datatype constructed by one of the combinators. It owns
// exactly one runtime descriptor handle, committed and ready for
// communication from the moment of construction. The owner must call Free
// exactly once, after any collective operation referencing the datatype has
// returned.
type UserDatatype struct {
	h TypeHandle
}

func (d *UserDatatype) Raw() TypeHandle { return d.h }

// Free releases the runtime descriptor. The handle must equal the runtime's
// null type sentinel afterwards; anything else means the runtime failed to
// release the descriptor and the process state can no longer be trusted.
// Freeing a datatype twice is a programming error and panics.
func (d *UserDatatype) Free() {
	if d.h == TypeNull {
		panic("mpi: user datatype freed twice")
	}
	h, err := active().TypeFree(d.h)
	if err != nil {
		fatal("type_free", err)
	}
	if h != TypeNull {
		panic("mpi: datatype handle not null after free")
	}
	d.h = h
}

// Contiguous constructs a datatype of count back-to-back copies of oldtype.
func Contiguous(count Count, oldtype Datatype) *UserDatatype {
	h, err := active().TypeContiguous(count, oldtype.Raw())
	if err != nil {
		fatal("type_contiguous", err)
	}
	return &UserDatatype{h}
}

// Vector constructs a datatype of count blocks of blocklength copies of
// oldtype, with the starts of consecutive blocks placed stride elements of
// oldtype apart. A stride smaller than blocklength expresses overlapping
// layouts; a negative stride expresses reversed ones.
func Vector(count, blocklength, stride Count, oldtype Datatype) *UserDatatype {
	h, err := active().TypeVector(count, blocklength, stride, oldtype.Raw())
	if err != nil {
		fatal("type_vector", err)
	}
	return &UserDatatype{h}
}

// HeterogeneousVector is Vector with the stride given in bytes rather than
// elements of oldtype, for combining blocks of mismatched size.
func HeterogeneousVector(count, blocklength Count, stride Address, oldtype Datatype) *UserDatatype {
	h, err := active().TypeHVector(count, blocklength, stride, oldtype.Raw())
	if err != nil {
		fatal("type_hvector", err)
	}
	return &UserDatatype{h}
}

// Indexed constructs a datatype of one block per (blocklength, displacement)
// pair. Block i is blocklengths[i] copies of oldtype displaced by
// displacements[i] elements of oldtype. The two slices must have equal
// length.
func Indexed(blocklengths, displacements []Count, oldtype Datatype) *UserDatatype {
	if len(blocklengths) != len(displacements) {
		panic("mpi: indexed datatype needs equally many block lengths and displacements")
	}
	h, err := active().TypeIndexed(blocklengths, displacements, oldtype.Raw())
	if err != nil {
		fatal("type_indexed", err)
	}
	return &UserDatatype{h}
}

// HeterogeneousIndexed is Indexed with displacements given in bytes.
func HeterogeneousIndexed(blocklengths []Count, displacements []Address, oldtype Datatype) *UserDatatype {
	if len(blocklengths) != len(displacements) {
		panic("mpi: indexed datatype needs equally many block lengths and displacements")
	}
	h, err := active().TypeHIndexed(blocklengths, displacements, oldtype.Raw())
	if err != nil {
		fatal("type_hindexed", err)
	}
	return &UserDatatype{h}
}

// IndexedBlock is Indexed with every block sharing the one blocklength; only
// the displacements vary.
func IndexedBlock(blocklength Count, displacements []Count, oldtype Datatype) *UserDatatype {
	h, err := active().TypeIndexedBlock(blocklength, displacements, oldtype.Raw())
	if err != nil {
		fatal("type_indexed_block", err)
	}
	return &UserDatatype{h}
}

// HeterogeneousIndexedBlock is IndexedBlock with displacements given in
// bytes.
func HeterogeneousIndexedBlock(blocklength Count, displacements []Address, oldtype Datatype) *UserDatatype {
	h, err := active().TypeHIndexedBlock(blocklength, displacements, oldtype.Raw())
	if err != nil {
		fatal("type_hindexed_block", err)
	}
	return &UserDatatype{h}
}
