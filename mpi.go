// Package mpi implements an mpi-like collective communication layer for go.
// This package seeks to enable distributed-memory parallel computation using
// only native go code. While this package seeks to present a familiar
// interface to users of MPI, it does not follow the MPI standard exactly. In
// cases where package documentation disagrees with the MPI standard, the
// package documentation should be considered correct.
//
// The Message Passing Interface, MPI [1], is a communications protocol for
// distributed memory systems. In MPI, a single program is executed in parallel
// on different machines, and routines are used to communicate data between
// them. MPI emphasises speed over robustness, and should only be used in
// highly reliable systems, such as a computation cluster.
//
// The package has two halves. The first half describes data: a Datatype is an
// opaque handle to a layout description held by the runtime, starting with
// the system datatypes for the fixed-width machine scalars and composed into
// user datatypes through the combinators (Contiguous, Vector, Indexed and
// their byte-displaced variants). A Buffer is anything that can present a
// (address, count, datatype) triplet to the runtime: values and slices of
// scalar types through ValueOf and SliceOf, arbitrary memory through View and
// MutView, and per-participant subdivisions through Partition and
// PartitionMut.
//
// The second half is the collective protocol layer: Barrier,
// ImmediateBarrier, BroadcastInto, GatherInto, AllGatherInto, ScatterInto and
// AllToAllInto. Each takes a Communicator (or a Root, for the asymmetric
// operations) and one or two buffers, and forwards the raw triplets to the
// runtime boundary. All participants of a communicator must call the same
// collective operations in the same order; the layer does not detect
// mismatched call sequences.
//
// The runtime boundary is the Runtime interface. Implementations should
// normally be registered during an init() function of package main. Two
// implementations ship with the package: Mesh runs every participant as a
// goroutine in a single process and is the natural choice for tests and
// prototyping, and Network connects separate processes with an all-to-all
// set of TCP connections.
//
// Misuse of the data-description layer is a programming error, not an
// operating condition: precondition violations (mismatched combinator
// arguments, partitions that exceed their buffer, oversized slices) and
// resource-lifecycle violations (double Free of a user datatype, discarding a
// pending barrier request) panic at the point of violation. Failures reported
// by the runtime itself panic with a *TransportError.
//
// Network uses the flags provided. flag.Parse() must be called to use them.
//
//	-mpi-addr : address of the local running process
//	-mpi-alladdr: comma separated list of the strings of all the addresses
//	-mpi-inittimeout: time.Duration for how long init can take before timing out
//	-mpi-protocol: string to represent the protocol to use
//	-mpi-password: password to use at MPI initialization
//	-mpi-compressmin: frame payload size at which compression kicks in
//
// [1] http://www.mcs.anl.gov/research/projects/mpi/
// [2] http://www.mpi-forum.org/docs/mpi-3.0/mpi30-report.pdf
package mpi

import (
	"fmt"
	"unsafe"
)

// Count is the integer width the runtime uses for element counts,
// block lengths and element-granularity displacements.
type Count = int32

// Address is a displacement measured in bytes. It is wide enough to
// hold any byte offset addressable by the runtime, including negative
// offsets produced by reversed layouts.
type Address = int64

// TypeHandle is an opaque handle to a datatype descriptor owned by the
// runtime. The zero value is TypeNull, the runtime's null type sentinel.
type TypeHandle uint64

// TypeNull is the null datatype sentinel. A freed user datatype handle
// equals TypeNull.
const TypeNull TypeHandle = 0

// CommHandle is an opaque handle to a communicator held by the runtime.
// Handles are produced by runtime implementations and identify both the
// participant set and the calling participant's place in it.
type CommHandle uint64

// RequestHandle is an opaque handle to an in-flight non-blocking
// operation. The zero value is RequestNull, the retired-request sentinel.
type RequestHandle uint64

// RequestNull is the null request sentinel. A completed request handle
// equals RequestNull.
const RequestNull RequestHandle = 0

// Runtime is the boundary to the underlying message-passing runtime. The
// datatype combinators and the collective operations dispatch to the
// registered Runtime; they never move bytes themselves.
//
// The Type* methods construct and commit a new datatype descriptor from an
// existing one and return its handle. TypeFree releases a user datatype
// descriptor and returns the post-release handle, which must be TypeNull.
//
// The collective methods mirror the operations of the protocol layer, with
// buffers lowered to raw (pointer, count, type handle) triplets. For the
// asymmetric operations the root-only buffer triplet is (nil, 0, uint8) on
// every participant other than the root.
type Runtime interface {
	TypeContiguous(count Count, oldtype TypeHandle) (TypeHandle, error)
	TypeVector(count, blocklength, stride Count, oldtype TypeHandle) (TypeHandle, error)
	TypeHVector(count, blocklength Count, stride Address, oldtype TypeHandle) (TypeHandle, error)
	TypeIndexed(blocklengths, displacements []Count, oldtype TypeHandle) (TypeHandle, error)
	TypeHIndexed(blocklengths []Count, displacements []Address, oldtype TypeHandle) (TypeHandle, error)
	TypeIndexedBlock(blocklength Count, displacements []Count, oldtype TypeHandle) (TypeHandle, error)
	TypeHIndexedBlock(blocklength Count, displacements []Address, oldtype TypeHandle) (TypeHandle, error)
	TypeFree(t TypeHandle) (TypeHandle, error)

	Barrier(comm CommHandle) error
	ImmediateBarrier(comm CommHandle) (RequestHandle, error)
	Broadcast(buf unsafe.Pointer, count Count, datatype TypeHandle, root int, comm CommHandle) error
	Gather(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
		recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
		root int, comm CommHandle) error
	AllGather(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
		recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
		comm CommHandle) error
	Scatter(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
		recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
		root int, comm CommHandle) error
	AllToAll(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
		recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
		comm CommHandle) error

	Completer
}

// Completer observes completion of in-flight requests. Wait blocks until the
// request has completed and retires its handle. Test retires the handle and
// reports true if the request has completed, and reports false without
// blocking otherwise.
type Completer interface {
	Wait(r RequestHandle) error
	Test(r RequestHandle) (bool, error)
}

var boundary Runtime = &Network{}

// Register sets the Runtime implementation used by the datatype combinators
// and the collective operations. Register should normally be called during
// program initialization and not again; communicators and user datatypes
// obtained from a previously registered runtime must not be used after it is
// replaced.
func Register(r Runtime) {
	boundary = r
}

// active returns the registered runtime boundary.
func active() Runtime {
	return boundary
}

// TransportError reports a failure raised by the runtime boundary itself, as
// opposed to a local precondition violation. The layer treats these as fatal:
// they are carried in a panic, distinguishable by callers who recover.
type TransportError struct {
	Op  string // the runtime primitive that failed, e.g. "broadcast"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mpi: transport error in %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// fatal surfaces a runtime-boundary failure.
func fatal(op string, err error) {
	panic(&TransportError{Op: op, Err: err})
}
