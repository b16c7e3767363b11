package mpi

import (
	"fmt"
	"unsafe"
)

// Communicator is the topology capability: it identifies the fixed set of
// participants of a collective operation and the calling participant's place
// in it. Communicator values are produced by runtime implementations; the
// handle they carry is only meaningful to the runtime that produced them.
//
// Every collective operation is a communicator-wide contract: all
// participants must invoke the same operation, in the same order, for the
// call to complete. The layer does not detect mismatched sequences.
type Communicator interface {
	// Comm returns the raw communicator handle for the runtime boundary.
	Comm() CommHandle
	// Size returns the number of participants.
	Size() int
	// Rank returns the calling participant's rank, 0 <= rank < Size().
	Rank() int
}

// Root is the capability of designating one participant as the authoritative
// side of an asymmetric collective operation (broadcast, gather, scatter).
// The symmetric operations need only a Communicator and are available to
// every participant unconditionally.
type Root interface {
	Communicator
	// RootRank returns the designated participant's rank.
	RootRank() int
}

type process struct {
	Communicator
	rank int
}

func (p process) RootRank() int { return p.rank }

// AtRank designates the participant with the given rank as the root of
// asymmetric collective operations on c. It panics if rank is not a valid
// rank of c.
func AtRank(c Communicator, rank int) Root {
	if rank < 0 || rank >= c.Size() {
		panic(fmt.Sprintf("mpi: rank %d out of range for communicator of size %d", rank, c.Size()))
	}
	return process{Communicator: c, rank: rank}
}

// Barrier blocks the calling participant until every participant in c has
// entered the barrier.
func Barrier(c Communicator) {
	if err := active().Barrier(c.Comm()); err != nil {
		fatal("barrier", err)
	}
}

// BarrierRequest represents an in-flight non-blocking barrier. The barrier
// is only certainly satisfied once the request has been observed complete
// through Wait or Test. A request must reach completion before it is
// discarded; Close panics otherwise, since silently dropping a pending
// request would leak runtime resources and leave an in-flight operation
// referencing freed memory.
type BarrierRequest struct {
	h RequestHandle
}

// ImmediateBarrier registers the calling participant's entry into a barrier
// across all participants in c and returns immediately.
func ImmediateBarrier(c Communicator) *BarrierRequest {
	h, err := active().ImmediateBarrier(c.Comm())
	if err != nil {
		fatal("immediate_barrier", err)
	}
	return &BarrierRequest{h: h}
}

// Wait blocks until every participant has entered the barrier and retires
// the request. Waiting on an already completed request is a no-op.
func (r *BarrierRequest) Wait() {
	if r.h == RequestNull {
		return
	}
	if err := active().Wait(r.h); err != nil {
		fatal("wait", err)
	}
	r.h = RequestNull
}

// Test reports whether the barrier has completed, without blocking. Once
// Test returns true the request is retired. A retired request reports true.
func (r *BarrierRequest) Test() bool {
	if r.h == RequestNull {
		return true
	}
	done, err := active().Test(r.h)
	if err != nil {
		fatal("test", err)
	}
	if done {
		r.h = RequestNull
	}
	return done
}

// Close asserts that the request has been retired. Call it when discarding
// the request; it panics if the barrier was never observed complete.
func (r *BarrierRequest) Close() {
	if r.h != RequestNull {
		panic("mpi: barrier request discarded without ascertaining completion")
	}
}

// BroadcastInto broadcasts the contents of the root's buffer. After the call
// the buffer on every participant holds what it held on the root.
//
// Every participant's buffer must have the same element count and a
// compatible datatype; a mismatch is unspecified at the runtime boundary.
func BroadcastInto(r Root, buf BufferMut) {
	err := active().Broadcast(buf.AddrMut(), buf.Count(), buf.Datatype().Raw(), r.RootRank(), r.Comm())
	if err != nil {
		fatal("broadcast", err)
	}
}

// GatherInto concatenates the send buffers of all participants, in rank
// order, into the receive buffer on the root. The receive buffer is treated
// as Size() equal segments, one per rank; its count must divide accordingly.
// recvbuf is meaningful only on the root: every other participant passes
// nil.
func GatherInto(r Root, sendbuf Buffer, recvbuf BufferMut) {
	recvptr, recvcount, recvtype := rootOnlyMut(recvbuf, r.Size())
	err := active().Gather(sendbuf.Addr(), sendbuf.Count(), sendbuf.Datatype().Raw(),
		recvptr, recvcount, recvtype, r.RootRank(), r.Comm())
	if err != nil {
		fatal("gather", err)
	}
}

// AllGatherInto concatenates the send buffers of all participants, in rank
// order, into the receive buffer of every participant. All participants end
// with the same concatenation.
func AllGatherInto(c Communicator, sendbuf Buffer, recvbuf BufferMut) {
	err := active().AllGather(sendbuf.Addr(), sendbuf.Count(), sendbuf.Datatype().Raw(),
		recvbuf.AddrMut(), recvbuf.Count()/Count(c.Size()), recvbuf.Datatype().Raw(), c.Comm())
	if err != nil {
		fatal("all_gather", err)
	}
}

// ScatterInto is the inverse of GatherInto: the root's send buffer is
// treated as Size() equal segments and segment i is delivered to the receive
// buffer of rank i. sendbuf is meaningful only on the root: every other
// participant passes nil.
func ScatterInto(r Root, sendbuf Buffer, recvbuf BufferMut) {
	sendptr, sendcount, sendtype := rootOnly(sendbuf, r.Size())
	err := active().Scatter(sendptr, sendcount, sendtype,
		recvbuf.AddrMut(), recvbuf.Count(), recvbuf.Datatype().Raw(), r.RootRank(), r.Comm())
	if err != nil {
		fatal("scatter", err)
	}
}

// AllToAllInto transposes the send matrix across participants: each
// participant's send buffer is treated as Size() equal segments, segment j
// going to rank j, and its receive buffer ends up holding segment i from
// every rank i, in rank order.
func AllToAllInto(c Communicator, sendbuf Buffer, recvbuf BufferMut) {
	size := Count(c.Size())
	err := active().AllToAll(sendbuf.Addr(), sendbuf.Count()/size, sendbuf.Datatype().Raw(),
		recvbuf.AddrMut(), recvbuf.Count()/size, recvbuf.Datatype().Raw(), c.Comm())
	if err != nil {
		fatal("all_to_all", err)
	}
}

// rootOnly lowers a root-only buffer to its raw triplet, dividing the count
// into the per-rank segment size. On participants where the buffer is
// structurally absent it lowers to the ignored (nil, 0, uint8) triplet.
func rootOnly(buf Buffer, size int) (unsafe.Pointer, Count, TypeHandle) {
	if buf == nil {
		return nil, 0, Uint8.Raw()
	}
	return buf.Addr(), buf.Count() / Count(size), buf.Datatype().Raw()
}

func rootOnlyMut(buf BufferMut, size int) (unsafe.Pointer, Count, TypeHandle) {
	if buf == nil {
		return nil, 0, Uint8.Raw()
	}
	return buf.AddrMut(), buf.Count() / Count(size), buf.Datatype().Raw()
}
