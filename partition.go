package mpi

import (
	"fmt"
	"unsafe"
)

// Partitioned is the capability of dividing a buffer into per-participant
// regions: Counts()[i] elements starting Displs()[i] elements into the
// buffer, one pair per participant in rank order.
type Partitioned interface {
	Counts() []Count
	Displs() []Count
}

// PartitionedBuffer is a readable buffer with a partitioning, as consumed by
// the root side of a varying-count collective operation.
type PartitionedBuffer interface {
	Typed
	Addressed
	Partitioned
}

// PartitionedBufferMut is a writable buffer with a partitioning.
type PartitionedBufferMut interface {
	Typed
	AddressedMut
	Partitioned
}

// checkPartition asserts that every (count, displacement) pair is
// non-negative and reaches no further than the underlying buffer's element
// count. The sum is formed at Address width so it cannot wrap. The check
// runs at construction so that a bad partition fails before any
// communication is attempted.
func checkPartition(n Count, counts, displs []Count) {
	if len(counts) != len(displs) {
		panic("mpi: partition needs equally many counts and displacements")
	}
	for i := range counts {
		if counts[i] < 0 || displs[i] < 0 {
			panic(fmt.Sprintf("mpi: partition %d (count %d, displacement %d) is negative",
				i, counts[i], displs[i]))
		}
		if Address(displs[i])+Address(counts[i]) > Address(n) {
			panic(fmt.Sprintf("mpi: partition %d (count %d, displacement %d) exceeds buffer count %d",
				i, counts[i], displs[i], n))
		}
	}
}

// Partition adds a partitioning to an existing Buffer. It borrows the buffer
// and the counts/displacements tables for the duration of a call.
type Partition struct {
	buf    Buffer
	counts []Count
	displs []Count
}

// NewPartition partitions buf using counts and displs. It panics unless
// displs[i]+counts[i] <= buf.Count() for every i.
func NewPartition(buf Buffer, counts, displs []Count) *Partition {
	checkPartition(buf.Count(), counts, displs)
	return &Partition{buf: buf, counts: counts, displs: displs}
}

func (p *Partition) Datatype() Datatype   { return p.buf.Datatype() }
func (p *Partition) Addr() unsafe.Pointer { return p.buf.Addr() }
func (p *Partition) Counts() []Count      { return p.counts }
func (p *Partition) Displs() []Count      { return p.displs }

// PartitionMut adds a partitioning to an existing BufferMut.
type PartitionMut struct {
	buf    BufferMut
	counts []Count
	displs []Count
}

// NewPartitionMut partitions buf using counts and displs. It panics unless
// displs[i]+counts[i] <= buf.Count() for every i.
func NewPartitionMut(buf BufferMut, counts, displs []Count) *PartitionMut {
	checkPartition(buf.Count(), counts, displs)
	return &PartitionMut{buf: buf, counts: counts, displs: displs}
}

func (p *PartitionMut) Datatype() Datatype      { return p.buf.Datatype() }
func (p *PartitionMut) AddrMut() unsafe.Pointer { return p.buf.AddrMut() }
func (p *PartitionMut) Counts() []Count         { return p.counts }
func (p *PartitionMut) Displs() []Count         { return p.displs }
