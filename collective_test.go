package mpi

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastValue(t *testing.T) {
	results := make([]int64, 4)
	RunMesh(4, func(c Communicator) {
		x := int64(0)
		if c.Rank() == 2 {
			x = 42
		}
		BroadcastInto(AtRank(c, 2), ValueOf(&x))
		results[c.Rank()] = x
	})
	for rank, got := range results {
		assert.Equal(t, int64(42), got, "rank %d", rank)
	}
}

// A vector datatype must move exactly the bytes it describes: receivers keep
// their own values in the gaps between blocks.
func TestBroadcastVectorGeometry(t *testing.T) {
	results := make([][12]int32, 3)
	RunMesh(3, func(c Communicator) {
		vec := Vector(3, 2, 4, Int32)
		defer vec.Free()

		var data [12]int32
		if c.Rank() == 0 {
			for i := range data {
				data[i] = int32(100 + i)
			}
		} else {
			for i := range data {
				data[i] = -1
			}
		}
		BroadcastInto(AtRank(c, 0), NewMutView(unsafe.Pointer(&data[0]), 1, vec))
		results[c.Rank()] = data
	})

	want := [12]int32{100, 101, -1, -1, 104, 105, -1, -1, 108, 109, -1, -1}
	for rank := 1; rank < 3; rank++ {
		assert.Equal(t, want, results[rank], "rank %d", rank)
	}
}

// Scatter followed by gather with the same root and counts must reproduce
// the root's original buffer.
func TestScatterGatherInverse(t *testing.T) {
	for _, p := range []int{1, 2, 4} {
		for _, seg := range []int{1, 3} {
			src := make([]int32, p*seg)
			for i := range src {
				src[i] = int32(i + 1)
			}
			dst := make([]int32, p*seg)

			RunMesh(p, func(c Communicator) {
				root := AtRank(c, 0)
				local := make([]int32, seg)

				var sendbuf Buffer
				if c.Rank() == 0 {
					sendbuf = SliceOf(src)
				}
				ScatterInto(root, sendbuf, SliceOf(local))

				for i, v := range local {
					assert.Equal(t, int32(c.Rank()*seg+i+1), v,
						"p=%d seg=%d rank=%d slot=%d", p, seg, c.Rank(), i)
				}

				var recvbuf BufferMut
				if c.Rank() == 0 {
					recvbuf = SliceOf(dst)
				}
				GatherInto(root, SliceOf(local), recvbuf)
			})

			assert.Equal(t, src, dst, "p=%d seg=%d", p, seg)
		}
	}
}

func TestGatherNonZeroRoot(t *testing.T) {
	var dst []float64
	RunMesh(3, func(c Communicator) {
		local := []float64{float64(c.Rank()), float64(c.Rank()) + 0.5}
		var recvbuf BufferMut
		if c.Rank() == 1 {
			dst = make([]float64, 6)
			recvbuf = SliceOf(dst)
		}
		GatherInto(AtRank(c, 1), SliceOf(local), recvbuf)
	})
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2, 2.5}, dst)
}

func TestAllGather(t *testing.T) {
	results := make([][]uint16, 3)
	RunMesh(3, func(c Communicator) {
		local := []uint16{uint16(c.Rank() * 10), uint16(c.Rank()*10 + 1)}
		all := make([]uint16, 6)
		AllGatherInto(c, SliceOf(local), SliceOf(all))
		results[c.Rank()] = all
	})
	want := []uint16{0, 1, 10, 11, 20, 21}
	for rank, got := range results {
		assert.Equal(t, want, got, "rank %d", rank)
	}
}

// All-to-all is a transpose: segment j sent by rank i arrives as segment i
// on rank j.
func TestAllToAllTranspose(t *testing.T) {
	const p = 3
	results := make([][]int32, p)
	RunMesh(p, func(c Communicator) {
		rank := c.Rank()
		send := make([]int32, p)
		for j := range send {
			send[j] = int32(rank*p + j)
		}
		recv := make([]int32, p)
		AllToAllInto(c, SliceOf(send), SliceOf(recv))
		results[rank] = recv
	})
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			assert.Equal(t, int32(j*p+i), results[i][j], "rank %d segment %d", i, j)
		}
	}
}

func TestBarrierOrdersSideEffects(t *testing.T) {
	var entered atomic.Int32
	RunMesh(4, func(c Communicator) {
		entered.Add(1)
		Barrier(c)
		assert.Equal(t, int32(4), entered.Load(),
			"rank %d passed the barrier before everyone entered", c.Rank())
	})
}

func TestAtRankRejectsInvalidRank(t *testing.T) {
	m := NewMesh(2)
	Register(m)
	c := m.Comm(0)
	assert.Panics(t, func() { AtRank(c, -1) })
	assert.Panics(t, func() { AtRank(c, 2) })
}

func TestImmediateBarrierLifecycle(t *testing.T) {
	m := NewMesh(2)
	Register(m)
	c0, c1 := m.Comm(0), m.Comm(1)

	r0 := ImmediateBarrier(c0)
	assert.False(t, r0.Test(), "one of two participants has entered")
	assert.Panics(t, func() { r0.Close() },
		"discarding a pending request must panic")

	r1 := ImmediateBarrier(c1)
	assert.True(t, r0.Test())
	assert.NotPanics(t, func() { r0.Close() })

	r1.Wait()
	r1.Wait() // waiting again is a no-op
	assert.True(t, r1.Test(), "a retired request reports complete")
	r1.Close()
}

func TestTransportErrorCarriesOp(t *testing.T) {
	m := NewMesh(1)
	Register(m)
	c := m.Comm(0)

	d := Contiguous(1, Int32)
	d.Free() // handle is now null, the broadcast below cannot resolve it

	defer func() {
		r := recover()
		require.NotNil(t, r)
		te, ok := r.(*TransportError)
		require.True(t, ok, "panic value is %T, not *TransportError", r)
		assert.Equal(t, "broadcast", te.Op)
		assert.Error(t, te.Err)
		assert.ErrorIs(t, te, te.Err)
	}()
	var x int32
	BroadcastInto(AtRank(c, 0), NewMutView(unsafe.Pointer(&x), 1, d))
}
