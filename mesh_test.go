package mpi

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshCommIdentity(t *testing.T) {
	m := NewMesh(3)
	for rank := 0; rank < 3; rank++ {
		c := m.Comm(rank)
		assert.Equal(t, rank, c.Rank())
		assert.Equal(t, 3, c.Size())
	}
	assert.Panics(t, func() { m.Comm(-1) })
	assert.Panics(t, func() { m.Comm(3) })
	assert.Panics(t, func() { NewMesh(0) })
}

func TestMeshRejectsForeignComm(t *testing.T) {
	m := NewMesh(2)
	err := m.Barrier(CommHandle(17))
	assert.Error(t, err)
	_, err = m.ImmediateBarrier(CommHandle(0))
	assert.Error(t, err)
}

func TestMeshRejectsUnknownRequest(t *testing.T) {
	m := NewMesh(1)
	assert.Error(t, m.Wait(RequestHandle(99)))
	_, err := m.Test(RequestHandle(99))
	assert.Error(t, err)
}

func TestMeshRejectsBadRoot(t *testing.T) {
	m := NewMesh(2)
	c := m.Comm(0)
	err := m.Broadcast(nil, 0, Uint8.Raw(), 5, c.Comm())
	assert.Error(t, err)
}

// The descriptor table is shared by all participants, so concurrent commit
// and free must be safe.
func TestMeshConcurrentTypeCommits(t *testing.T) {
	m := NewMesh(4)
	wg := &sync.WaitGroup{}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h, err := m.TypeContiguous(Count(i+1), hInt32)
				assert.NoError(t, err)
				null, err := m.TypeFree(h)
				assert.NoError(t, err)
				assert.Equal(t, TypeNull, null)
			}
		}()
	}
	wg.Wait()
}

// A barrier generation is complete only when every participant has entered
// it: repeated entries by one participant must not stand in for the others.
func TestImmediateBarrierCountsPerParticipant(t *testing.T) {
	m := NewMesh(2)
	Register(m)
	c0, c1 := m.Comm(0), m.Comm(1)

	r0a := ImmediateBarrier(c0)
	r0b := ImmediateBarrier(c0)
	assert.False(t, r0a.Test(), "participant 1 has not entered the first barrier")
	assert.False(t, r0b.Test())

	r1a := ImmediateBarrier(c1)
	assert.True(t, r0a.Test())
	assert.False(t, r0b.Test(), "participant 1 has entered only one barrier")
	assert.True(t, r1a.Test())

	r1b := ImmediateBarrier(c1)
	assert.True(t, r0b.Test())
	assert.True(t, r1b.Test())

	r0a.Close()
	r0b.Close()
	r1a.Close()
	r1b.Close()
}

// A blocking barrier issued behind a still-pending immediate barrier belongs
// to the next generation; it must not return until the other participant has
// worked through both.
func TestBarrierWaitsBehindPendingImmediateBarrier(t *testing.T) {
	m := NewMesh(2)
	comm0, comm1 := m.Comm(0).Comm(), m.Comm(1).Comm()

	r0, err := m.ImmediateBarrier(comm0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Barrier(comm0) }()
	select {
	case <-done:
		t.Fatal("barrier returned before participant 1 entered anything")
	case <-time.After(50 * time.Millisecond):
	}

	r1, err := m.ImmediateBarrier(comm1)
	require.NoError(t, err)
	select {
	case <-done:
		t.Fatal("barrier returned with participant 1 one generation behind")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Barrier(comm1))
	require.NoError(t, <-done)
	require.NoError(t, m.Wait(r0))
	require.NoError(t, m.Wait(r1))
}

func TestMeshMailboxBackpressure(t *testing.T) {
	// A root broadcasting many more rounds than a mailbox can hold has to
	// wait on the bounded mailbox when it runs ahead, not grow it.
	const rounds = mailboxDepth * 4
	results := make([][]int32, 2)
	RunMesh(2, func(c Communicator) {
		got := make([]int32, 0, rounds)
		for i := 0; i < rounds; i++ {
			x := int32(-1)
			if c.Rank() == 0 {
				x = int32(i)
			}
			BroadcastInto(AtRank(c, 0), ValueOf(&x))
			got = append(got, x)
		}
		results[c.Rank()] = got
	})
	require.Len(t, results[1], rounds)
	for i, v := range results[1] {
		assert.Equal(t, int32(i), v)
	}
}
