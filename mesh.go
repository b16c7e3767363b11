package mpi

import (
	"fmt"
	"sync"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// mailboxDepth is the bounded capacity of each pairwise mailbox. One
// collective exchanges at most one payload per pair and direction, so the
// depth only bounds how far a fast participant may run ahead of a slow one
// before its sends start waiting.
const mailboxDepth = 8

// Mesh is an in-process Runtime: every participant is a goroutine in the
// calling process and payloads travel through bounded lock-free SPSC
// mailboxes, one per ordered participant pair. Barriers never touch the
// mailboxes; they are per-participant entry counters, which is what lets
// ImmediateBarrier proceed concurrently with later collectives on the same
// communicator without a second producer appearing on any mailbox.
//
// Mesh is the natural runtime for tests and for prototyping a computation
// before distributing it with Network. Use RunMesh, or create one with
// NewMesh, Register it and hand each participant goroutine its communicator
// from Comm.
type Mesh struct {
	typeTable

	n    int
	mail [][]lfq.SPSC[[]byte] // mail[from][to]

	entered []atomix.Uint64 // entered[rank] counts that participant's barrier entries
	lastReq atomix.Uint64

	reqMu sync.Mutex
	reqs  map[RequestHandle]uint64 // request -> barrier generation it belongs to
}

// NewMesh creates a mesh of n participants.
func NewMesh(n int) *Mesh {
	if n < 1 {
		panic("mpi: mesh needs at least one participant")
	}
	m := &Mesh{
		n:       n,
		mail:    make([][]lfq.SPSC[[]byte], n),
		entered: make([]atomix.Uint64, n),
		reqs:    make(map[RequestHandle]uint64),
	}
	for i := range m.mail {
		m.mail[i] = make([]lfq.SPSC[[]byte], n)
		for j := range m.mail[i] {
			m.mail[i][j].Init(mailboxDepth)
		}
	}
	return m
}

// RunMesh creates a mesh of n participants, registers it as the active
// runtime, runs f once per participant in its own goroutine, and returns
// when every participant has returned.
func RunMesh(n int, f func(c Communicator)) {
	m := NewMesh(n)
	Register(m)
	wg := &sync.WaitGroup{}
	wg.Add(n)
	for rank := 0; rank < n; rank++ {
		go func(rank int) {
			defer wg.Done()
			f(m.Comm(rank))
		}(rank)
	}
	wg.Wait()
}

// Comm returns the world communicator for the participant with the given
// rank. The handle bakes in the caller's identity, so each participant must
// use its own communicator value.
func (m *Mesh) Comm(rank int) Communicator {
	if rank < 0 || rank >= m.n {
		panic(fmt.Sprintf("mpi: rank %d out of range for mesh of size %d", rank, m.n))
	}
	return meshComm{m: m, rank: rank}
}

type meshComm struct {
	m    *Mesh
	rank int
}

func (c meshComm) Comm() CommHandle { return CommHandle(c.rank + 1) }
func (c meshComm) Size() int        { return c.m.n }
func (c meshComm) Rank() int        { return c.rank }

// meshPort is one participant's fabric view of the mesh. The mailboxes are
// strictly FIFO per pair and all participants issue collectives in the same
// order, so the sequence number is not needed for demultiplexing.
type meshPort struct {
	m  *Mesh
	me int
}

func (p meshPort) self() int  { return p.me }
func (p meshPort) peers() int { return p.m.n }

func (p meshPort) send(to int, _ uint64, payload []byte) error {
	q := &p.m.mail[p.me][to]
	var bo iox.Backoff
	for q.Enqueue(&payload) != nil {
		bo.Wait()
	}
	return nil
}

func (p meshPort) recv(from int, _ uint64) ([]byte, error) {
	q := &p.m.mail[from][p.me]
	var bo iox.Backoff
	for {
		payload, err := q.Dequeue()
		if err == nil {
			return payload, nil
		}
		bo.Wait()
	}
}

func (m *Mesh) port(comm CommHandle) (meshPort, error) {
	rank := int(comm) - 1
	if rank < 0 || rank >= m.n {
		return meshPort{}, fmt.Errorf("unknown communicator handle %d", comm)
	}
	return meshPort{m: m, me: rank}, nil
}

func (m *Mesh) checkRoot(root int) error {
	if root < 0 || root >= m.n {
		return fmt.Errorf("root rank %d out of range for mesh of size %d", root, m.n)
	}
	return nil
}

// Barrier blocks until every participant has entered.
func (m *Mesh) Barrier(comm CommHandle) error {
	r, err := m.ImmediateBarrier(comm)
	if err != nil {
		return err
	}
	return m.Wait(r)
}

// ImmediateBarrier registers the caller's entry. Entries are counted per
// participant: the caller's g-th entry belongs to barrier generation g, and
// generation g is complete only once every participant has entered at least
// g barriers. This is sound because all participants enter barriers on the
// world communicator in the same order.
func (m *Mesh) ImmediateBarrier(comm CommHandle) (RequestHandle, error) {
	p, err := m.port(comm)
	if err != nil {
		return RequestNull, err
	}
	gen := m.entered[p.me].Add(1) // 1-based entry index of the caller

	h := RequestHandle(m.lastReq.Add(1))
	m.reqMu.Lock()
	m.reqs[h] = gen
	m.reqMu.Unlock()
	return h, nil
}

// fullyEntered returns the number of barrier generations every participant
// has entered.
func (m *Mesh) fullyEntered() uint64 {
	min := m.entered[0].Load()
	for i := 1; i < m.n; i++ {
		if v := m.entered[i].Load(); v < min {
			min = v
		}
	}
	return min
}

func (m *Mesh) generation(r RequestHandle) (uint64, error) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	gen, ok := m.reqs[r]
	if !ok {
		return 0, fmt.Errorf("unknown request handle %d", r)
	}
	return gen, nil
}

func (m *Mesh) retire(r RequestHandle) {
	m.reqMu.Lock()
	delete(m.reqs, r)
	m.reqMu.Unlock()
}

// Wait blocks until the request's barrier generation has been fully entered.
func (m *Mesh) Wait(r RequestHandle) error {
	gen, err := m.generation(r)
	if err != nil {
		return err
	}
	var bo iox.Backoff
	for m.fullyEntered() < gen {
		bo.Wait()
	}
	m.retire(r)
	return nil
}

// Test reports without blocking whether the request's barrier generation has
// been fully entered, retiring the request if so.
func (m *Mesh) Test(r RequestHandle) (bool, error) {
	gen, err := m.generation(r)
	if err != nil {
		return false, err
	}
	if m.fullyEntered() < gen {
		return false, nil
	}
	m.retire(r)
	return true, nil
}

func (m *Mesh) Broadcast(buf unsafe.Pointer, count Count, datatype TypeHandle, root int, comm CommHandle) error {
	p, err := m.port(comm)
	if err != nil {
		return err
	}
	if err := m.checkRoot(root); err != nil {
		return err
	}
	tm, err := m.lookup(datatype)
	if err != nil {
		return err
	}
	return fabricBroadcast(p, 0, tm, buf, count, root)
}

func (m *Mesh) Gather(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	root int, comm CommHandle) error {
	p, err := m.port(comm)
	if err != nil {
		return err
	}
	if err := m.checkRoot(root); err != nil {
		return err
	}
	stm, err := m.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := m.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricGather(p, 0, stm, sendbuf, sendcount, rtm, recvbuf, recvcount, root)
}

func (m *Mesh) AllGather(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	comm CommHandle) error {
	p, err := m.port(comm)
	if err != nil {
		return err
	}
	stm, err := m.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := m.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricAllGather(p, 0, stm, sendbuf, sendcount, rtm, recvbuf, recvcount)
}

func (m *Mesh) Scatter(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	root int, comm CommHandle) error {
	p, err := m.port(comm)
	if err != nil {
		return err
	}
	if err := m.checkRoot(root); err != nil {
		return err
	}
	stm, err := m.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := m.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricScatter(p, 0, stm, sendbuf, sendcount, rtm, recvbuf, recvcount, root)
}

func (m *Mesh) AllToAll(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	comm CommHandle) error {
	p, err := m.port(comm)
	if err != nil {
		return err
	}
	stm, err := m.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := m.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricAllToAll(p, 0, stm, sendbuf, sendcount, rtm, recvbuf, recvcount)
}
