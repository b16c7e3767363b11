package mpi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/s2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// commWorld is the handle of the world communicator, the only communicator a
// Network provides.
const commWorld CommHandle = 1

// Network implements Runtime across separate processes using network calls
// provided by the net package in the standard library. Network creates an
// all-to-all connection using the specified network protocol among all
// provided addresses. Frames are CBOR-encoded with compressed payloads above
// a size threshold, and so some network protocols may not be appropriate.
// While (at present) Network is not built with security in mind, the network
// does confirm that the provided password hashes to the same value before
// accepting any connection.
//
// Network uses the flags provided. It takes the values provided by the flags
// if the zero values are present for the network values.
type Network struct {
	typeTable

	NetProto string        // Which network protocol to use (see net package for options)
	Addr     string        // Address of the local process
	Addrs    []string      // List of the addresses of all nodes. Addr must be among them
	Timeout  time.Duration // If set, Init fails if the connections are not made within the duration

	Password       string
	hashedPassword string

	// CompressMin is the frame payload size in bytes at which compression
	// kicks in. If zero the flag value is used; if negative frames are
	// never compressed.
	CompressMin int

	// Logger receives connection lifecycle events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	myrank int // rank of this process
	nNodes int // total number of processes

	connections []*pairwiseConnection // connections to all of the other nodes

	seq     atomix.Uint64 // collective call sequence on the world communicator
	lastReq atomix.Uint64

	reqMu sync.Mutex
	reqs  map[RequestHandle]chan error
}

// wireEnc and wireDec are the CBOR modes for handshakes and frames. Core
// deterministic encoding keeps handshake bytes identical across peers built
// from the same source.
var (
	wireEnc cbor.EncMode
	wireDec cbor.DecMode
)

func init() {
	var err error
	wireEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("mpi: cbor encode mode: " + err.Error())
	}
	wireDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("mpi: cbor decode mode: " + err.Error())
	}
}

// frame is one point-to-point message of a collective operation. Seq ties it
// to the collective call it belongs to: all participants issue collectives on
// a communicator in the same order, so both ends of a pair number the calls
// identically.
type frame struct {
	Seq        uint64
	Compressed bool
	Payload    []byte
}

// seqRouter hands inbound frames to the collective call waiting for them. The
// channel for a sequence number is created by whichever of reader and
// receiver gets there first. Each pair exchanges at most one frame per
// direction per collective, so a one-slot buffer keeps the reader from ever
// blocking on delivery.
type seqRouter struct {
	mu sync.Mutex
	ch map[uint64]chan []byte
}

func (r *seqRouter) channel(seq uint64) chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil {
		r.ch = make(map[uint64]chan []byte)
	}
	c, ok := r.ch[seq]
	if !ok {
		c = make(chan []byte, 1)
		r.ch[seq] = c
	}
	return c
}

func (r *seqRouter) drop(seq uint64) {
	r.mu.Lock()
	delete(r.ch, seq)
	r.mu.Unlock()
}

type pairwiseConnection struct {
	dial   net.Conn // frames to the peer
	listen net.Conn // frames from the peer

	sendMu sync.Mutex
	enc    *cbor.Encoder // encodes onto dial

	router seqRouter
}

func (n *Network) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// Init establishes the all-to-all connections. It must be called before any
// collective operation, and only once.
func (n *Network) Init() error {
	// First, deal with flags
	if n.NetProto == "" {
		n.NetProto = FlagProtocol
	}
	if n.Password == "" {
		n.Password = FlagPassword
	}
	if n.Timeout == 0 {
		n.Timeout = FlagInitTimeout
	}
	if n.Addr == "" {
		n.Addr = FlagAddr
	}
	if len(n.Addrs) == 0 {
		n.Addrs = append(n.Addrs, FlagAllAddrs...)
	}
	if n.CompressMin == 0 {
		n.CompressMin = FlagCompressMin
	}

	sum := blake3.Sum256([]byte(n.Password))
	n.hashedPassword = hex.EncodeToString(sum[:])

	// Sort all of the addresses to ensure all processes agree on ranks
	sort.Strings(n.Addrs)

	// Make sure all of the addresses are unique
	for i := 0; i < len(n.Addrs)-1; i++ {
		if n.Addrs[i] == n.Addrs[i+1] {
			return errors.New("mpi init: addresses not unique")
		}
	}

	// Rank is the position in the sorted list
	n.myrank = sort.SearchStrings(n.Addrs, n.Addr)
	if n.myrank == len(n.Addrs) || n.Addrs[n.myrank] != n.Addr {
		return errors.New("mpi init: local address not in address list")
	}

	n.nNodes = len(n.Addrs)
	n.reqs = make(map[RequestHandle]chan error)

	if err := n.startConnections(); err != nil {
		return err
	}

	// One reader per inbound connection, routing frames to the collective
	// calls waiting for them.
	for i, pc := range n.connections {
		if i == n.myrank {
			continue
		}
		go n.readLoop(i, pc)
	}

	n.logger().Info("mpi network initialized",
		"rank", n.myrank, "size", n.nNodes, "proto", n.NetProto, "addr", n.Addr)
	return nil
}

func (n *Network) startConnections() error {
	n.connections = make([]*pairwiseConnection, n.nNodes)
	for i := range n.connections {
		n.connections[i] = &pairwiseConnection{}
	}

	// Create bi-way connections: listen for every other node and dial
	// every other node.
	g := &errgroup.Group{}
	g.Go(n.establishListenConnections)
	g.Go(n.establishDialConnections)
	return g.Wait()
}

// initialMessage is the handshake exchanged on every new connection.
type initialMessage struct {
	Password string // hex of the blake3 hash of the shared password
	Id       int    // rank of the connecting node
}

// establishListenConnections accepts one inbound connection from every other
// node, validating the handshake before the connection is kept.
func (n *Network) establishListenConnections() error {
	listener, err := net.Listen(n.NetProto, n.Addr)
	if err != nil {
		return errors.New("mpi init: error listening: " + err.Error())
	}
	defer listener.Close()

	// Programs should not freeze when the all-to-all connection cannot be
	// made, so the listener is closed when the timeout elapses.
	if n.Timeout > 0 {
		timer := time.AfterFunc(n.Timeout, func() { listener.Close() })
		defer timer.Stop()
	}

	g := &errgroup.Group{}
	for i := 0; i < n.nNodes-1; i++ {
		conn, err := listener.Accept()
		if err != nil {
			return errors.New("mpi init: error accepting: " + err.Error())
		}
		g.Go(func() error {
			var message initialMessage
			if err := wireDec.NewDecoder(conn).Decode(&message); err != nil {
				return err
			}
			id, err := n.passwordAndId(message)
			if err != nil {
				return err
			}
			n.connections[id].listen = conn
			return wireEnc.NewEncoder(conn).Encode(initialMessage{
				Password: n.hashedPassword,
				Id:       n.myrank,
			})
		})
	}
	return g.Wait()
}

// establishDialConnections dials every other node, retrying until the peer is
// listening or the timeout elapses.
func (n *Network) establishDialConnections() error {
	g := &errgroup.Group{}
	for i := 0; i < n.nNodes; i++ {
		if i == n.myrank {
			continue // don't dial yourself
		}
		addr := n.Addrs[i]
		g.Go(func() error {
			var conn net.Conn
			var err error
			start := time.Now()
			for {
				conn, err = net.DialTimeout(n.NetProto, addr, n.Timeout)
				if err == nil {
					break
				}
				if n.Timeout > 0 && time.Since(start) > n.Timeout {
					return err
				}
				time.Sleep(300 * time.Millisecond)
			}

			// Connection established; exchange handshakes.
			if err := wireEnc.NewEncoder(conn).Encode(initialMessage{
				Password: n.hashedPassword,
				Id:       n.myrank,
			}); err != nil {
				return err
			}
			var message initialMessage
			if err := wireDec.NewDecoder(conn).Decode(&message); err != nil {
				return err
			}
			id, err := n.passwordAndId(message)
			if err != nil {
				return err
			}
			pc := n.connections[id]
			pc.dial = conn
			pc.enc = wireEnc.NewEncoder(conn)
			return nil
		})
	}
	return g.Wait()
}

// passwordAndId checks that the hashed password matches what the network
// expects and that the id is a valid peer rank.
func (n *Network) passwordAndId(message initialMessage) (int, error) {
	if message.Password != n.hashedPassword {
		return -1, errors.New("mpi init: bad password")
	}
	if message.Id < 0 || message.Id >= n.nNodes || message.Id == n.myrank {
		return -1, fmt.Errorf("mpi init: bad id: %v", message.Id)
	}
	return message.Id, nil
}

// readLoop decodes frames from one peer and routes each to the collective
// call waiting on its sequence number. It exits when the connection closes.
func (n *Network) readLoop(peer int, pc *pairwiseConnection) {
	dec := wireDec.NewDecoder(pc.listen)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			n.logger().Debug("mpi read loop ended", "peer", peer, "err", err)
			return
		}
		payload := f.Payload
		if f.Compressed {
			p, err := s2.Decode(nil, payload)
			if err != nil {
				n.logger().Error("mpi frame decompression failed", "peer", peer, "err", err)
				return
			}
			payload = p
		}
		pc.router.channel(f.Seq) <- payload
	}
}

// World returns the communicator containing every process of the
// computation. Init must have returned first.
func (n *Network) World() Communicator {
	return netComm{n: n}
}

type netComm struct {
	n *Network
}

func (c netComm) Comm() CommHandle { return commWorld }
func (c netComm) Size() int        { return c.n.nNodes }
func (c netComm) Rank() int        { return c.n.myrank }

// Finalize closes all of the connections. No collective calls may be made
// after Finalize.
func (n *Network) Finalize() {
	for i, pc := range n.connections {
		if i == n.myrank || pc == nil {
			continue
		}
		if pc.dial != nil {
			pc.dial.Close()
		}
		if pc.listen != nil {
			pc.listen.Close()
		}
	}
	n.logger().Info("mpi network finalized", "rank", n.myrank)
}

// A Network is its own fabric: one process is one participant.

func (n *Network) self() int  { return n.myrank }
func (n *Network) peers() int { return n.nNodes }

func (n *Network) send(to int, seq uint64, payload []byte) error {
	if to == n.myrank {
		return errors.New("send to self")
	}
	f := frame{Seq: seq, Payload: payload}
	if n.CompressMin > 0 && len(payload) >= n.CompressMin {
		f.Payload = s2.Encode(nil, payload)
		f.Compressed = true
	}
	pc := n.connections[to]
	pc.sendMu.Lock()
	defer pc.sendMu.Unlock()
	return pc.enc.Encode(f)
}

func (n *Network) recv(from int, seq uint64) ([]byte, error) {
	if from == n.myrank {
		return nil, errors.New("receive from self")
	}
	pc := n.connections[from]
	payload := <-pc.router.channel(seq)
	pc.router.drop(seq)
	return payload, nil
}

// nextSeq numbers a collective call. Every process increments in step because
// all processes issue collectives on the communicator in the same order.
func (n *Network) nextSeq() uint64 {
	return n.seq.Add(1)
}

func (n *Network) checkComm(comm CommHandle) error {
	if n.nNodes == 0 {
		return errors.New("network not initialized")
	}
	if comm != commWorld {
		return fmt.Errorf("unknown communicator handle %d", comm)
	}
	return nil
}

func (n *Network) checkRoot(root int) error {
	if root < 0 || root >= n.nNodes {
		return fmt.Errorf("root rank %d out of range for size %d", root, n.nNodes)
	}
	return nil
}

func (n *Network) Barrier(comm CommHandle) error {
	if err := n.checkComm(comm); err != nil {
		return err
	}
	return fabricBarrier(n, n.nextSeq())
}

// ImmediateBarrier reserves the collective's sequence number synchronously,
// so collectives issued while the barrier is in flight still pair up
// correctly, and runs the exchange itself in the background.
func (n *Network) ImmediateBarrier(comm CommHandle) (RequestHandle, error) {
	if err := n.checkComm(comm); err != nil {
		return RequestNull, err
	}
	seq := n.nextSeq()
	h := RequestHandle(n.lastReq.Add(1))
	done := make(chan error, 1)
	n.reqMu.Lock()
	n.reqs[h] = done
	n.reqMu.Unlock()
	go func() {
		done <- fabricBarrier(n, seq)
	}()
	return h, nil
}

func (n *Network) request(r RequestHandle) (chan error, error) {
	n.reqMu.Lock()
	defer n.reqMu.Unlock()
	done, ok := n.reqs[r]
	if !ok {
		return nil, fmt.Errorf("unknown request handle %d", r)
	}
	return done, nil
}

func (n *Network) retire(r RequestHandle) {
	n.reqMu.Lock()
	delete(n.reqs, r)
	n.reqMu.Unlock()
}

func (n *Network) Wait(r RequestHandle) error {
	done, err := n.request(r)
	if err != nil {
		return err
	}
	err = <-done
	n.retire(r)
	return err
}

func (n *Network) Test(r RequestHandle) (bool, error) {
	done, err := n.request(r)
	if err != nil {
		return false, err
	}
	select {
	case err := <-done:
		n.retire(r)
		return true, err
	default:
		return false, nil
	}
}

func (n *Network) Broadcast(buf unsafe.Pointer, count Count, datatype TypeHandle, root int, comm CommHandle) error {
	if err := n.checkComm(comm); err != nil {
		return err
	}
	if err := n.checkRoot(root); err != nil {
		return err
	}
	tm, err := n.lookup(datatype)
	if err != nil {
		return err
	}
	return fabricBroadcast(n, n.nextSeq(), tm, buf, count, root)
}

func (n *Network) Gather(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	root int, comm CommHandle) error {
	if err := n.checkComm(comm); err != nil {
		return err
	}
	if err := n.checkRoot(root); err != nil {
		return err
	}
	stm, err := n.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := n.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricGather(n, n.nextSeq(), stm, sendbuf, sendcount, rtm, recvbuf, recvcount, root)
}

func (n *Network) AllGather(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	comm CommHandle) error {
	if err := n.checkComm(comm); err != nil {
		return err
	}
	stm, err := n.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := n.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricAllGather(n, n.nextSeq(), stm, sendbuf, sendcount, rtm, recvbuf, recvcount)
}

func (n *Network) Scatter(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	root int, comm CommHandle) error {
	if err := n.checkComm(comm); err != nil {
		return err
	}
	if err := n.checkRoot(root); err != nil {
		return err
	}
	stm, err := n.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := n.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricScatter(n, n.nextSeq(), stm, sendbuf, sendcount, rtm, recvbuf, recvcount, root)
}

func (n *Network) AllToAll(sendbuf unsafe.Pointer, sendcount Count, sendtype TypeHandle,
	recvbuf unsafe.Pointer, recvcount Count, recvtype TypeHandle,
	comm CommHandle) error {
	if err := n.checkComm(comm); err != nil {
		return err
	}
	stm, err := n.lookup(sendtype)
	if err != nil {
		return err
	}
	rtm, err := n.lookup(recvtype)
	if err != nil {
		return err
	}
	return fabricAllToAll(n, n.nextSeq(), stm, sendbuf, sendcount, rtm, recvbuf, recvcount)
}
