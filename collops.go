package mpi

import "unsafe"

// fabric is a runtime's view of the pairwise transport for one participant:
// ordered, reliable delivery of byte payloads between this participant and
// every other. Mesh backs it with in-process queues, Network with TCP
// connections. seq identifies the collective call the payload belongs to;
// fabrics whose channels are strictly FIFO per pair may ignore it.
//
// The collective algorithms below move exactly the bytes a typemap
// describes. They never send a participant's payload to itself: the local
// contribution is packed and unpacked in place, which exercises the same
// typemap path as the remote ones.
type fabric interface {
	self() int
	peers() int
	send(to int, seq uint64, payload []byte) error
	recv(from int, seq uint64) ([]byte, error)
}

// segAt returns the address of segment i of a buffer divided into
// per-participant segments of count elements each.
func segAt(base unsafe.Pointer, i int, count Count, tm *typemap) unsafe.Pointer {
	return unsafe.Add(base, Address(i)*Address(count)*tm.extent())
}

// fabricBarrier gathers a token at rank 0 and releases everyone once all
// tokens have arrived.
func fabricBarrier(f fabric, seq uint64) error {
	me, n := f.self(), f.peers()
	if me != 0 {
		if err := f.send(0, seq, nil); err != nil {
			return err
		}
		_, err := f.recv(0, seq)
		return err
	}
	for i := 1; i < n; i++ {
		if _, err := f.recv(i, seq); err != nil {
			return err
		}
	}
	for i := 1; i < n; i++ {
		if err := f.send(i, seq, nil); err != nil {
			return err
		}
	}
	return nil
}

func fabricBroadcast(f fabric, seq uint64, tm *typemap, buf unsafe.Pointer, count Count, root int) error {
	me, n := f.self(), f.peers()
	if me == root {
		payload := tm.pack(buf, count)
		for i := 0; i < n; i++ {
			if i == me {
				continue
			}
			if err := f.send(i, seq, payload); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := f.recv(root, seq)
	if err != nil {
		return err
	}
	return tm.unpack(buf, count, payload)
}

func fabricGather(f fabric, seq uint64,
	stm *typemap, sendbuf unsafe.Pointer, sendcount Count,
	rtm *typemap, recvbuf unsafe.Pointer, recvcount Count, root int) error {
	me, n := f.self(), f.peers()
	if me != root {
		return f.send(root, seq, stm.pack(sendbuf, sendcount))
	}
	for i := 0; i < n; i++ {
		var payload []byte
		if i == me {
			payload = stm.pack(sendbuf, sendcount)
		} else {
			var err error
			if payload, err = f.recv(i, seq); err != nil {
				return err
			}
		}
		if err := rtm.unpack(segAt(recvbuf, i, recvcount, rtm), recvcount, payload); err != nil {
			return err
		}
	}
	return nil
}

func fabricScatter(f fabric, seq uint64,
	stm *typemap, sendbuf unsafe.Pointer, sendcount Count,
	rtm *typemap, recvbuf unsafe.Pointer, recvcount Count, root int) error {
	me, n := f.self(), f.peers()
	if me != root {
		payload, err := f.recv(root, seq)
		if err != nil {
			return err
		}
		return rtm.unpack(recvbuf, recvcount, payload)
	}
	var local []byte
	for i := 0; i < n; i++ {
		payload := stm.pack(segAt(sendbuf, i, sendcount, stm), sendcount)
		if i == me {
			local = payload
			continue
		}
		if err := f.send(i, seq, payload); err != nil {
			return err
		}
	}
	return rtm.unpack(recvbuf, recvcount, local)
}

func fabricAllGather(f fabric, seq uint64,
	stm *typemap, sendbuf unsafe.Pointer, sendcount Count,
	rtm *typemap, recvbuf unsafe.Pointer, recvcount Count) error {
	me, n := f.self(), f.peers()
	payload := stm.pack(sendbuf, sendcount)
	for i := 0; i < n; i++ {
		if i == me {
			continue
		}
		if err := f.send(i, seq, payload); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		contribution := payload
		if i != me {
			var err error
			if contribution, err = f.recv(i, seq); err != nil {
				return err
			}
		}
		if err := rtm.unpack(segAt(recvbuf, i, recvcount, rtm), recvcount, contribution); err != nil {
			return err
		}
	}
	return nil
}

func fabricAllToAll(f fabric, seq uint64,
	stm *typemap, sendbuf unsafe.Pointer, sendcount Count,
	rtm *typemap, recvbuf unsafe.Pointer, recvcount Count) error {
	me, n := f.self(), f.peers()
	var local []byte
	for j := 0; j < n; j++ {
		payload := stm.pack(segAt(sendbuf, j, sendcount, stm), sendcount)
		if j == me {
			local = payload
			continue
		}
		if err := f.send(j, seq, payload); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		payload := local
		if i != me {
			var err error
			if payload, err = f.recv(i, seq); err != nil {
				return err
			}
		}
		if err := rtm.unpack(segAt(recvbuf, i, recvcount, rtm), recvcount, payload); err != nil {
			return err
		}
	}
	return nil
}
