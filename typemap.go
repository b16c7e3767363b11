package mpi

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// A typemap is the resolved form of a datatype descriptor: the byte segments
// of true data within one element's footprint, relative to the element
// origin. Offsets may be negative for reversed layouts. Elements of a buffer
// are placed extent() bytes apart, so segment s of element k lives at
// base + k*extent() + s.off.
type typemap struct {
	segs   []typeSegment // ascending by offset, adjacent runs coalesced
	lb, ub Address       // footprint bounds of one element
	packed Address       // bytes of true data per element
}

type typeSegment struct {
	off Address
	n   Address
}

func (m *typemap) extent() Address { return m.ub - m.lb }

// pack copies the true data of count elements at base into a contiguous
// byte slice, in element then segment order.
func (m *typemap) pack(base unsafe.Pointer, count Count) []byte {
	out := make([]byte, int(m.packed)*int(count))
	o := 0
	for k := Count(0); k < count; k++ {
		org := Address(k) * m.extent()
		for _, s := range m.segs {
			src := unsafe.Slice((*byte)(unsafe.Add(base, org+s.off)), s.n)
			o += copy(out[o:], src)
		}
	}
	return out
}

// unpack is the inverse of pack: it scatters data into the true-data
// segments of count elements at base, leaving the gaps untouched.
func (m *typemap) unpack(base unsafe.Pointer, count Count, data []byte) error {
	if len(data) != int(m.packed)*int(count) {
		return fmt.Errorf("payload of %d bytes does not match %d elements of %d packed bytes",
			len(data), count, m.packed)
	}
	o := 0
	for k := Count(0); k < count; k++ {
		org := Address(k) * m.extent()
		for _, s := range m.segs {
			dst := unsafe.Slice((*byte)(unsafe.Add(base, org+s.off)), s.n)
			o += copy(dst, data[o:o+int(s.n)])
		}
	}
	return nil
}

func scalarMap(size Address) *typemap {
	return &typemap{
		segs:   []typeSegment{{off: 0, n: size}},
		lb:     0,
		ub:     size,
		packed: size,
	}
}

// mapBuilder composes a typemap from copies of an existing one placed at
// byte offsets. All combinators reduce to this.
type mapBuilder struct {
	segs   []typeSegment
	lb, ub Address
	packed Address
	placed bool
}

func (b *mapBuilder) place(old *typemap, at Address) {
	for _, s := range old.segs {
		b.segs = append(b.segs, typeSegment{off: at + s.off, n: s.n})
	}
	lb, ub := at+old.lb, at+old.ub
	if !b.placed {
		b.lb, b.ub = lb, ub
		b.placed = true
	} else {
		if lb < b.lb {
			b.lb = lb
		}
		if ub > b.ub {
			b.ub = ub
		}
	}
	b.packed += old.packed
}

func (b *mapBuilder) build() *typemap {
	sort.Slice(b.segs, func(i, j int) bool { return b.segs[i].off < b.segs[j].off })
	var segs []typeSegment
	for _, s := range b.segs {
		if last := len(segs) - 1; last >= 0 && segs[last].off+segs[last].n == s.off {
			segs[last].n += s.n
			continue
		}
		segs = append(segs, s)
	}
	return &typemap{segs: segs, lb: b.lb, ub: b.ub, packed: b.packed}
}

func contiguousMap(count Count, old *typemap) *typemap {
	var b mapBuilder
	for i := Count(0); i < count; i++ {
		b.place(old, Address(i)*old.extent())
	}
	return b.build()
}

func vectorMap(count, blocklength Count, stride Address, old *typemap) *typemap {
	var b mapBuilder
	for i := Count(0); i < count; i++ {
		base := Address(i) * stride
		for j := Count(0); j < blocklength; j++ {
			b.place(old, base+Address(j)*old.extent())
		}
	}
	return b.build()
}

func indexedMap(blocklengths []Count, displacements []Address, old *typemap) *typemap {
	var b mapBuilder
	for i, bl := range blocklengths {
		for j := Count(0); j < bl; j++ {
			b.place(old, displacements[i]+Address(j)*old.extent())
		}
	}
	return b.build()
}

// typeTable is a registry of committed datatype descriptors. Runtime
// implementations embed it to satisfy the datatype half of the Runtime
// interface. The zero value is ready for use; the system datatypes are
// seeded on first access.
type typeTable struct {
	mu    sync.Mutex
	types map[TypeHandle]*typemap
	next  TypeHandle
}

func (t *typeTable) initLocked() {
	if t.types != nil {
		return
	}
	t.types = map[TypeHandle]*typemap{
		hInt8:    scalarMap(1),
		hInt16:   scalarMap(2),
		hInt32:   scalarMap(4),
		hInt64:   scalarMap(8),
		hUint8:   scalarMap(1),
		hUint16:  scalarMap(2),
		hUint32:  scalarMap(4),
		hUint64:  scalarMap(8),
		hFloat32: scalarMap(4),
		hFloat64: scalarMap(8),
	}
	t.next = hFirstUser
}

func (t *typeTable) lookup(h TypeHandle) (*typemap, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initLocked()
	m, ok := t.types[h]
	if !ok {
		return nil, fmt.Errorf("unknown datatype handle %d", h)
	}
	return m, nil
}

func (t *typeTable) commit(m *typemap) TypeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initLocked()
	h := t.next
	t.next++
	t.types[h] = m
	return h
}

func (t *typeTable) TypeContiguous(count Count, oldtype TypeHandle) (TypeHandle, error) {
	if count < 0 {
		return TypeNull, fmt.Errorf("negative count %d", count)
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	return t.commit(contiguousMap(count, old)), nil
}

func (t *typeTable) TypeVector(count, blocklength, stride Count, oldtype TypeHandle) (TypeHandle, error) {
	if count < 0 || blocklength < 0 {
		return TypeNull, fmt.Errorf("negative count %d or block length %d", count, blocklength)
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	return t.commit(vectorMap(count, blocklength, Address(stride)*old.extent(), old)), nil
}

func (t *typeTable) TypeHVector(count, blocklength Count, stride Address, oldtype TypeHandle) (TypeHandle, error) {
	if count < 0 || blocklength < 0 {
		return TypeNull, fmt.Errorf("negative count %d or block length %d", count, blocklength)
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	return t.commit(vectorMap(count, blocklength, stride, old)), nil
}

func (t *typeTable) TypeIndexed(blocklengths, displacements []Count, oldtype TypeHandle) (TypeHandle, error) {
	if len(blocklengths) != len(displacements) {
		return TypeNull, fmt.Errorf("%d block lengths but %d displacements", len(blocklengths), len(displacements))
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	displs := make([]Address, len(displacements))
	for i, d := range displacements {
		displs[i] = Address(d) * old.extent()
	}
	return t.commit(indexedMap(blocklengths, displs, old)), nil
}

func (t *typeTable) TypeHIndexed(blocklengths []Count, displacements []Address, oldtype TypeHandle) (TypeHandle, error) {
	if len(blocklengths) != len(displacements) {
		return TypeNull, fmt.Errorf("%d block lengths but %d displacements", len(blocklengths), len(displacements))
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	return t.commit(indexedMap(blocklengths, displacements, old)), nil
}

func (t *typeTable) TypeIndexedBlock(blocklength Count, displacements []Count, oldtype TypeHandle) (TypeHandle, error) {
	if blocklength < 0 {
		return TypeNull, fmt.Errorf("negative block length %d", blocklength)
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	blocklengths := make([]Count, len(displacements))
	displs := make([]Address, len(displacements))
	for i, d := range displacements {
		blocklengths[i] = blocklength
		displs[i] = Address(d) * old.extent()
	}
	return t.commit(indexedMap(blocklengths, displs, old)), nil
}

func (t *typeTable) TypeHIndexedBlock(blocklength Count, displacements []Address, oldtype TypeHandle) (TypeHandle, error) {
	if blocklength < 0 {
		return TypeNull, fmt.Errorf("negative block length %d", blocklength)
	}
	old, err := t.lookup(oldtype)
	if err != nil {
		return TypeNull, err
	}
	blocklengths := make([]Count, len(displacements))
	for i := range blocklengths {
		blocklengths[i] = blocklength
	}
	return t.commit(indexedMap(blocklengths, displacements, old)), nil
}

func (t *typeTable) TypeFree(h TypeHandle) (TypeHandle, error) {
	if h < hFirstUser {
		return h, fmt.Errorf("datatype handle %d is not a user datatype", h)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initLocked()
	if _, ok := t.types[h]; !ok {
		return h, fmt.Errorf("unknown datatype handle %d", h)
	}
	delete(t.types, h)
	return TypeNull, nil
}
