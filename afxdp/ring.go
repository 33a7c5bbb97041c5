//go:build linux

package afxdp

import (
	"sync/atomic"
	"unsafe"
)

// ring holds the shared producer/consumer indices of one AF_XDP ring.
// Cached copies of both indices keep the fast path free of atomic loads.
//
// For producer rings (TX, FQ) cachedCons is kept size ahead of the kernel's
// consumer so that cachedCons-cachedProd is the number of free slots.
type ring struct {
	prod  *uint32
	cons  *uint32
	flags *uint32

	mask uint32
	size uint32

	cachedProd uint32
	cachedCons uint32
}

func makeRing(base unsafe.Pointer, off xdpRingOffset, size uint32, producer bool) ring {
	r := ring{
		prod:  (*uint32)(unsafe.Add(base, off.Producer)),
		cons:  (*uint32)(unsafe.Add(base, off.Consumer)),
		flags: (*uint32)(unsafe.Add(base, off.Flags)),
		mask:  size - 1,
		size:  size,
	}
	r.cachedProd = atomic.LoadUint32(r.prod)
	r.cachedCons = atomic.LoadUint32(r.cons)
	if producer {
		r.cachedCons += size
	}
	return r
}

// available returns up to max entries ready for the consumer.
func (r *ring) available(max uint32) uint32 {
	n := r.cachedProd - r.cachedCons
	if n == 0 {
		r.cachedProd = atomic.LoadUint32(r.prod)
		n = r.cachedProd - r.cachedCons
	}
	return min(n, max)
}

// consume hands n entries back to the kernel.
func (r *ring) consume(n uint32) {
	r.cachedCons += n
	atomic.StoreUint32(r.cons, r.cachedCons)
}

// free returns the number of slots the producer may fill.
func (r *ring) free() uint32 {
	n := r.cachedCons - r.cachedProd
	if n == 0 {
		r.cachedCons = atomic.LoadUint32(r.cons) + r.size
		n = r.cachedCons - r.cachedProd
	}
	return n
}

// reserve claims n producer slots and returns the index of the first one.
func (r *ring) reserve(n uint32) (idx uint32, ok bool) {
	if r.cachedCons-r.cachedProd < n {
		r.cachedCons = atomic.LoadUint32(r.cons) + r.size
		if r.cachedCons-r.cachedProd < n {
			return 0, false
		}
	}
	idx = r.cachedProd
	r.cachedProd += n
	return idx, true
}

// publish makes all reserved slots visible to the kernel.
func (r *ring) publish() {
	atomic.StoreUint32(r.prod, r.cachedProd)
}

// needsWakeup reports whether the kernel set XDP_RING_NEED_WAKEUP.
func (r *ring) needsWakeup() bool {
	return atomic.LoadUint32(r.flags)&xdpRingNeedWakeup != 0
}

const xdpRingNeedWakeup = 1

// descRing is an RX or TX ring of packet descriptors.
type descRing struct {
	ring
	descs []xdpDesc
}

func makeDescRing(region []byte, off xdpRingOffset, size uint32, producer bool) *descRing {
	base := unsafe.Pointer(&region[0])
	return &descRing{
		ring:  makeRing(base, off, size, producer),
		descs: unsafe.Slice((*xdpDesc)(unsafe.Add(base, off.Desc)), size),
	}
}

func (r *descRing) at(idx uint32) *xdpDesc { return &r.descs[idx&r.mask] }

// addrRing is a fill or completion ring of UMEM addresses.
type addrRing struct {
	ring
	addrs []uint64
}

func makeAddrRing(region []byte, off xdpRingOffset, size uint32, producer bool) *addrRing {
	base := unsafe.Pointer(&region[0])
	return &addrRing{
		ring:  makeRing(base, off, size, producer),
		addrs: unsafe.Slice((*uint64)(unsafe.Add(base, off.Desc)), size),
	}
}

func (r *addrRing) set(idx uint32, addr uint64) { r.addrs[idx&r.mask] = addr }

func (r *addrRing) get(idx uint32) uint64 { return r.addrs[idx&r.mask] }
