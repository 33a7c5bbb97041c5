//go:build linux

package afxdp

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mirrors of linux/if_xdp.h.
// See https://elixir.bootlin.com/linux/v5.15.77/source/include/uapi/linux/if_xdp.h

type xdpRingOffset struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

type xdpMmapOffsets struct {
	Rx xdpRingOffset
	Tx xdpRingOffset
	Fr xdpRingOffset
	Cr xdpRingOffset
}

type xdpUmemReg struct {
	Addr      uint64
	Len       uint64
	ChunkSize uint32
	Headroom  uint32
}

type xdpDesc struct {
	Addr uint64
	Len  uint32
	Opts uint32
}

func setsockopt(fd, name int, val unsafe.Pointer, vallen uintptr) error {
	_, _, e := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), unix.SOL_XDP, uintptr(name),
		uintptr(val), vallen, 0)
	if e != 0 {
		return e
	}
	return nil
}

func getsockopt(fd, name int, val unsafe.Pointer, vallen uintptr) error {
	l := uint32(vallen) // socklen_t
	_, _, e := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), unix.SOL_XDP, uintptr(name),
		uintptr(val), uintptr(unsafe.Pointer(&l)), 0)
	if e != 0 {
		return e
	}
	return nil
}

func registerUmem(fd int, umem []byte, frameSize uint32) error {
	reg := xdpUmemReg{
		Addr:      uint64(uintptr(unsafe.Pointer(&umem[0]))),
		Len:       uint64(len(umem)),
		ChunkSize: frameSize,
	}
	return setsockopt(fd, unix.XDP_UMEM_REG, unsafe.Pointer(&reg), unsafe.Sizeof(reg))
}

func mmapOffsets(fd int) (offs xdpMmapOffsets, err error) {
	err = getsockopt(fd, unix.XDP_MMAP_OFFSETS, unsafe.Pointer(&offs), unsafe.Sizeof(offs))
	return offs, err
}

// mapRing maps one of the socket rings. entrySize is the size of a ring slot.
func mapRing(fd int, off xdpRingOffset, entries uint32, entrySize uintptr, pgoff int64) ([]byte, error) {
	length := uintptr(off.Desc) + uintptr(entries)*entrySize
	return unix.Mmap(fd, pgoff, int(length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
}

// mapUmem maps an anonymous, page-backed region for UMEM.
func mapUmem(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
}

// kickTx rings the TX doorbell. A zero-length sendto is how AF_XDP is told
// that new descriptors are ready when XDP_USE_NEED_WAKEUP is set.
func kickTx(fd int) error {
	err := unix.Sendto(fd, nil, unix.MSG_DONTWAIT, nil)
	switch err {
	case unix.EAGAIN, unix.EBUSY, unix.ENOBUFS:
		return nil // Backpressure, the kernel will catch up.
	}
	return err
}

// kickRx asks the kernel to refill RX from the fill ring.
func kickRx(fd int) error {
	_, _, err := unix.Recvfrom(fd, nil, unix.MSG_DONTWAIT)
	switch err {
	case nil, unix.EAGAIN, unix.EBUSY:
		return nil
	}
	return err
}
