//go:build linux

package afxdp

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/cilium/ebpf/link"
	"github.com/stretchr/testify/require"
)

// fakeRegion lays out a ring the way the kernel would in the mmap'd region:
// producer, consumer and flags words followed by the entries.
func fakeRegion(t *testing.T, size uint32, entrySize uintptr) ([]byte, xdpRingOffset) {
	t.Helper()
	const header = 64
	words := (header + uintptr(size)*entrySize + 7) / 8
	backing := make([]uint64, words) // 8-byte aligned
	region := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), words*8)
	return region, xdpRingOffset{Producer: 0, Consumer: 8, Flags: 16, Desc: header}
}

func TestProducerRingReserveAndPublish(t *testing.T) {
	region, off := fakeRegion(t, 8, unsafe.Sizeof(uint64(0)))
	fq := makeAddrRing(region, off, 8, true)

	require.Equal(t, uint32(8), fq.free())

	idx, ok := fq.reserve(5)
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)
	for k := range uint32(5) {
		fq.set(idx+k, uint64(k)*2048)
	}
	fq.publish()
	require.Equal(t, uint32(5), atomic.LoadUint32(fq.prod))

	_, ok = fq.reserve(4)
	require.False(t, ok, "only 3 slots left")

	// Kernel consumes 4 entries.
	atomic.StoreUint32(fq.cons, 4)
	idx, ok = fq.reserve(4)
	require.True(t, ok)
	require.Equal(t, uint32(5), idx)
	fq.set(idx, 42)
	require.Equal(t, uint64(42), fq.addrs[5])

	// Indices wrap via the mask.
	fq.set(idx+3, 7)
	require.Equal(t, uint64(7), fq.addrs[0])
}

func TestConsumerRingAvailable(t *testing.T) {
	region, off := fakeRegion(t, 4, unsafe.Sizeof(xdpDesc{}))
	rx := makeDescRing(region, off, 4, false)

	require.Zero(t, rx.available(16))

	// Kernel produces 3 descriptors.
	for k := range uint32(3) {
		*rx.at(k) = xdpDesc{Addr: uint64(k) * 2048, Len: 60 + k}
	}
	atomic.StoreUint32(rx.prod, 3)

	require.Equal(t, uint32(2), rx.available(2))
	require.Equal(t, uint32(3), rx.available(16))
	require.Equal(t, uint32(61), rx.at(rx.cachedCons+1).Len)

	rx.consume(3)
	require.Equal(t, uint32(3), atomic.LoadUint32(rx.cons))
	require.Zero(t, rx.available(16))
}

func TestRingNeedsWakeup(t *testing.T) {
	region, off := fakeRegion(t, 4, unsafe.Sizeof(uint64(0)))
	fq := makeAddrRing(region, off, 4, true)
	require.False(t, fq.needsWakeup())
	atomic.StoreUint32(fq.flags, xdpRingNeedWakeup)
	require.True(t, fq.needsWakeup())
}

func TestSocketConfigValidateAndSetDefaults(t *testing.T) {
	var c SocketConfig
	require.NoError(t, c.ValidateAndSetDefaults())
	require.Equal(t, uint32(DefaultNumFrames), c.NumFrames)
	require.Equal(t, uint32(DefaultFrameSize), c.FrameSize)
	require.Equal(t, uint32(DefaultBatchSize), c.BatchSize)

	c = SocketConfig{NumFrames: 1024, RxSize: 1024, TxSize: 1024}
	require.ErrorIs(t, c.ValidateAndSetDefaults(), ErrNumFramesTooSmall)

	c = SocketConfig{RxSize: 1000}
	require.ErrorIs(t, c.ValidateAndSetDefaults(), ErrRingSizeNotPow2)
}

func TestRXQueueIDs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rx-10", "rx-2", "tx-0", "rx-0", "tx-1"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	ids, err := rxQueueIDs(dir)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 2, 10}, ids)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "rx-x"), 0o755))
	_, err = rxQueueIDs(dir)
	require.Error(t, err)
}

func TestXDPAttachFlags(t *testing.T) {
	require.Equal(t, link.XDPDriverMode, xdpAttachFlags(true))
	require.Equal(t, link.XDPGenericMode, xdpAttachFlags(false))
}
