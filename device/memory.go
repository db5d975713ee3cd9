package device

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemcpyKind specifies the direction of a memory transfer. The
// simulator treats all directions identically since device memory is
// host-resident, but the harness keeps the distinction explicit so the
// data-movement protocol stays visible.
type MemcpyKind int

const (
	MemcpyHostToHost MemcpyKind = iota
	MemcpyHostToDevice
	MemcpyDeviceToHost
	MemcpyDeviceToDevice
)

// MemoryPool manages device memory allocation with block reuse. It
// keeps a free list of released blocks to reduce allocation churn
// across sweep iterations.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	buf  []byte
	size int
	used bool
}

// NewMemoryPool creates an empty memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
	}
}

// DevicePtr is a handle to device memory. Typed view methods expose
// the underlying buffer to simulated kernels; the harness only moves
// data through Memcpy so host/device traffic stays explicit.
type DevicePtr struct {
	buf  []byte
	size int
}

// IsNil reports whether the pointer refers to no allocation.
func (d DevicePtr) IsNil() bool { return d.buf == nil }

// Size returns the size in bytes of the memory region.
func (d DevicePtr) Size() int { return d.size }

// Byte returns the raw byte view of the region.
func (d DevicePtr) Byte() []byte {
	if d.buf == nil {
		return nil
	}
	return d.buf[:d.size]
}

// Float32 returns a float32 view of the region.
func (d DevicePtr) Float32() []float32 {
	if d.buf == nil {
		return nil
	}
	n := d.size / 4
	return unsafe.Slice((*float32)(unsafe.Pointer(&d.buf[0])), n)
}

// Float64 returns a float64 view of the region.
func (d DevicePtr) Float64() []float64 {
	if d.buf == nil {
		return nil
	}
	n := d.size / 8
	return unsafe.Slice((*float64)(unsafe.Pointer(&d.buf[0])), n)
}

// Uint8 returns a uint8 view of the region.
func (d DevicePtr) Uint8() []uint8 {
	return d.Byte()
}

// Malloc allocates device memory of the given size in bytes, aligned
// for SIMD access.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	if size < 0 {
		return DevicePtr{}, fmt.Errorf("device: negative allocation size %d", size)
	}
	return ctx.memory.Allocate(size)
}

// Free releases device memory allocated by Malloc. Freeing a zero
// DevicePtr is a no-op.
func (ctx *Context) Free(ptr DevicePtr) error {
	if ptr.IsNil() {
		return nil
	}
	return ctx.memory.Free(ptr)
}

// Memcpy copies size bytes between host slices and device pointers.
// dst and src may each be a DevicePtr or a []byte / []float32 host
// slice.
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	dstBytes, err := asBytes(dst, "dst")
	if err != nil {
		return err
	}
	srcBytes, err := asBytes(src, "src")
	if err != nil {
		return err
	}
	if size > len(dstBytes) || size > len(srcBytes) {
		return fmt.Errorf("device: Memcpy size %d exceeds buffer (dst %d, src %d)",
			size, len(dstBytes), len(srcBytes))
	}
	copy(dstBytes[:size], srcBytes[:size])
	_ = kind
	return nil
}

func asBytes(v interface{}, which string) ([]byte, error) {
	switch x := v.(type) {
	case DevicePtr:
		return x.Byte(), nil
	case []byte:
		return x, nil
	case []float32:
		if len(x) == 0 {
			return nil, nil
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&x[0])), len(x)*4), nil
	case []float64:
		if len(x) == 0 {
			return nil, nil
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&x[0])), len(x)*8), nil
	default:
		return nil, fmt.Errorf("device: unsupported Memcpy %s type %T", which, v)
	}
}

// Allocate hands out a block from the pool, reusing a free block when
// one is large enough.
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to cache-line alignment.
	const alignment = 64
	alignedSize := (size + alignment - 1) &^ (alignment - 1)

	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}
			clear(alloc.buf)
			return DevicePtr{buf: alloc.buf, size: size}, nil
		}
	}

	buf := make([]byte, alignedSize, alignedSize+alignment)
	alloc := &allocation{
		buf:  buf,
		size: alignedSize,
		used: true,
	}
	if alignedSize > 0 {
		mp.allocated[uintptr(unsafe.Pointer(&buf[0]))] = alloc
	}

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return DevicePtr{buf: buf, size: size}, nil
}

// Free returns a block to the pool's free list.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if len(ptr.buf) == 0 {
		return nil
	}
	key := uintptr(unsafe.Pointer(&ptr.buf[0]))
	alloc, ok := mp.allocated[key]
	if !ok {
		return fmt.Errorf("device: Free of pointer not in allocation pool")
	}
	if !alloc.used {
		return fmt.Errorf("device: double free detected")
	}
	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)
	return nil
}

// Stats returns current and peak allocation in bytes.
func (mp *MemoryPool) Stats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}
