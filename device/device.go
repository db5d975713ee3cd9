// Package device provides the simulated accelerator runtime the gemmbed
// harness drives kernels on. It models a CUDA-like device: an execution
// context with ordered streams, a device memory pool, grid/block kernel
// launches across a worker pool, and queryable device properties
// (multiprocessor count, opt-in shared memory capacity).
//
// Example usage:
//
//	ctx := device.NewContext(device.Default())
//	defer ctx.Destroy()
//
//	d_a, _ := ctx.Malloc(n * 4)
//	defer ctx.Free(d_a)
//
//	grid := device.Dim3{X: (n + 255) / 256}
//	block := device.Dim3{X: 256}
//	ctx.Launch(myKernel, grid, block)
//	ctx.Synchronize()
package device

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Device describes a compute device's capabilities. The harness reads
// these to decide whether a kernel can run (shared memory) and how many
// multiprocessors to schedule over.
type Device struct {
	ID                     int    // Unique device identifier
	Name                   string // Human-readable device name
	TotalMem               uint64 // Total device memory in bytes
	SMCount                int    // Number of streaming multiprocessors
	MaxThreadsPerBlock     int    // Maximum threads per block
	SharedMemPerBlockOptin int    // Opt-in shared memory capacity per block, bytes
}

// Default returns the device the simulator presents by default: one SM
// per CPU core and a shared-memory capacity matching a current
// datacenter part.
func Default() Device {
	return Device{
		ID:                     0,
		Name:                   "SimSM",
		TotalMem:               totalSystemMemory(),
		SMCount:                runtime.NumCPU(),
		MaxThreadsPerBlock:     1024,
		SharedMemPerBlockOptin: 227 * 1024,
	}
}

// Context is an execution context bound to one device. It owns the
// memory pool and streams; all launches and copies go through it.
// Destroy releases the streams when the context is no longer needed.
type Context struct {
	device        Device
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
}

// NewContext creates an execution context for the given device.
func NewContext(dev Device) *Context {
	ctx := &Context{
		device:  dev,
		streams: make(map[int]*Stream),
		memory:  NewMemoryPool(),
	}
	ctx.defaultStream = ctx.CreateStream()
	return ctx
}

// Device returns the properties of the context's device.
func (ctx *Context) Device() Device {
	return ctx.device
}

// Stream is an ordered sequence of device operations. Operations within
// a stream execute in submission order; different streams may overlap.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// Dim3 represents 3D grid and block dimensions.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements spanned by the dimensions.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// ThreadID identifies a thread's position within the launch hierarchy,
// mirroring blockIdx / threadIdx / blockDim / gridDim.
type ThreadID struct {
	BlockIdx  Dim3
	ThreadIdx Dim3
	BlockDim  Dim3
	GridDim   Dim3
}

// Global returns the global linear thread index along X.
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalX returns the global X index.
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index.
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// KernelFunc is a function executed once per simulated device thread.
type KernelFunc func(tid ThreadID)

// CreateStream creates a new execution stream on the context.
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), 1000),
		done:  make(chan struct{}),
	}
	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// Launch executes a kernel function on the default stream.
func (ctx *Context) Launch(fn KernelFunc, grid, block Dim3) error {
	return ctx.launchInternal(fn, grid, block, ctx.defaultStream)
}

// LaunchStream executes a kernel function on a specific stream.
func (ctx *Context) LaunchStream(fn KernelFunc, grid, block Dim3, stream *Stream) error {
	return ctx.launchInternal(fn, grid, block, stream)
}

// Synchronize blocks until all operations on all streams complete. This
// is the device-wide barrier the harness issues after every launch.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	for _, stream := range streams {
		stream.Synchronize()
	}
	return nil
}

// Destroy shuts down the context's streams. Memory held by the pool is
// reclaimed by the garbage collector once unreferenced.
func (ctx *Context) Destroy() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for id, s := range ctx.streams {
		close(s.tasks)
		<-s.done
		delete(ctx.streams, id)
	}
}

// worker processes tasks for a stream.
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Synchronize waits for all tasks in the stream to complete.
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// Submit adds a task to the stream.
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}
