package gemmbed

import (
	"fmt"
	"math"

	"github.com/LynnColeArt/gemmbed/device"
)

// Layout tags the physical ordering of a matrix operand. Only row- and
// column-major layouts are supported; general strided layouts are
// rejected when a testbed is built.
type Layout int

const (
	RowMajor Layout = iota
	ColMajor
)

// String returns a short layout tag.
func (l Layout) String() string {
	if l == ColMajor {
		return "col"
	}
	return "row"
}

// Valid reports whether the layout is one of the two supported tags.
func (l Layout) Valid() bool {
	return l == RowMajor || l == ColMajor
}

// ProblemShape is the GEMM extent (M, N, K) plus batch count L.
type ProblemShape struct {
	M, N, K, L int
}

// String formats the shape as MxNxKxL.
func (p ProblemShape) String() string {
	c := p.Canonicalize()
	return fmt.Sprintf("%dx%dx%dx%d", c.M, c.N, c.K, c.L)
}

// Canonicalize appends the default batch dimension when absent.
func (p ProblemShape) Canonicalize() ProblemShape {
	if p.L < 1 {
		p.L = 1
	}
	return p
}

// Validate checks the shape invariants: M, N, K positive, L >= 1 after
// canonicalization.
func (p ProblemShape) Validate() error {
	if p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return NewInvalidArgError("ProblemShape", "M, N and K must be positive")
	}
	return nil
}

// Stride maps a logical (row, col, batch) coordinate to a physical
// offset. Packed strides are derived from the layout tag.
type Stride struct {
	Row, Col, Batch int64
}

// PackedStride computes the packed stride of a rows x cols x batch
// operand under the given layout.
func PackedStride(layout Layout, rows, cols, batch int) Stride {
	if layout == ColMajor {
		return Stride{Row: 1, Col: int64(rows), Batch: int64(rows) * int64(cols)}
	}
	return Stride{Row: int64(cols), Col: 1, Batch: int64(rows) * int64(cols)}
}

// HostTensor owns a host-resident buffer and, optionally, a mirrored
// device allocation. The host side is always float32; the Element tag
// records the logical type and quantizes stored values onto its grid.
// Batch dimensions are folded into the leading extent since the storage
// model has no native third mode.
type HostTensor struct {
	rows, cols int
	layout     Layout
	elem       Element

	host []float32
	dev  device.DevicePtr
	ctx  *device.Context
}

// NewHostTensor allocates a rows x cols host tensor and, when ctx is
// non-nil, a mirrored device buffer. Allocation failures surface as
// memory errors; initialization failures are fatal to a run.
func NewHostTensor(ctx *device.Context, rows, cols int, layout Layout, elem Element) (*HostTensor, error) {
	t := &HostTensor{
		rows:   rows,
		cols:   cols,
		layout: layout,
		elem:   elem,
		host:   make([]float32, rows*cols),
		ctx:    ctx,
	}
	if ctx != nil {
		dev, err := ctx.Malloc(rows * cols * 4)
		if err != nil {
			return nil, NewMemoryError("NewHostTensor", "device allocation failed", err)
		}
		t.dev = dev
	}
	return t, nil
}

// NewHostVector allocates a length-n vector tensor (packed, one
// column). Scalars are size-1 vectors.
func NewHostVector(ctx *device.Context, n int, elem Element) (*HostTensor, error) {
	return NewHostTensor(ctx, n, 1, RowMajor, elem)
}

// Rows returns the folded leading extent.
func (t *HostTensor) Rows() int { return t.rows }

// Cols returns the trailing extent.
func (t *HostTensor) Cols() int { return t.cols }

// Layout returns the tensor's layout tag.
func (t *HostTensor) Layout() Layout { return t.layout }

// Element returns the logical element type.
func (t *HostTensor) Element() Element { return t.elem }

// Size returns the number of elements.
func (t *HostTensor) Size() int { return t.rows * t.cols }

// index maps a (row, col) coordinate to the physical host offset.
func (t *HostTensor) index(r, c int) int {
	if t.layout == ColMajor {
		return c*t.rows + r
	}
	return r*t.cols + c
}

// At returns the element at (row, col).
func (t *HostTensor) At(r, c int) float32 {
	return t.host[t.index(r, c)]
}

// Set stores v at (row, col), quantized to the element type's grid.
func (t *HostTensor) Set(r, c int, v float32) {
	t.host[t.index(r, c)] = t.elem.Quantize(v)
}

// SetRaw stores v at a raw memory offset, quantized.
func (t *HostTensor) SetRaw(i int, v float32) {
	t.host[i] = t.elem.Quantize(v)
}

// AtRaw returns the value at a raw memory offset.
func (t *HostTensor) AtRaw(i int) float32 {
	return t.host[i]
}

// Data returns the host buffer in physical order.
func (t *HostTensor) Data() []float32 { return t.host }

// DeviceData returns the mirrored device pointer, or a nil pointer for
// host-only tensors.
func (t *HostTensor) DeviceData() device.DevicePtr { return t.dev }

// HasDevice reports whether the tensor mirrors a device buffer.
func (t *HostTensor) HasDevice() bool { return !t.dev.IsNil() }

// SyncDevice copies the host buffer to the device mirror.
func (t *HostTensor) SyncDevice() error {
	if t.dev.IsNil() {
		return nil
	}
	if err := t.ctx.Memcpy(t.dev, t.host, len(t.host)*4, device.MemcpyHostToDevice); err != nil {
		return NewMemoryError("SyncDevice", "host to device copy failed", err)
	}
	return nil
}

// SyncHost copies the device mirror back to the host buffer.
func (t *HostTensor) SyncHost() error {
	if t.dev.IsNil() {
		return nil
	}
	if err := t.ctx.Memcpy(t.host, t.dev, len(t.host)*4, device.MemcpyDeviceToHost); err != nil {
		return NewMemoryError("SyncHost", "device to host copy failed", err)
	}
	return nil
}

// Free releases the device mirror. The host buffer is left to the
// garbage collector.
func (t *HostTensor) Free() {
	if t != nil && !t.dev.IsNil() {
		_ = t.ctx.Free(t.dev)
		t.dev = device.DevicePtr{}
	}
}

// Norm returns the Frobenius norm of the host buffer. A zero norm on an
// initialized operand indicates a degenerate fill.
func (t *HostTensor) Norm() float64 {
	var sum float64
	for _, v := range t.host {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Fill sets every element to v (quantized).
func (t *HostTensor) Fill(v float32) {
	q := t.elem.Quantize(v)
	for i := range t.host {
		t.host[i] = q
	}
}
