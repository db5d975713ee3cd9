package gemmbed

import (
	"github.com/LynnColeArt/gemmbed/device"
)

// Status is the result code a kernel under test reports at each step of
// its lifecycle. It mirrors the device-library convention: statuses are
// values, not errors, and only the orchestrator decides which ones are
// fatal.
type Status int

const (
	StatusSuccess Status = iota
	StatusErrorNotSupported
	StatusErrorInvalidProblem
	StatusErrorWorkspaceNull
	StatusErrorInternal
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusErrorNotSupported:
		return "ErrorNotSupported"
	case StatusErrorInvalidProblem:
		return "ErrorInvalidProblem"
	case StatusErrorWorkspaceNull:
		return "ErrorWorkspaceNull"
	case StatusErrorInternal:
		return "ErrorInternal"
	default:
		return "Unknown"
	}
}

// RasterOrder is the traversal order of output tile assignment across
// the grid.
type RasterOrder int

const (
	RasterHeuristic RasterOrder = iota
	RasterAlongM
	RasterAlongN
)

// String returns the raster order name.
func (r RasterOrder) String() string {
	switch r {
	case RasterHeuristic:
		return "Heuristic"
	case RasterAlongM:
		return "AlongM"
	case RasterAlongN:
		return "AlongN"
	default:
		return "Unknown"
	}
}

// DecompositionMode selects how the reduction dimension is partitioned
// across execution units. Only stream-K schedulers accept modes other
// than Heuristic.
type DecompositionMode int

const (
	DecompHeuristic DecompositionMode = iota
	DecompDataParallel
	DecompSplitK
	DecompStreamK
)

// String returns the decomposition mode name.
func (d DecompositionMode) String() string {
	switch d {
	case DecompHeuristic:
		return "Heuristic"
	case DecompDataParallel:
		return "DataParallel"
	case DecompSplitK:
		return "SplitK"
	case DecompStreamK:
		return "StreamK"
	default:
		return "Unknown"
	}
}

// ScalarLoc says whether alpha/beta (and the scale factors) are passed
// to the kernel as host values or device-resident memory.
type ScalarLoc int

const (
	ScalarOnHost ScalarLoc = iota
	ScalarOnDevice
)

// VectorScale enables per-(row, batch) alpha/beta vectors when the
// kernel supports per-row scaling.
type VectorScale int

const (
	VectorScaleDisabled VectorScale = iota
	VectorScaleEnabled
)

// ComplexTransform tags an operand for the host reference computation.
type ComplexTransform int

const (
	TransformNone ComplexTransform = iota
	TransformConjugate
)

// SchedulerKind is the tile-scheduler tag a kernel declares.
type SchedulerKind int

const (
	SchedulerPersistent SchedulerKind = iota
	SchedulerStreamK
)

// TileShape is the kernel's output tile extent.
type TileShape struct {
	M, N, K int
}

// ActivationKind names the epilogue activation a fusion-capable kernel
// is built with.
type ActivationKind int

const (
	ActIdentity ActivationKind = iota
	ActReLU
	ActClamp
	ActScaledGELU
	ActSiLU
)

// ActivationArguments carries the runtime parameters of the epilogue
// activation. Kinds without parameters leave it zero.
type ActivationArguments struct {
	Scale      float32
	LowerBound float32
	UpperBound float32
}

// FusionCaps is the capability set a fusion-capable kernel declares.
// Every optional epilogue tensor exists iff its flag is set; the host
// model allocates nothing for unset capabilities.
type FusionCaps struct {
	PerRowBias  bool
	DeBias      bool
	PerRowScale bool
	ScaleFactor bool
	AuxIn       bool
	AuxOut      bool
	AbsMax      bool
	Activation  ActivationKind
}

// AbsMaxD reports whether abs-max reduction on D is active: the
// capability must be declared and D must be one of the two narrow
// 8-bit float kinds.
func (f FusionCaps) AbsMaxD(elementD Element) bool {
	return f.AbsMax && elementD.IsNarrowFloat8()
}

// AbsMaxAux reports whether abs-max reduction on the auxiliary output
// is active.
func (f FusionCaps) AbsMaxAux(elementAux Element) bool {
	return f.AuxOut && f.AbsMax && elementAux.IsNarrowFloat8()
}

// Traits describes a kernel instantiation: element types, layouts,
// alignment, tile shape, scheduler tag, and fusion capabilities. The
// harness selects host-model variants from these once, when the testbed
// is built.
type Traits struct {
	Name string

	ElementA, ElementB Element
	ElementC, ElementD Element
	ElementE           Element // sparse metadata
	ElementAux         Element
	ElementBias        Element
	ElementAmax        Element

	LayoutA, LayoutB Layout
	LayoutC, LayoutD Layout
	LayoutAux        Layout

	AlignmentA, AlignmentB int
	Tile                   TileShape
	Stages                 int

	Scheduler      SchedulerKind
	Fusion         *FusionCaps   // nil selects the default epilogue host model
	LegacyEpilogue bool          // flat bias+elementwise argument shape
	Sparse         *SparseConfig // nil selects the dense provisioner

	TransformA, TransformB ComplexTransform

	SharedMemSize  int
	BatchSupported bool
	Pingpong       bool
}

// HardwareInfo is passed to the kernel so its scheduler knows how many
// multiprocessors to plan for.
type HardwareInfo struct {
	DeviceID int
	SMCount  int
}

// SchedulerArguments parameterize the kernel's tile scheduler.
// Persistent schedulers read MaxSwizzle and Order only; stream-K
// schedulers additionally read Splits and Decomposition.
type SchedulerArguments struct {
	Splits        int
	MaxSwizzle    int
	Order         RasterOrder
	Decomposition DecompositionMode
}

// MainloopArguments are the device-side A/B operand arguments in the
// shape the kernel expects. Sparse kernels receive the compressed A and
// the metadata tensor E in place of dense A.
type MainloopArguments struct {
	A       device.DevicePtr
	StrideA Stride
	B       device.DevicePtr
	StrideB Stride

	// Structured-sparse operands.
	E                 device.DevicePtr
	StrideACompressed Stride
	StrideE           Stride
}

// FusionArguments is the general fusion-operation argument bundle.
// Pointers for unused capabilities stay nil.
type FusionArguments struct {
	Alpha, Beta       float32
	AlphaPtr, BetaPtr device.DevicePtr
	DAlpha, DBeta     Stride

	ScaleA, ScaleB, ScaleC, ScaleD             float32
	ScaleAPtr, ScaleBPtr, ScaleCPtr, ScaleDPtr device.DevicePtr

	BiasPtr  device.DevicePtr
	DBiasPtr device.DevicePtr

	Activation ActivationArguments

	AmaxDPtr device.DevicePtr

	AuxPtr      device.DevicePtr
	DAux        Stride
	ScaleAux    float32
	ScaleAuxPtr device.DevicePtr
	AmaxAuxPtr  device.DevicePtr
}

// LegacyEpilogueArguments is the flatter argument shape used by the
// bias + elementwise dispatch policy.
type LegacyEpilogueArguments struct {
	Alpha, Beta       float32
	AlphaPtr, BetaPtr device.DevicePtr
	BiasPtr           device.DevicePtr
	AuxPtr            device.DevicePtr
}

// EpilogueArguments are the device-side C/D and fusion arguments.
// Legacy is set iff the kernel declares the legacy epilogue policy.
type EpilogueArguments struct {
	C       device.DevicePtr
	StrideC Stride
	D       device.DevicePtr
	StrideD Stride

	Fusion FusionArguments
	Legacy *LegacyEpilogueArguments
}

// Arguments is the full kernel argument bundle assembled by the
// orchestrator.
type Arguments struct {
	Problem   ProblemShape
	Mainloop  MainloopArguments
	Epilogue  EpilogueArguments
	Hardware  HardwareInfo
	Scheduler SchedulerArguments
}

// Kernel is the boundary with the kernel under test. The harness treats
// it as a black box exposing the standard four-step lifecycle plus its
// compile-time traits.
type Kernel interface {
	Traits() Traits
	CanImplement(args Arguments) Status
	WorkspaceSize(args Arguments) int
	Initialize(args Arguments, workspace device.DevicePtr) Status
	Run() Status
}

// CompressorArguments are the inputs of the structured-sparse
// compression transform: dense A in, compressed A and metadata E out.
type CompressorArguments struct {
	Problem     ProblemShape
	A           device.DevicePtr
	StrideA     Stride
	ACompressed device.DevicePtr
	E           device.DevicePtr
	Hardware    HardwareInfo
}

// Compressor is the auxiliary device transform run by the sparse
// provisioner before the GEMM kernel. It reports its own status at each
// lifecycle step; any non-success aborts provisioning.
type Compressor interface {
	CanImplement(args CompressorArguments) Status
	WorkspaceSize(args CompressorArguments) int
	Initialize(args CompressorArguments, workspace device.DevicePtr) Status
	Run() Status
}

// Splits is the number of K splits to request. The explicit type keeps
// run(...) call sites from transposing integer arguments. The zero
// value means the default of one split.
type Splits int

// Int returns the effective split count.
func (s Splits) Int() int {
	if s <= 0 {
		return 1
	}
	return int(s)
}

// MaxSwizzleSize is the maximum tile-assignment swizzle to request. The
// zero value means the default of 1.
type MaxSwizzleSize int

// Int returns the effective swizzle size.
func (m MaxSwizzleSize) Int() int {
	if m <= 0 {
		return 1
	}
	return int(m)
}

// Iterations is the number of profiling iterations. The zero value
// means the default of 20.
type Iterations int

// Int returns the effective iteration count.
func (i Iterations) Int() int {
	if i <= 0 {
		return 20
	}
	return int(i)
}
