package histeq

// BufferUsage describes how a device buffer is accessed.
type BufferUsage uint32

const (
	// BufferUsageStorage marks a buffer bound to a kernel as storage.
	BufferUsageStorage BufferUsage = 1 << iota

	// BufferUsageCopyDst allows host writes into the buffer.
	BufferUsageCopyDst

	// BufferUsageCopySrc allows the buffer to be read back by the host.
	BufferUsageCopySrc
)

// BufferDescriptor describes a buffer to allocate.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage

	// ZeroInit requests zero-filled contents. Buffers accumulated with
	// atomic adds must set it.
	ZeroInit bool
}

// Buffer is an opaque block of device memory.
type Buffer interface {
	Label() string
	Size() uint64
}

// Device is the compute backend the Equalizer dispatches to.
//
// A Device is owned by exactly one Equalizer: it is initialised by New and
// released by Equalizer.Close. Implementations are provided by this package
// (the software device) and by github.com/gogpu/histeq/gpu.
type Device interface {
	// Name returns the device name (e.g., "software", "vulkan:Intel HD 515").
	Name() string

	// Init acquires device resources and builds the kernels. A kernel that
	// fails to compile is reported as *BuildError.
	Init() error

	// Close releases all device resources.
	Close()

	// CreateBuffer allocates a buffer.
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// DestroyBuffer releases a buffer. Nil buffers are ignored.
	DestroyBuffer(b Buffer)

	// WriteBuffer copies data into the start of b.
	WriteBuffer(b Buffer, data []byte) error

	// ReadBuffer copies len(dst) bytes from the start of b, blocking until
	// every previously dispatched kernel has completed.
	ReadBuffer(b Buffer, dst []byte) error

	// Dispatch runs one kernel over its bindings and returns once the
	// kernel's writes are visible to later dispatches and reads.
	Dispatch(d Dispatch) error
}

// DeviceProviderAware is an optional interface for devices that can share
// a GPU device with a host application instead of opening their own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}
