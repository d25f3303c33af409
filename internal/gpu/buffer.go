//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/histeq"
	"github.com/gogpu/wgpu/hal"
)

// Buffer errors.
var (
	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("gpu: buffer has been destroyed")

	// ErrForeignBuffer is returned for buffers created by another device.
	ErrForeignBuffer = errors.New("gpu: buffer does not belong to this device")

	// ErrInvalidBufferSize is returned when a transfer exceeds the buffer size.
	ErrInvalidBufferSize = errors.New("gpu: invalid buffer size")
)

// minBufferSize is the smallest buffer the HAL accepts for storage bindings.
const minBufferSize = 4

// buffer is a device buffer handed out as histeq.Buffer.
type buffer struct {
	label string
	size  uint64 // requested size
	alloc uint64 // allocated size, a multiple of 4
	raw   hal.Buffer
	owner *Device
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() uint64  { return b.size }

// align4 rounds n up to a multiple of 4, with a minimum of minBufferSize.
func align4(n uint64) uint64 {
	n = (n + 3) &^ 3
	if n < minBufferSize {
		n = minBufferSize
	}
	return n
}

// halUsage maps histeq buffer usage to wgpu usage flags. Every buffer can be
// written by the host for zero-filling and copied out for read-back.
func halUsage(u histeq.BufferUsage) gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if u&histeq.BufferUsageStorage != 0 {
		usage |= gputypes.BufferUsageStorage
	}
	return usage
}

// CreateBuffer allocates a storage buffer.
func (d *Device) CreateBuffer(desc histeq.BufferDescriptor) (histeq.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, errNotReady
	}

	alloc := align4(desc.Size)
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "histeq_" + desc.Label,
		Size:  alloc,
		Usage: halUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create %s buffer (%d bytes): %w", desc.Label, alloc, err)
	}
	if desc.ZeroInit {
		d.queue.WriteBuffer(raw, 0, make([]byte, alloc))
	}

	b := &buffer{label: desc.Label, size: desc.Size, alloc: alloc, raw: raw, owner: d}
	d.live[b] = struct{}{}
	d.slogger().Debug("gpu: buffer created",
		"label", desc.Label,
		"bytes", alloc,
		"zero_init", desc.ZeroInit)
	return b, nil
}

// DestroyBuffer releases a buffer. Nil and foreign buffers are ignored.
func (d *Device) DestroyBuffer(hb histeq.Buffer) {
	b, ok := hb.(*buffer)
	if !ok || b == nil || b.owner != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, live := d.live[b]; !live {
		return
	}
	delete(d.live, b)
	d.device.DestroyBuffer(b.raw)
	b.raw = nil
}

// lookup returns the live buffer behind hb. The caller holds d.mu.
func (d *Device) lookup(hb histeq.Buffer) (*buffer, error) {
	b, ok := hb.(*buffer)
	if !ok || b == nil || b.owner != d {
		return nil, ErrForeignBuffer
	}
	if _, live := d.live[b]; !live {
		return nil, fmt.Errorf("%w: %s", ErrBufferDestroyed, b.label)
	}
	return b, nil
}

// WriteBuffer uploads data to the start of the buffer.
func (d *Device) WriteBuffer(hb histeq.Buffer, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return errNotReady
	}
	b, err := d.lookup(hb)
	if err != nil {
		return err
	}
	if uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write of %d bytes into %s (%d bytes)", ErrInvalidBufferSize, len(data), b.label, b.size)
	}

	// Writes must cover whole words.
	if len(data)%4 != 0 {
		padded := make([]byte, align4(uint64(len(data))))
		copy(padded, data)
		data = padded
	}
	d.queue.WriteBuffer(b.raw, 0, data)
	return nil
}

// ReadBuffer copies len(dst) bytes from the start of the buffer through a
// staging buffer. It blocks until the copy has completed on the GPU.
func (d *Device) ReadBuffer(hb histeq.Buffer, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return errNotReady
	}
	b, err := d.lookup(hb)
	if err != nil {
		return err
	}
	if uint64(len(dst)) > b.size {
		return fmt.Errorf("%w: read of %d bytes from %s (%d bytes)", ErrInvalidBufferSize, len(dst), b.label, b.size)
	}
	if len(dst) == 0 {
		return nil
	}

	size := align4(uint64(len(dst)))
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "histeq_staging_" + b.label,
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	res := &submission{device: d.device}
	defer res.cleanup()

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "histeq_readback"})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("histeq_readback"); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf

	if err := d.submitAndWait(res); err != nil {
		return err
	}

	readback := dst
	if uint64(len(dst)) != size {
		readback = make([]byte, size)
	}
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return fmt.Errorf("gpu: read back %s: %w", b.label, err)
	}
	if &readback[0] != &dst[0] {
		copy(dst, readback)
	}
	return nil
}
