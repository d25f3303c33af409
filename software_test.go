package histeq

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func newTestSoftwareDevice(t *testing.T, workers int) *SoftwareDevice {
	t.Helper()
	d := NewSoftwareDevice(workers)
	if err := d.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestSoftwareDevice_NotInitialized(t *testing.T) {
	d := NewSoftwareDevice(1)
	if _, err := d.CreateBuffer(BufferDescriptor{Label: "x", Size: 4}); err == nil {
		t.Error("CreateBuffer() before Init succeeded")
	}
	d.Close() // no-op
}

func TestSoftwareDevice_BufferLifecycle(t *testing.T) {
	d := newTestSoftwareDevice(t, 2)

	b, err := d.CreateBuffer(BufferDescriptor{Label: "pixels", Size: 6, ZeroInit: true})
	if err != nil {
		t.Fatal(err)
	}
	if b.Label() != "pixels" || b.Size() != 6 || d.LiveBuffers() != 1 {
		t.Errorf("buffer %q size %d, live %d", b.Label(), b.Size(), d.LiveBuffers())
	}

	data := []byte{1, 2, 3, 4, 5, 6}
	if err := d.WriteBuffer(b, data); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 6)
	if err := d.ReadBuffer(b, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadBuffer() = %v, want %v", got, data)
	}

	if err := d.WriteBuffer(b, make([]byte, 7)); err == nil {
		t.Error("oversized write succeeded")
	}
	if err := d.ReadBuffer(b, make([]byte, 7)); err == nil {
		t.Error("oversized read succeeded")
	}

	d.DestroyBuffer(b)
	if d.LiveBuffers() != 0 {
		t.Errorf("LiveBuffers() = %d after destroy", d.LiveBuffers())
	}
	if err := d.WriteBuffer(b, data); err == nil {
		t.Error("write after destroy succeeded")
	}
	d.DestroyBuffer(nil)
}

func TestSoftwareDevice_RejectsForeignBuffer(t *testing.T) {
	d := newTestSoftwareDevice(t, 1)
	if err := d.WriteBuffer(foreignBuffer{}, []byte{1}); err == nil {
		t.Error("WriteBuffer(foreign) succeeded")
	}
}

type foreignBuffer struct{}

func (foreignBuffer) Label() string { return "foreign" }
func (foreignBuffer) Size() uint64  { return 4 }

func TestSoftwareDevice_DispatchHistogram(t *testing.T) {
	d := newTestSoftwareDevice(t, 4)

	n := 3000
	pixels := make([]byte, n)
	for i := range pixels {
		pixels[i] = byte(i % 3)
	}
	pb, _ := d.CreateBuffer(BufferDescriptor{Label: "pixels", Size: uint64(n)})
	hb, _ := d.CreateBuffer(BufferDescriptor{Label: "histogram", Size: Bins * 4, ZeroInit: true})
	if err := d.WriteBuffer(pb, pixels); err != nil {
		t.Fatal(err)
	}

	o := defaultOptions()
	err := d.Dispatch(Dispatch{Stage: StageHistogram, Params: o.params(n), Bindings: []Buffer{pb, hb}})
	if err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	raw := make([]byte, Bins*4)
	if err := d.ReadBuffer(hb, raw); err != nil {
		t.Fatal(err)
	}
	for bin, want := range []uint32{1000, 1000, 1000, 0} {
		if got := binary.LittleEndian.Uint32(raw[4*bin:]); got != want {
			t.Errorf("bin %d = %d, want %d", bin, got, want)
		}
	}
}

func TestSoftwareDevice_DispatchErrors(t *testing.T) {
	d := newTestSoftwareDevice(t, 1)
	small, _ := d.CreateBuffer(BufferDescriptor{Label: "small", Size: 4})
	hist, _ := d.CreateBuffer(BufferDescriptor{Label: "histogram", Size: Bins * 4})

	o := defaultOptions()
	good := o.params(16)
	badSegments := good
	badSegments.Segments = 2

	tests := []struct {
		name string
		d    Dispatch
	}{
		{"missing binding", Dispatch{Stage: StageHistogram, Params: good, Bindings: []Buffer{small}}},
		{"segments mismatch", Dispatch{Stage: StageScanOffsets, Params: badSegments, Bindings: []Buffer{hist, small}}},
		{"zero bins", Dispatch{Stage: StageNormalize, Params: Params{ScanWidth: 1}, Bindings: []Buffer{hist, hist}}},
		{"pixel buffer too small", Dispatch{Stage: StageHistogram, Params: good, Bindings: []Buffer{small, hist}}},
		{"histogram buffer too small", Dispatch{Stage: StageNormalize, Params: good, Bindings: []Buffer{hist, small}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Dispatch(tt.d); err == nil {
				t.Error("Dispatch() succeeded")
			}
		})
	}

	d.Close()
	if err := d.Dispatch(Dispatch{Stage: StageNormalize, Params: good, Bindings: []Buffer{hist, hist}}); err == nil {
		t.Error("Dispatch() after Close succeeded")
	}
}
