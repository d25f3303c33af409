package histeq

import (
	"errors"
	"fmt"
)

var (
	// ErrBinCount is wrapped by ConfigurationError when a bin count other
	// than the supported one is requested.
	ErrBinCount = errors.New("histeq: unsupported histogram bin count")

	// ErrScanWidth is wrapped by ConfigurationError when the scan work-group
	// width is outside the range the kernels support.
	ErrScanWidth = errors.New("histeq: unsupported scan width")

	// ErrInvalidImage indicates an empty image or a pixel slice whose length
	// does not match its dimensions.
	ErrInvalidImage = errors.New("histeq: invalid image")

	// ErrDeviceClosed is returned when an Equalizer is used after Close.
	ErrDeviceClosed = errors.New("histeq: device closed")

	// ErrFallbackToCPU indicates the GPU device cannot be used. In automatic
	// mode the Equalizer switches to the software device at construction time.
	ErrFallbackToCPU = errors.New("histeq: falling back to CPU device")
)

// ConfigurationError reports a pipeline parameter that the kernels cannot
// honour. It is returned before any device work is issued.
type ConfigurationError struct {
	Param string
	Got   int
	Want  int
}

func (e *ConfigurationError) Error() string {
	if e.Param == paramScanWidth {
		return fmt.Sprintf("histeq: %s = %d, want 1..%d", e.Param, e.Got, e.Want)
	}
	return fmt.Sprintf("histeq: %s = %d, want %d", e.Param, e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrBinCount or ErrScanWidth.
func (e *ConfigurationError) Unwrap() error {
	if e.Param == paramScanWidth {
		return ErrScanWidth
	}
	return ErrBinCount
}

const (
	paramBins      = "bins"
	paramScanWidth = "scan_width"
)

// BuildError reports a compute program that failed to compile for the
// selected device. Status, Options and Log mirror what a driver build query
// exposes.
type BuildError struct {
	Program string
	Status  string
	Options string
	Log     string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("histeq: build %s: status=%s options=%q: %s", e.Program, e.Status, e.Options, e.Log)
}

func (e *BuildError) Unwrap() error { return e.Err }

// DeviceError reports a failed device operation (buffer allocation, upload,
// read-back, binding or dispatch) and the pipeline stage it belongs to.
type DeviceError struct {
	Stage Stage
	Op    string
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("histeq: %s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// deviceErr wraps err as a *DeviceError unless it already is one.
func deviceErr(stage Stage, op string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Stage: stage, Op: op, Err: err}
}
