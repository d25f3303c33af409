package histeq

import "time"

// Profiler receives timing events from an Equalizer.
//
// ObserveStage is called once per stage with the wall time between dispatch
// and completed read-back. ObserveRun is called once per Equalize call; err
// is nil on success. Implementations must be safe for concurrent use when one
// Profiler is shared by several Equalizers.
//
// See github.com/gogpu/histeq/internal/metrics for a Prometheus implementation.
type Profiler interface {
	ObserveStage(stage Stage, device string, d time.Duration)
	ObserveRun(device string, pixels int, err error)
}

// StageTiming is the measured duration of one stage of a run.
type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// nopProfiler discards all events.
type nopProfiler struct{}

func (nopProfiler) ObserveStage(Stage, string, time.Duration) {}
func (nopProfiler) ObserveRun(string, int, error)             {}
