//go:build !nogpu

package gpu

import (
	"context"
	"log/slog"
)

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func nopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// SetLogger sets the logger of the device.
// Called by histeq.SetLogger and histeq.WithLogger. Pass nil to silence it.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = nopLogger()
	}
	d.logger.Store(l)
}

// slogger returns the device logger.
// All logging in internal/gpu goes through this method.
func (d *Device) slogger() *slog.Logger {
	if l := d.logger.Load(); l != nil {
		return l
	}
	return nopLogger()
}
