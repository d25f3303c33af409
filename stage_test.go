package histeq

import (
	"encoding/binary"
	"testing"
)

func TestStage_StringAndBindings(t *testing.T) {
	tests := []struct {
		stage    Stage
		name     string
		bindings int
	}{
		{StageHistogram, "histogram", 2},
		{StageScanSegments, "scan_segments", 3},
		{StageScanOffsets, "scan_offsets", 2},
		{StageNormalize, "normalize", 2},
		{StageLUT, "lut", 3},
		{StageCount, "Unknown(5)", 0},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.name {
			t.Errorf("Stage(%d).String() = %q, want %q", int(tt.stage), got, tt.name)
		}
		if got := tt.stage.Bindings(); got != tt.bindings {
			t.Errorf("%s.Bindings() = %d, want %d", tt.name, got, tt.bindings)
		}
	}
}

func TestParams_Bytes(t *testing.T) {
	p := Params{
		PixelCount: 1920 * 1080,
		Bins:       256,
		ScanWidth:  64,
		Segments:   4,
		CumMin:     7,
		Total:      1920 * 1080,
		Policy:     DegenerateSaturate,
	}
	b := p.Bytes()
	if len(b) != ParamsSize {
		t.Fatalf("len = %d, want %d", len(b), ParamsSize)
	}
	want := []uint32{1920 * 1080, 256, 64, 4, 7, 1920 * 1080, 1, 0}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(b[4*i:]); got != w {
			t.Errorf("word %d = %d, want %d", i, got, w)
		}
	}
}

func TestParams_Degenerate(t *testing.T) {
	if !(Params{CumMin: 4, Total: 4}).Degenerate() {
		t.Error("N == cmin not degenerate")
	}
	if (Params{CumMin: 2, Total: 4}).Degenerate() {
		t.Error("N > cmin reported degenerate")
	}
}

func TestDispatch_Validate(t *testing.T) {
	buf := &softBuffer{label: "b", size: 4, words: make([]uint32, 1)}
	tests := []struct {
		name    string
		d       Dispatch
		wantErr bool
	}{
		{"ok", Dispatch{Stage: StageHistogram, Bindings: []Buffer{buf, buf}}, false},
		{"unknown stage", Dispatch{Stage: StageCount, Bindings: []Buffer{buf, buf}}, true},
		{"negative stage", Dispatch{Stage: -1}, true},
		{"too few bindings", Dispatch{Stage: StageLUT, Bindings: []Buffer{buf, buf}}, true},
		{"nil binding", Dispatch{Stage: StageNormalize, Bindings: []Buffer{buf, nil}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.d.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkgroups(t *testing.T) {
	tests := []struct {
		n, size, want uint32
	}{
		{0, 256, 0},
		{1, 256, 1},
		{256, 256, 1},
		{257, 256, 2},
		{256, 7, 37},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := Workgroups(tt.n, tt.size); got != tt.want {
			t.Errorf("Workgroups(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}
