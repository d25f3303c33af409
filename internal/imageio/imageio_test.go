package imageio

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/histeq"
)

func TestDecodePGM(t *testing.T) {
	tests := []struct {
		name  string
		input string
		w, h  int
		want  []uint8
	}{
		{
			name:  "binary",
			input: "P5\n2 2\n255\n\x0a\x0a\xc8\xc8",
			w:     2,
			h:     2,
			want:  []uint8{10, 10, 200, 200},
		},
		{
			name:  "binary raster starting with whitespace byte",
			input: "P5 3 1 255\n\x20\x09\x0a",
			w:     3,
			h:     1,
			want:  []uint8{32, 9, 10},
		},
		{
			name:  "ascii with comments",
			input: "P2\n# created by hand\n3 1\n# max\n255\n0 128\n255\n",
			w:     3,
			h:     1,
			want:  []uint8{0, 128, 255},
		},
		{
			name:  "ascii rescaled maxval",
			input: "P2 3 1 15 0 8 15",
			w:     3,
			h:     1,
			want:  []uint8{0, 136, 255},
		},
		{
			name:  "binary 16 bit",
			input: "P5 2 1 65535\n\x00\x00\xff\xff",
			w:     2,
			h:     1,
			want:  []uint8{0, 255},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodePGM(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("DecodePGM() error = %v", err)
			}
			g := img.(*image.Gray)
			if g.Bounds().Dx() != tt.w || g.Bounds().Dy() != tt.h {
				t.Fatalf("bounds = %v, want %dx%d", g.Bounds(), tt.w, tt.h)
			}
			if !bytes.Equal(g.Pix, tt.want) {
				t.Errorf("Pix = %v, want %v", g.Pix, tt.want)
			}
		})
	}
}

func TestDecodePGM_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong magic", "P6\n1 1\n255\n\x00\x00\x00"},
		{"zero width", "P5\n0 1\n255\n"},
		{"bad maxval", "P5\n1 1\n70000\n\x00"},
		{"truncated header", "P5\n4"},
		{"truncated raster", "P5\n2 2\n255\n\x00"},
		{"ascii sample above maxval", "P2 1 1 10 11"},
		{"ascii garbage", "P2 1 1 255 x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePGM(strings.NewReader(tt.input))
			if !errors.Is(err, ErrPGM) {
				t.Errorf("DecodePGM() error = %v, want ErrPGM", err)
			}
		})
	}
}

func TestPGMRegistered(t *testing.T) {
	cfg, format, err := image.DecodeConfig(strings.NewReader("P5\n4 3\n255\n"))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if format != "pgm" || cfg.Width != 4 || cfg.Height != 3 {
		t.Errorf("DecodeConfig() = %+v, %q", cfg, format)
	}
}

func TestEncodePGM(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range g.Pix {
		g.Pix[i] = uint8(i * 40)
	}
	var buf bytes.Buffer
	if err := EncodePGM(&buf, g); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("P5\n3 2\n255\n")) {
		t.Errorf("header = %q", buf.Bytes()[:11])
	}

	back, err := DecodePGM(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.(*image.Gray).Pix, g.Pix) {
		t.Errorf("decoded = %v, want %v", back.(*image.Gray).Pix, g.Pix)
	}
}

func TestEncodePGM_SubImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = uint8(i)
	}
	sub := g.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)

	var buf bytes.Buffer
	if err := EncodePGM(&buf, sub); err != nil {
		t.Fatal(err)
	}
	back, err := DecodePGM(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{5, 6, 9, 10}
	if !bytes.Equal(back.(*image.Gray).Pix, want) {
		t.Errorf("decoded = %v, want %v", back.(*image.Gray).Pix, want)
	}
}

func TestGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(2, 2, 4, 3))
	src.Set(2, 2, color.RGBA{255, 255, 255, 255})
	src.Set(3, 2, color.RGBA{0, 0, 0, 255})

	g := Gray(src)
	if g.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds = %v", g.Bounds())
	}
	if g.Pix[0] != 255 || g.Pix[1] != 0 {
		t.Errorf("Pix = %v, want [255 0]", g.Pix)
	}

	same := image.NewGray(image.Rect(0, 0, 1, 1))
	if Gray(same) != same {
		t.Error("Gray() copied an origin-based *image.Gray")
	}
}

func TestSaveLoad(t *testing.T) {
	img := histeq.NewImage(8, 4)
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}

	for _, ext := range []string{".pgm", ".png", ".bmp", ".tif"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out"+ext)
			if err := Save(path, img); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !got.Equal(img) {
				t.Errorf("Load() = %v, want %v", got.Pix, img.Pix)
			}
		})
	}
}

func TestSave_UnknownExtension(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "out.xyz"), histeq.NewImage(1, 1))
	if err == nil {
		t.Fatal("Save() error = nil for unknown extension")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("Load() error = nil")
	}
}

func TestFit(t *testing.T) {
	img := histeq.NewImage(100, 50)
	if Fit(img, 0) != img || Fit(img, 200) != img {
		t.Error("Fit() resized an image that already fits")
	}
	small := Fit(img, 20)
	if small.Width != 20 || small.Height != 10 {
		t.Errorf("Fit(20) = %dx%d, want 20x10", small.Width, small.Height)
	}
}

func TestScale(t *testing.T) {
	img := histeq.NewImage(4, 4)
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	out := Scale(img, 2, 2)
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("Scale() = %dx%d", out.Width, out.Height)
	}
	for i, v := range out.Pix {
		if v != 77 {
			t.Errorf("Pix[%d] = %d, want 77", i, v)
		}
	}
}
