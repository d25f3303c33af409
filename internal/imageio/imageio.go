// Package imageio loads and saves images for the histeq command.
//
// Any format registered with the image package can be read; PNG, JPEG, GIF,
// TIFF and BMP come from github.com/disintegration/imaging and binary or
// ASCII PGM from this package. Color inputs are reduced to luminance.
package imageio

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/histeq"
)

// Load decodes the image at path and converts it to intensities.
// EXIF orientation of JPEG inputs is applied.
func Load(path string) (*histeq.Image, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imageio: open %s: %w", path, err)
	}
	return histeq.FromImage(Gray(src)), nil
}

// Gray returns src as an *image.Gray with bounds starting at the origin.
func Gray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}

// Fit downscales src so that it fits within maxSide x maxSide, keeping the
// aspect ratio. A non-positive maxSide or a smaller image is returned as is.
func Fit(src *histeq.Image, maxSide int) *histeq.Image {
	if maxSide <= 0 || (src.Width <= maxSide && src.Height <= maxSide) {
		return src
	}
	return histeq.FromImage(imaging.Fit(src.ToGray(), maxSide, maxSide, imaging.Lanczos))
}

// Scale resizes src to width x height with bilinear sampling.
func Scale(src *histeq.Image, width, height int) *histeq.Image {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	g := src.ToGray()
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), g, g.Bounds(), xdraw.Src, nil)
	return histeq.FromImage(dst)
}

// Save encodes img to path. The format follows the file extension:
// .pgm writes a binary graymap, everything else goes through imaging.
func Save(path string, img *histeq.Image) error {
	g := img.ToGray()
	if strings.EqualFold(filepath.Ext(path), ".pgm") {
		f, err := os.Create(path) //nolint:gosec // user-supplied output path
		if err != nil {
			return fmt.Errorf("imageio: %w", err)
		}
		if err := EncodePGM(f, g); err != nil {
			_ = f.Close()
			return fmt.Errorf("imageio: write %s: %w", path, err)
		}
		return f.Close()
	}
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return fmt.Errorf("imageio: %s: %w", path, err)
	}
	if err := imaging.Save(g, path); err != nil {
		return fmt.Errorf("imageio: save %s: %w", path, err)
	}
	return nil
}
