package imageio

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
)

// ErrPGM is wrapped by every PGM decoding error.
var ErrPGM = errors.New("imageio: invalid PGM")

// maxPGMPixels bounds the allocation for a decoded header.
const maxPGMPixels = 1 << 28

func init() {
	image.RegisterFormat("pgm", "P5", DecodePGM, DecodePGMConfig)
	image.RegisterFormat("pgm", "P2", DecodePGM, DecodePGMConfig)
}

type pgmHeader struct {
	raw           bool
	width, height int
	maxval        int
}

// pgmReader tokenizes a Netpbm header and ASCII raster.
type pgmReader struct {
	r *bufio.Reader
}

func (p *pgmReader) skipSpace() error {
	for {
		c, err := p.r.ReadByte()
		if err != nil {
			return err
		}
		switch {
		case c == '#':
			if _, err := p.r.ReadString('\n'); err != nil {
				return err
			}
		case isSpace(c):
		default:
			return p.r.UnreadByte()
		}
	}
}

func (p *pgmReader) int() (int, error) {
	if err := p.skipSpace(); err != nil {
		return 0, err
	}
	n := 0
	digits := 0
	for {
		c, err := p.r.ReadByte()
		if errors.Is(err, io.EOF) && digits > 0 {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		if c < '0' || c > '9' {
			if digits == 0 {
				return 0, fmt.Errorf("%w: unexpected byte %q", ErrPGM, c)
			}
			return n, p.r.UnreadByte()
		}
		n = n*10 + int(c-'0')
		digits++
		if n > 1<<24 {
			return 0, fmt.Errorf("%w: number too large", ErrPGM)
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func readPGMHeader(r *bufio.Reader) (pgmHeader, error) {
	var h pgmHeader
	magic := make([]byte, 2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return h, fmt.Errorf("%w: %w", ErrPGM, err)
	}
	switch string(magic) {
	case "P5":
		h.raw = true
	case "P2":
	default:
		return h, fmt.Errorf("%w: magic %q", ErrPGM, magic)
	}

	p := &pgmReader{r: r}
	var err error
	for _, dst := range []*int{&h.width, &h.height, &h.maxval} {
		if *dst, err = p.int(); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return h, fmt.Errorf("%w: header: %w", ErrPGM, err)
		}
	}
	if h.width <= 0 || h.height <= 0 {
		return h, fmt.Errorf("%w: dimensions %dx%d", ErrPGM, h.width, h.height)
	}
	if h.width*h.height > maxPGMPixels {
		return h, fmt.Errorf("%w: %dx%d exceeds the pixel limit", ErrPGM, h.width, h.height)
	}
	if h.maxval <= 0 || h.maxval > 65535 {
		return h, fmt.Errorf("%w: maxval %d", ErrPGM, h.maxval)
	}
	if h.raw {
		// Exactly one whitespace byte separates the header from the raster.
		c, err := r.ReadByte()
		if err != nil {
			return h, fmt.Errorf("%w: %w", ErrPGM, io.ErrUnexpectedEOF)
		}
		if !isSpace(c) {
			return h, fmt.Errorf("%w: missing raster separator", ErrPGM)
		}
	}
	return h, nil
}

// DecodePGMConfig returns the dimensions of a P2 or P5 image.
func DecodePGMConfig(r io.Reader) (image.Config, error) {
	h, err := readPGMHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.GrayModel, Width: h.width, Height: h.height}, nil
}

// DecodePGM reads a P2 (ASCII) or P5 (binary) graymap. Samples with a
// maxval other than 255 are rescaled to 8 bits with rounding.
func DecodePGM(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readPGMHeader(br)
	if err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, h.width, h.height))
	n := h.width * h.height

	switch {
	case h.raw && h.maxval < 256:
		if _, err := io.ReadFull(br, img.Pix[:n]); err != nil {
			return nil, fmt.Errorf("%w: raster: %w", ErrPGM, err)
		}
		if h.maxval != 255 {
			for i, v := range img.Pix[:n] {
				img.Pix[i] = scaleSample(int(v), h.maxval)
			}
		}
	case h.raw:
		buf := make([]byte, 2*h.width)
		for y := 0; y < h.height; y++ {
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, fmt.Errorf("%w: raster: %w", ErrPGM, err)
			}
			row := img.Pix[y*img.Stride:]
			for x := 0; x < h.width; x++ {
				v := int(buf[2*x])<<8 | int(buf[2*x+1])
				row[x] = scaleSample(v, h.maxval)
			}
		}
	default:
		p := &pgmReader{r: br}
		for i := 0; i < n; i++ {
			v, err := p.int()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return nil, fmt.Errorf("%w: sample %d: %w", ErrPGM, i, err)
			}
			if v > h.maxval {
				return nil, fmt.Errorf("%w: sample %d = %d exceeds maxval %d", ErrPGM, i, v, h.maxval)
			}
			img.Pix[i] = scaleSample(v, h.maxval)
		}
	}
	return img, nil
}

func scaleSample(v, maxval int) uint8 {
	if maxval == 255 {
		return uint8(v) //nolint:gosec // v <= 255
	}
	if v >= maxval {
		return 255
	}
	return uint8((v*255 + maxval/2) / maxval) //nolint:gosec // < 256
}

// EncodePGM writes g as a binary P5 graymap with maxval 255.
func EncodePGM(w io.Writer, g *image.Gray) error {
	b := g.Bounds()
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("P5\n" + strconv.Itoa(b.Dx()) + " " + strconv.Itoa(b.Dy()) + "\n255\n"); err != nil {
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := g.PixOffset(b.Min.X, y)
		if _, err := bw.Write(g.Pix[off : off+b.Dx()]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
