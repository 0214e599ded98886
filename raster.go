package layerio

import (
	"fmt"
	"image"
	"image/color"
)

// rasterInput serves a whole decoded raster from memory as a single
// scanline subimage whose data and display windows coincide at origin
// (0,0). The LDR and Radiance backends both build one; only the pixel
// extraction differs.
type rasterInput struct {
	spec   ImageSpec
	pixels []float32 // interleaved, (y*Width+x)*nch + c
	nch    int
}

func (in *rasterInput) NumSubimages() int { return 1 }

func (in *rasterInput) Spec(sub int) (*ImageSpec, error) {
	if sub != 0 {
		return nil, fmt.Errorf("%w: %d of 1", ErrBadSubimage, sub)
	}
	return &in.spec, nil
}

func (in *rasterInput) Close() error {
	in.pixels = nil
	return nil
}

func (in *rasterInput) checkRange(x1, x2, y1, y2, ch1, ch2 int) error {
	s := &in.spec
	if x1 >= x2 || y1 >= y2 || x1 < 0 || x2 > s.Width || y1 < 0 || y2 > s.Height {
		return fmt.Errorf("%w: (%d,%d)-(%d,%d)", ErrBadRegion, x1, y1, x2, y2)
	}
	if ch1 < 0 || ch1 >= ch2 || ch2 > in.nch {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrBadChannel, ch1, ch2, in.nch)
	}
	return nil
}

func (in *rasterInput) ReadScanlines(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error {
	if sub != 0 {
		return fmt.Errorf("%w: %d of 1", ErrBadSubimage, sub)
	}
	if err := in.checkRange(x1, x2, y1, y2, ch1, ch2); err != nil {
		return err
	}
	w := in.spec.Width
	for y := y1; y < y2; y++ {
		src := (y*w + x1) * in.nch
		dstRow := dstOffset + (y-y1)*yStride
		for x := 0; x < x2-x1; x++ {
			for c := ch1; c < ch2; c++ {
				dst[dstRow+x*xStride+(c-ch1)] = in.pixels[src+x*in.nch+c]
			}
		}
	}
	return nil
}

func (in *rasterInput) ReadTiles(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error {
	return fmt.Errorf("%w: tile read on scanline raster", ErrDecodeFailed)
}

// newRasterSpec builds the one-subimage spec shared by the raster
// backends. format names the container for the metadata dump.
func newRasterSpec(w, h int, channels []string, alpha int, format string) ImageSpec {
	attrs := map[string]any{}
	if format != "" {
		attrs["fileFormat"] = format
	}
	return ImageSpec{
		Width: w, Height: h,
		FullWidth: w, FullHeight: h,
		Channels:     channels,
		AlphaChannel: alpha,
		Attrs:        attrs,
	}
}

// newRasterInput converts a decoded LDR image to float samples in [0,1].
// Grayscale images expose a single Y channel, opaque color images R,G,B
// and everything else R,G,B,A. Alpha stays associated unless opts asks
// for the raw unassociated values.
func newRasterInput(img image.Image, format string, opts *Options) *rasterInput {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	gray := false
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		gray = true
	}
	opaque := false
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}

	var channels []string
	alpha := -1
	switch {
	case gray:
		channels = []string{"Y"}
	case opaque:
		channels = []string{"R", "G", "B"}
	default:
		channels = []string{"R", "G", "B", "A"}
		alpha = 3
	}
	nch := len(channels)

	px := make([]float32, w*h*nch)
	const scale = 1.0 / 65535
	for y := 0; y < h; y++ {
		row := y * w * nch
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			at := row + x*nch
			switch {
			case gray:
				g := color.Gray16Model.Convert(c).(color.Gray16)
				px[at] = float32(g.Y) * scale
			case nch == 4 && opts.KeepUnassociatedAlpha:
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				px[at+0] = float32(n.R) * scale
				px[at+1] = float32(n.G) * scale
				px[at+2] = float32(n.B) * scale
				px[at+3] = float32(n.A) * scale
			default:
				r, g, bl, a := c.RGBA()
				px[at+0] = float32(r) * scale
				px[at+1] = float32(g) * scale
				px[at+2] = float32(bl) * scale
				if nch == 4 {
					px[at+3] = float32(a) * scale
				}
			}
		}
	}

	return &rasterInput{
		spec:   newRasterSpec(w, h, channels, alpha, format),
		pixels: px,
		nch:    nch,
	}
}
