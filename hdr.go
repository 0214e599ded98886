package layerio

import (
	"fmt"
	"image"
	"os"

	"github.com/mdouchement/hdr"
	_ "github.com/mdouchement/hdr/codec/rgbe"
)

func init() {
	RegisterInput(".hdr", openHDR)
	RegisterInput(".rgbe", openHDR)
}

// openHDR decodes a Radiance picture and serves its unclamped linear
// radiance values. RGBE carries no alpha, so the subimage always exposes
// three channels.
func openHDR(path string, opts *Options) (ImageInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m, ok := img.(hdr.Image)
	if !ok {
		return newRasterInput(img, format, opts), nil
	}
	return newHDRInput(m, format), nil
}

// newHDRInput snapshots an hdr.Image's radiance values, unclamped.
func newHDRInput(m hdr.Image, format string) *rasterInput {
	b := m.Bounds()
	w, h := b.Dx(), b.Dy()
	px := make([]float32, w*h*3)
	for y := 0; y < h; y++ {
		row := y * w * 3
		for x := 0; x < w; x++ {
			r, g, bl, _ := m.HDRAt(b.Min.X+x, b.Min.Y+y).HDRRGBA()
			at := row + x*3
			px[at+0] = float32(r)
			px[at+1] = float32(g)
			px[at+2] = float32(bl)
		}
	}
	return &rasterInput{
		spec:   newRasterSpec(w, h, []string{"R", "G", "B"}, -1, format),
		pixels: px,
		nch:    3,
	}
}
