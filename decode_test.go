package layerio

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
)

// stubSample is the deterministic generator behind stubInput. Values are
// exactly representable so decoded output can be compared with ==.
func stubSample(sub, x, y, c int) float32 {
	return float32(sub*1000+c*100+y) + float32(x)/64
}

// stubInput serves stubSample values through the ImageInput contract,
// counting backend calls so tests can assert on read batching.
type stubInput struct {
	specs []*ImageSpec

	mu        sync.Mutex
	scanCalls int
	tileCalls int
}

func (in *stubInput) NumSubimages() int { return len(in.specs) }

func (in *stubInput) Spec(sub int) (*ImageSpec, error) {
	if sub < 0 || sub >= len(in.specs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadSubimage, sub, len(in.specs))
	}
	return in.specs[sub], nil
}

func (in *stubInput) Close() error { return nil }

func (in *stubInput) checkRange(sub, x1, x2, y1, y2, ch1, ch2 int) error {
	s := in.specs[sub]
	if x1 >= x2 || y1 >= y2 || x1 < s.X || x2 > s.X+s.Width || y1 < s.Y || y2 > s.Y+s.Height {
		return fmt.Errorf("%w: (%d,%d)-(%d,%d)", ErrBadRegion, x1, y1, x2, y2)
	}
	if ch1 < 0 || ch1 >= ch2 || ch2 > len(s.Channels) {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrBadChannel, ch1, ch2, len(s.Channels))
	}
	return nil
}

func (in *stubInput) fill(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) {
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			for c := ch1; c < ch2; c++ {
				dst[dstOffset+(y-y1)*yStride+(x-x1)*xStride+(c-ch1)] = stubSample(sub, x, y, c)
			}
		}
	}
}

func (in *stubInput) ReadScanlines(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error {
	if err := in.checkRange(sub, x1, x2, y1, y2, ch1, ch2); err != nil {
		return err
	}
	if in.specs[sub].Tiled() {
		return fmt.Errorf("%w: scanline read on tiled stub", ErrDecodeFailed)
	}
	in.mu.Lock()
	in.scanCalls++
	in.mu.Unlock()
	in.fill(sub, x1, x2, y1, y2, ch1, ch2, dst, dstOffset, xStride, yStride)
	return nil
}

func (in *stubInput) ReadTiles(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error {
	if err := in.checkRange(sub, x1, x2, y1, y2, ch1, ch2); err != nil {
		return err
	}
	if !in.specs[sub].TileAligned(x1, y1, x2, y2) {
		return fmt.Errorf("%w: (%d,%d)-(%d,%d) not tile-aligned", ErrBadRegion, x1, y1, x2, y2)
	}
	in.mu.Lock()
	in.tileCalls++
	in.mu.Unlock()
	in.fill(sub, x1, x2, y1, y2, ch1, ch2, dst, dstOffset, xStride, yStride)
	return nil
}

// newStubReader wires a stub backend into a Reader the way Open would.
func newStubReader(in *stubInput, opts *Options) *Reader {
	return &Reader{path: "stub.exr", opts: opts.withDefaults(), input: in}
}

func rgbaSpec(w, h int) *ImageSpec {
	return &ImageSpec{
		Width: w, Height: h, FullWidth: w, FullHeight: h,
		Channels:     []string{"R", "G", "B", "A"},
		AlphaChannel: 3,
		Attrs:        map[string]any{},
	}
}

// wantAt is the expected decoded sample at render pixel (rx, ry) for the
// given subimage and source channel, under horizontal offset off.
func wantAt(s *ImageSpec, sub, rx, ry, ch, off int) float32 {
	return stubSample(sub, rx-off, s.FullY+s.FullHeight-1-ry, ch)
}

func TestDecodeRGBAVerbatim(t *testing.T) {
	s := rgbaSpec(4, 3)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	dst := make([]float32, 4*3*4)
	err := r.Decode(&DecodeRequest{
		Format: FormatRGBA,
		Region: image.Rect(0, 0, 4, 3),
		Dst:    dst,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for ry := 0; ry < 3; ry++ {
		for rx := 0; rx < 4; rx++ {
			for c := 0; c < 4; c++ {
				got := dst[(ry*4+rx)*4+c]
				want := wantAt(s, 0, rx, ry, c, 0)
				if got != want {
					t.Fatalf("pixel (%d,%d) comp %d = %g, want %g", rx, ry, c, got, want)
				}
			}
		}
	}
}

func TestDecodeZeroPadding(t *testing.T) {
	s := rgbaSpec(4, 3)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	region := image.Rect(-2, -2, 6, 5)
	dst := make([]float32, region.Dx()*region.Dy()*4)
	for i := range dst {
		dst[i] = -99
	}
	err := r.Decode(&DecodeRequest{
		Format: FormatRGBA,
		Region: region,
		Dst:    dst,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	data := image.Rect(0, 0, 4, 3)
	for ry := region.Min.Y; ry < region.Max.Y; ry++ {
		for rx := region.Min.X; rx < region.Max.X; rx++ {
			at := ((ry-region.Min.Y)*region.Dx() + (rx - region.Min.X)) * 4
			inside := image.Pt(rx, ry).In(data)
			for c := 0; c < 4; c++ {
				got := dst[at+c]
				want := float32(0)
				if inside {
					want = wantAt(s, 0, rx, ry, c, 0)
				}
				if got != want {
					t.Fatalf("pixel (%d,%d) comp %d = %g, want %g", rx, ry, c, got, want)
				}
			}
		}
	}
}

// An RGB source decoded as RGBA gets a constant-one alpha across the
// whole region, padding included.
func TestDecodeConstantAlphaCoversPadding(t *testing.T) {
	s := &ImageSpec{
		Width: 4, Height: 2, FullWidth: 4, FullHeight: 2,
		Channels:     []string{"R", "G", "B"},
		AlphaChannel: -1,
		Attrs:        map[string]any{},
	}
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	region := image.Rect(-1, -1, 5, 3)
	dst := make([]float32, region.Dx()*region.Dy()*4)
	if err := r.Decode(&DecodeRequest{Region: region, Dst: dst}); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	data := image.Rect(0, 0, 4, 2)
	for ry := region.Min.Y; ry < region.Max.Y; ry++ {
		for rx := region.Min.X; rx < region.Max.X; rx++ {
			at := ((ry-region.Min.Y)*region.Dx() + (rx - region.Min.X)) * 4
			if got := dst[at+3]; got != 1 {
				t.Fatalf("alpha at (%d,%d) = %g, want 1", rx, ry, got)
			}
			if !image.Pt(rx, ry).In(data) {
				for c := 0; c < 3; c++ {
					if got := dst[at+c]; got != 0 {
						t.Fatalf("padding (%d,%d) comp %d = %g, want 0", rx, ry, c, got)
					}
				}
			}
		}
	}
}

func TestDecodeGrayscaleFanOut(t *testing.T) {
	s := &ImageSpec{
		Width: 3, Height: 2, FullWidth: 3, FullHeight: 2,
		Channels:     []string{"Y"},
		AlphaChannel: -1,
		Attrs:        map[string]any{},
	}
	in := &stubInput{specs: []*ImageSpec{s}}
	r := newStubReader(in, nil)

	dst := make([]float32, 3*2*4)
	if err := r.Decode(&DecodeRequest{Region: image.Rect(0, 0, 3, 2), Dst: dst}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.scanCalls != 1 {
		t.Errorf("scanCalls = %d, want 1 (duplicates must be copied, not re-read)", in.scanCalls)
	}
	for ry := 0; ry < 2; ry++ {
		for rx := 0; rx < 3; rx++ {
			at := (ry*3 + rx) * 4
			y := wantAt(s, 0, rx, ry, 0, 0)
			if dst[at] != y || dst[at+1] != y || dst[at+2] != y {
				t.Fatalf("pixel (%d,%d) = %v, want replicated %g", rx, ry, dst[at:at+3], y)
			}
			if dst[at+3] != 1 {
				t.Fatalf("alpha at (%d,%d) = %g, want 1", rx, ry, dst[at+3])
			}
		}
	}
}

func TestDecodeXYSplitRuns(t *testing.T) {
	s := rgbaSpec(3, 2)
	in := &stubInput{specs: []*ImageSpec{s}}
	r := newStubReader(in, nil)

	dst := make([]float32, 3*2*2)
	err := r.Decode(&DecodeRequest{
		Format: FormatXY,
		Region: image.Rect(0, 0, 3, 2),
		Dst:    dst,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.scanCalls != 2 {
		t.Errorf("scanCalls = %d, want 2 (channels 0 and 3 are disjoint runs)", in.scanCalls)
	}
	for ry := 0; ry < 2; ry++ {
		for rx := 0; rx < 3; rx++ {
			at := (ry*3 + rx) * 2
			if got, want := dst[at], wantAt(s, 0, rx, ry, 0, 0); got != want {
				t.Fatalf("comp 0 at (%d,%d) = %g, want %g", rx, ry, got, want)
			}
			if got, want := dst[at+1], wantAt(s, 0, rx, ry, 3, 0); got != want {
				t.Fatalf("comp 1 at (%d,%d) = %g, want %g", rx, ry, got, want)
			}
		}
	}
}

func TestDecodeConsecutiveRunBatching(t *testing.T) {
	in := &stubInput{specs: []*ImageSpec{rgbaSpec(4, 4)}}
	r := newStubReader(in, nil)
	dst := make([]float32, 4*4*4)
	if err := r.Decode(&DecodeRequest{Dst: dst}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.scanCalls != 1 {
		t.Errorf("scanCalls = %d, want 1 for four consecutive channels", in.scanCalls)
	}
}

func TestDecodeRawChannels(t *testing.T) {
	s := rgbaSpec(3, 2)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	dst := make([]float32, 3*2*2)
	err := r.Decode(&DecodeRequest{
		RawChannels: []int{2, 0},
		Region:      image.Rect(0, 0, 3, 2),
		Dst:         dst,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for ry := 0; ry < 2; ry++ {
		for rx := 0; rx < 3; rx++ {
			at := (ry*3 + rx) * 2
			if got, want := dst[at], wantAt(s, 0, rx, ry, 2, 0); got != want {
				t.Fatalf("comp 0 at (%d,%d) = %g, want %g", rx, ry, got, want)
			}
			if got, want := dst[at+1], wantAt(s, 0, rx, ry, 0, 0); got != want {
				t.Fatalf("comp 1 at (%d,%d) = %g, want %g", rx, ry, got, want)
			}
		}
	}
}

func TestDecodeStridedDestination(t *testing.T) {
	s := rgbaSpec(4, 4)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	const pixStride, rowStride = 6, 4 * 6
	region := image.Rect(1, 1, 3, 3)
	dstB := image.Rect(0, 0, 4, 4)
	dst := make([]float32, 4*4*pixStride)
	for i := range dst {
		dst[i] = -99
	}
	err := r.Decode(&DecodeRequest{
		Region:      region,
		DstBounds:   dstB,
		PixelStride: pixStride,
		RowStride:   rowStride,
		Dst:         dst,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for ry := 0; ry < 4; ry++ {
		for rx := 0; rx < 4; rx++ {
			at := ry*rowStride + rx*pixStride
			if !image.Pt(rx, ry).In(region) {
				for c := 0; c < pixStride; c++ {
					if dst[at+c] != -99 {
						t.Fatalf("pixel (%d,%d) outside region modified at comp %d", rx, ry, c)
					}
				}
				continue
			}
			for c := 0; c < 4; c++ {
				if got, want := dst[at+c], wantAt(s, 0, rx, ry, c, 0); got != want {
					t.Fatalf("pixel (%d,%d) comp %d = %g, want %g", rx, ry, c, got, want)
				}
			}
			// Padding components within the pixel stride stay untouched.
			if dst[at+4] != -99 || dst[at+5] != -99 {
				t.Fatalf("pixel (%d,%d) stride padding modified", rx, ry)
			}
		}
	}
}

func tiledRGBASpec(w, h, tw, th int) *ImageSpec {
	s := rgbaSpec(w, h)
	s.TileWidth = tw
	s.TileHeight = th
	return s
}

// A non-tile-aligned request must produce exactly the sub-rectangle of an
// aligned full read.
func TestDecodeTiledUnalignedMatchesAligned(t *testing.T) {
	s := tiledRGBASpec(20, 12, 8, 8)
	in := &stubInput{specs: []*ImageSpec{s}}
	r := newStubReader(in, nil)

	full := make([]float32, 20*12*4)
	if err := r.Decode(&DecodeRequest{Region: image.Rect(0, 0, 20, 12), Dst: full}); err != nil {
		t.Fatalf("full decode: %v", err)
	}

	regions := []image.Rectangle{
		image.Rect(3, 2, 17, 9),
		image.Rect(8, 0, 16, 8),
		image.Rect(0, 5, 20, 6),
		image.Rect(19, 11, 20, 12),
		image.Rect(1, 1, 2, 2),
	}
	for _, region := range regions {
		t.Run(region.String(), func(t *testing.T) {
			dst := make([]float32, region.Dx()*region.Dy()*4)
			if err := r.Decode(&DecodeRequest{Region: region, Dst: dst}); err != nil {
				t.Fatalf("decode %v: %v", region, err)
			}
			for ry := region.Min.Y; ry < region.Max.Y; ry++ {
				for rx := region.Min.X; rx < region.Max.X; rx++ {
					at := ((ry-region.Min.Y)*region.Dx() + (rx - region.Min.X)) * 4
					ref := (ry*20 + rx) * 4
					for c := 0; c < 4; c++ {
						if dst[at+c] != full[ref+c] {
							t.Fatalf("pixel (%d,%d) comp %d = %g, full read has %g",
								rx, ry, c, dst[at+c], full[ref+c])
						}
					}
				}
			}
		})
	}
}

func TestDecodeTiledAlignedReadsDirect(t *testing.T) {
	s := tiledRGBASpec(16, 16, 8, 8)
	in := &stubInput{specs: []*ImageSpec{s}}
	r := newStubReader(in, nil)

	dst := make([]float32, 8*8*4)
	if err := r.Decode(&DecodeRequest{Region: image.Rect(8, 0, 16, 8), Dst: dst}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.tileCalls != 1 {
		t.Errorf("tileCalls = %d, want 1 direct aligned read", in.tileCalls)
	}
	for ry := 0; ry < 8; ry++ {
		for rx := 8; rx < 16; rx++ {
			at := (ry*8 + (rx - 8)) * 4
			for c := 0; c < 4; c++ {
				if got, want := dst[at+c], wantAt(s, 0, rx, ry, c, 0); got != want {
					t.Fatalf("pixel (%d,%d) comp %d = %g, want %g", rx, ry, c, got, want)
				}
			}
		}
	}
}

func TestDecodeScratchBudget(t *testing.T) {
	s := tiledRGBASpec(64, 64, 32, 32)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, &Options{MaxScratchBytes: 64})

	dst := make([]float32, 10*10*4)
	err := r.Decode(&DecodeRequest{Region: image.Rect(3, 3, 13, 13), Dst: dst})
	if !errors.Is(err, ErrScratchTooLarge) {
		t.Errorf("Decode = %v, want ErrScratchTooLarge", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	deep := rgbaSpec(4, 4)
	deep.Deep = true
	in := &stubInput{specs: []*ImageSpec{rgbaSpec(4, 4), deep}}
	r := newStubReader(in, nil)
	dst := make([]float32, 4*4*4)

	tests := []struct {
		name string
		req  *DecodeRequest
		want error
	}{
		{"nil destination", &DecodeRequest{}, ErrBufferTooSmall},
		{"unknown view", &DecodeRequest{View: "center", Dst: dst}, ErrUnknownView},
		{"unknown layer", &DecodeRequest{Layer: "glow", Dst: dst}, ErrUnknownLayer},
		{"deep subimage", &DecodeRequest{Layer: "Part1.Color", Dst: dst}, ErrDeepData},
		{"raw channel out of range", &DecodeRequest{RawChannels: []int{7}, Dst: dst}, ErrBadChannel},
		{"raw subimage out of range", &DecodeRequest{RawChannels: []int{0}, RawSubimage: 5, Dst: dst}, ErrBadSubimage},
		{"pixel stride too small", &DecodeRequest{PixelStride: 2, Dst: dst}, ErrBufferTooSmall},
		{"buffer too small", &DecodeRequest{Dst: make([]float32, 7)}, ErrBufferTooSmall},
		{"region outside destination bounds", &DecodeRequest{
			Region:    image.Rect(0, 0, 4, 4),
			DstBounds: image.Rect(0, 0, 2, 2),
			Dst:       dst,
		}, ErrBadRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Decode(tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Decode = %v, want %v", err, tt.want)
			}
		})
	}

	r.Close()
	if err := r.Decode(&DecodeRequest{Dst: dst}); !errors.Is(err, ErrReaderClosed) {
		t.Errorf("Decode after Close = %v, want ErrReaderClosed", err)
	}
}

func TestDecodeRegionFullyOutsideData(t *testing.T) {
	s := rgbaSpec(4, 4)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	region := image.Rect(10, 10, 12, 12)
	dst := make([]float32, 2*2*4)
	for i := range dst {
		dst[i] = -99
	}
	if err := r.Decode(&DecodeRequest{Region: region, Dst: dst}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %g, want 0", i, v)
		}
	}
}

func TestDecodeDefaultRegion(t *testing.T) {
	s := rgbaSpec(4, 3)
	in := &stubInput{specs: []*ImageSpec{s}}
	r := newStubReader(in, nil)

	bounds, err := r.Bounds(0)
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	if bounds != image.Rect(0, 0, 4, 3) {
		t.Fatalf("Bounds = %v, want (0,0)-(4,3)", bounds)
	}

	dst := make([]float32, bounds.Dx()*bounds.Dy()*4)
	if err := r.Decode(&DecodeRequest{Dst: dst}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, want := dst[0], wantAt(s, 0, 0, 0, 0, 0); got != want {
		t.Errorf("bottom-left sample = %g, want %g", got, want)
	}
}

func TestDecodeConcurrent(t *testing.T) {
	s := tiledRGBASpec(32, 32, 8, 8)
	r := newStubReader(&stubInput{specs: []*ImageSpec{s}}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			region := image.Rect(i, i, i+9, i+9)
			dst := make([]float32, 9*9*4)
			errs[i] = r.Decode(&DecodeRequest{Region: region, Dst: dst})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestReaderCatalogQueries(t *testing.T) {
	left := rgbaSpec(8, 8)
	left.Attrs = map[string]any{"view": "left", "name": "rgba"}
	right := rgbaSpec(8, 8)
	right.Attrs = map[string]any{"view": "right", "name": "rgba"}
	z := &ImageSpec{
		Width: 8, Height: 8, FullWidth: 8, FullHeight: 8,
		Channels:     []string{"Z"},
		AlphaChannel: -1,
		Attrs:        map[string]any{"view": "left", "name": "depth"},
	}
	r := newStubReader(&stubInput{specs: []*ImageSpec{left, right, z}}, nil)

	views, err := r.Views()
	if err != nil {
		t.Fatalf("Views: %v", err)
	}
	if len(views) != 2 || views[0] != "left" || views[1] != "right" {
		t.Fatalf("Views = %v, want [left right]", views)
	}

	layers, err := r.Layers()
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}
	var labels []string
	for _, li := range layers {
		labels = append(labels, li.Label)
	}
	want := []string{"rgba (left, right)", "depth (left)"}
	if len(labels) != 2 || labels[0] != want[0] || labels[1] != want[1] {
		t.Fatalf("labels = %v, want %v", labels, want)
	}

	// Decoding the right view must pull pixels from subimage 1.
	dst := make([]float32, 8*8*4)
	if err := r.Decode(&DecodeRequest{View: "RIGHT", Layer: "rgba", Dst: dst}); err != nil {
		t.Fatalf("Decode right view: %v", err)
	}
	if got, want := dst[0], wantAt(right, 1, 0, 0, 0, 0); got != want {
		t.Errorf("right view sample = %g, want %g", got, want)
	}
}
