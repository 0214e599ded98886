package layerio

import (
	"fmt"
	"image"
	"sync"
)

// DecodeRequest describes one decode call. The zero value of every field
// has a usable default except Dst, which the caller must supply.
type DecodeRequest struct {
	// View selects the view by name, case-insensitively. Empty selects
	// the default (first) view.
	View string

	// Layer selects the layer by its catalog name. Empty selects the
	// first layer of the resolved view.
	Layer string

	// Format selects the output component layout. The zero value decodes
	// as FormatRGBA.
	Format PixelFormat

	// RawChannels bypasses layer resolution: the listed channel indices
	// of subimage RawSubimage become the output components directly, in
	// order. Format is ignored when RawChannels is non-empty.
	RawChannels []int

	// RawSubimage is the subimage RawChannels indexes into.
	RawSubimage int

	// Region is the requested rectangle in render-window coordinates.
	// The empty rectangle requests the subimage's full addressable
	// bounds.
	Region image.Rectangle

	// Dst receives the decoded samples, interleaved per pixel.
	Dst []float32

	// DstBounds places Dst in render-window space. The empty rectangle
	// means Dst covers exactly Region.
	DstBounds image.Rectangle

	// RowStride is the element distance between rows of Dst. 0 means
	// DstBounds width times PixelStride.
	RowStride int

	// PixelStride is the element distance between pixels within a row.
	// 0 means the format's component count.
	PixelStride int

	// Sequential marks a playback-order read. It suppresses the cache's
	// random-access invalidation hint.
	Sequential bool
}

// readRun is a maximal run of output components fed by consecutive source
// channels, read with a single backend call.
type readRun struct {
	comp int // first output component
	ch1  int // first source channel
	n    int // run length
}

var scratchPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0)
		return &s
	},
}

func getScratch(n int) *[]float32 {
	p := scratchPool.Get().(*[]float32)
	if cap(*p) < n {
		*p = make([]float32, n)
	}
	*p = (*p)[:n]
	return p
}

func putScratch(p *[]float32) {
	scratchPool.Put(p)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Decode resolves the requested view, layer and format, then reads the
// requested region into req.Dst. Rows are written bottom-up in
// render-window order (the vertical inverse of file order); pixels inside
// the requested region but outside the subimage's data window are zeroed.
// Partial output may remain in Dst after an error.
func (r *Reader) Decode(req *DecodeRequest) error {
	if req == nil || req.Dst == nil {
		return fmt.Errorf("%w: nil destination", ErrBufferTooSmall)
	}
	if r.isClosed() {
		return ErrReaderClosed
	}
	if r.opts.Cache != nil && !req.Sequential {
		r.opts.Cache.noteRandomAccess(r.path)
	}

	specs, err := r.collectSpecs()
	if err != nil {
		return err
	}
	snap, err := r.cat.snapshot(r.collectSpecs)
	if err != nil {
		return err
	}

	view := req.View
	if view == "" {
		view = snap.views[0]
	} else if v, ok := matchView(snap.views, view); ok {
		view = v
	} else {
		return fmt.Errorf("%w: %q", ErrUnknownView, req.View)
	}

	var (
		si   int
		srcs []int
	)
	if len(req.RawChannels) > 0 {
		si = req.RawSubimage
		if si < 0 || si >= len(specs) {
			return fmt.Errorf("%w: %d of %d", ErrBadSubimage, si, len(specs))
		}
		srcs = make([]int, len(req.RawChannels))
		for i, c := range req.RawChannels {
			if c < 0 || c >= len(specs[si].Channels) {
				return fmt.Errorf("%w: %d of %d", ErrBadChannel, c, len(specs[si].Channels))
			}
			srcs[i] = c + channelFirst
		}
	} else {
		vt := snap.viewTable(view)
		name := req.Layer
		if name == "" {
			if len(vt.names) == 0 {
				return fmt.Errorf("%w: view %q has no layers", ErrUnknownLayer, view)
			}
			name = vt.names[0]
		}
		entry := vt.byName[name]
		if entry == nil {
			return fmt.Errorf("%w: %q in view %q", ErrUnknownLayer, name, view)
		}
		si = entry.Subimage
		srcs = req.Format.resolve(entry)
	}
	spec := specs[si]
	if spec.Deep {
		return fmt.Errorf("%w: subimage %d", ErrDeepData, si)
	}
	ncomp := len(srcs)

	off := dataOffsetX(spec, r.opts.KeepNegativeOrigin)
	dataRect := renderDataBounds(spec, off)
	region := req.Region
	if region.Empty() {
		region = expandBounds(dataRect, spec, r.opts.EdgePixels)
	}
	if region.Empty() {
		return fmt.Errorf("%w: %v", ErrBadRegion, req.Region)
	}

	pixStride := req.PixelStride
	if pixStride == 0 {
		pixStride = ncomp
	}
	if pixStride < ncomp {
		return fmt.Errorf("%w: pixel stride %d below %d components", ErrBufferTooSmall, pixStride, ncomp)
	}
	dstB := req.DstBounds
	if dstB.Empty() {
		dstB = region
	}
	if !region.In(dstB) {
		return fmt.Errorf("%w: region %v outside destination bounds %v", ErrBadRegion, region, dstB)
	}
	rowStride := req.RowStride
	if rowStride == 0 {
		rowStride = dstB.Dx() * pixStride
	}
	offsetOf := func(x, y int) int {
		return (y-dstB.Min.Y)*rowStride + (x-dstB.Min.X)*pixStride
	}
	need := offsetOf(region.Max.X-1, region.Max.Y-1) + ncomp
	if need > len(req.Dst) || offsetOf(region.Min.X, region.Min.Y) < 0 {
		return fmt.Errorf("%w: need %d elements, have %d", ErrBufferTooSmall, need, len(req.Dst))
	}

	clamped := region.Intersect(dataRect)

	// Zero everything in the region the reads below will not cover.
	if clamped.Empty() {
		zeroPixels(req.Dst, offsetOf(region.Min.X, region.Min.Y), region.Dx(), region.Dy(), pixStride, rowStride, ncomp)
	} else {
		if region.Min.Y < clamped.Min.Y {
			zeroPixels(req.Dst, offsetOf(region.Min.X, region.Min.Y), region.Dx(), clamped.Min.Y-region.Min.Y, pixStride, rowStride, ncomp)
		}
		if clamped.Max.Y < region.Max.Y {
			zeroPixels(req.Dst, offsetOf(region.Min.X, clamped.Max.Y), region.Dx(), region.Max.Y-clamped.Max.Y, pixStride, rowStride, ncomp)
		}
		if region.Min.X < clamped.Min.X {
			zeroPixels(req.Dst, offsetOf(region.Min.X, clamped.Min.Y), clamped.Min.X-region.Min.X, clamped.Dy(), pixStride, rowStride, ncomp)
		}
		if clamped.Max.X < region.Max.X {
			zeroPixels(req.Dst, offsetOf(clamped.Max.X, clamped.Min.Y), region.Max.X-clamped.Max.X, clamped.Dy(), pixStride, rowStride, ncomp)
		}
	}

	// Constant components fill the whole region, independent of clamping.
	for k, s := range srcs {
		switch s {
		case constantZero:
			fillStrided(req.Dst, offsetOf(region.Min.X, region.Min.Y)+k, region.Dx(), region.Dy(), pixStride, rowStride, 0)
		case constantOne:
			fillStrided(req.Dst, offsetOf(region.Min.X, region.Min.Y)+k, region.Dx(), region.Dy(), pixStride, rowStride, 1)
		}
	}

	// Group the remaining components into runs of consecutive source
	// channels; a source feeding several components is read once and
	// copied.
	var (
		runs []readRun
		dups [][2]int
	)
	seen := make(map[int]int, ncomp)
	for k := 0; k < ncomp; {
		s := srcs[k]
		if s < channelFirst {
			k++
			continue
		}
		if first, ok := seen[s]; ok {
			dups = append(dups, [2]int{first, k})
			k++
			continue
		}
		run := readRun{comp: k, ch1: s - channelFirst, n: 1}
		seen[s] = k
		for k+run.n < ncomp && srcs[k+run.n] == s+run.n {
			if _, ok := seen[s+run.n]; ok {
				break
			}
			seen[s+run.n] = k + run.n
			run.n++
		}
		runs = append(runs, run)
		k += run.n
	}

	if !clamped.Empty() {
		for _, run := range runs {
			if run.ch1+run.n > len(spec.Channels) {
				return fmt.Errorf("%w: %d of %d", ErrBadChannel, run.ch1+run.n-1, len(spec.Channels))
			}
			if err := r.readClamped(spec, si, run, clamped, off, req.Dst, offsetOf, pixStride, rowStride); err != nil {
				return err
			}
		}
	}

	base := offsetOf(region.Min.X, region.Min.Y)
	for _, d := range dups {
		copyComponent(req.Dst, base, region.Dx(), region.Dy(), pixStride, rowStride, d[0], d[1])
	}
	return nil
}

// readClamped reads one channel run over the clamped region, inverting row
// order into the destination. Tiled subimages take the direct path when the
// range is tile-aligned, otherwise they go through a tile-aligned scratch
// buffer that is cropped into place.
func (r *Reader) readClamped(spec *ImageSpec, si int, run readRun, clamped image.Rectangle, off int, dst []float32, offsetOf func(x, y int) int, pixStride, rowStride int) error {
	fx1 := clamped.Min.X - off
	fx2 := clamped.Max.X - off
	fy1, fy2 := fileRowRange(spec, clamped.Min.Y, clamped.Max.Y)
	ch1, ch2 := run.ch1, run.ch1+run.n

	// First file row lands on the top render row; later rows walk down.
	base := offsetOf(clamped.Min.X, clamped.Max.Y-1) + run.comp

	if !spec.Tiled() {
		if err := r.input.ReadScanlines(si, fx1, fx2, fy1, fy2, ch1, ch2, dst, base, pixStride, -rowStride); err != nil {
			return fmt.Errorf("read scanlines [%d,%d) of subimage %d: %w", fy1, fy2, si, err)
		}
		return nil
	}

	if spec.TileAligned(fx1, fy1, fx2, fy2) {
		if err := r.input.ReadTiles(si, fx1, fx2, fy1, fy2, ch1, ch2, dst, base, pixStride, -rowStride); err != nil {
			return fmt.Errorf("read tiles %v of subimage %d: %w", clamped, si, err)
		}
		return nil
	}

	// Expand to the minimal enclosing tile-aligned range, clipped at the
	// data window edge where the predicate allows short tiles.
	tw, th := spec.TileWidth, spec.TileHeight
	ax1 := spec.X + (fx1-spec.X)/tw*tw
	ay1 := spec.Y + (fy1-spec.Y)/th*th
	ax2 := spec.X + ceilDiv(fx2-spec.X, tw)*tw
	ay2 := spec.Y + ceilDiv(fy2-spec.Y, th)*th
	if ax2 > spec.X+spec.Width {
		ax2 = spec.X + spec.Width
	}
	if ay2 > spec.Y+spec.Height {
		ay2 = spec.Y + spec.Height
	}

	aw, ah := ax2-ax1, ay2-ay1
	elems64 := int64(aw) * int64(ah) * int64(run.n)
	if elems64 <= 0 || elems64*4 > r.opts.MaxScratchBytes {
		return fmt.Errorf("%w: %dx%dx%d", ErrScratchTooLarge, aw, ah, run.n)
	}
	scratch := getScratch(int(elems64))
	defer putScratch(scratch)

	filled := false
	var key blockKey
	if r.opts.Cache != nil {
		key = blockKey{
			path: r.path,
			fp:   r.opts.fingerprint(),
			sub:  si,
			ch1:  ch1, ch2: ch2,
			x1: ax1, y1: ay1, x2: ax2, y2: ay2,
		}
		filled = r.opts.Cache.loadBlock(key, *scratch)
	}
	if !filled {
		// Packed top-left layout in the scratch buffer.
		if err := r.input.ReadTiles(si, ax1, ax2, ay1, ay2, ch1, ch2, *scratch, 0, run.n, aw*run.n); err != nil {
			return fmt.Errorf("read tiles (%d,%d)-(%d,%d) of subimage %d: %w", ax1, ay1, ax2, ay2, si, err)
		}
		if r.opts.Cache != nil {
			r.opts.Cache.storeBlock(key, *scratch)
		}
	}

	srcBase := ((fy1-ay1)*aw + (fx1 - ax1)) * run.n
	copyRows(dst, base, pixStride, -rowStride, *scratch, srcBase, aw*run.n, clamped.Dx(), clamped.Dy(), run.n)
	return nil
}
