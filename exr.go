package layerio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// sliceReader exposes random-access byte ranges of an open file. Returned
// slices alias the underlying storage, must not be modified, and stay
// valid until Close.
type sliceReader interface {
	Slice(off int64, n int) ([]byte, error)
	Size() int64
	Close() error
}

// memReader serves slices from an in-memory copy of the file.
type memReader struct {
	data []byte
}

func (m *memReader) Slice(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > int64(len(m.data)) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d", ErrTruncatedData, n, off)
	}
	return m.data[off : off+int64(n)], nil
}

func (m *memReader) Size() int64 { return int64(len(m.data)) }

func (m *memReader) Close() error { return nil }

// OpenEXR magic number and version-field flag bits.
const (
	exrMagic       = 0x01312f76
	exrVersionMask = 0xff

	exrFlagTiled     = 1 << 9
	exrFlagLongNames = 1 << 10
	exrFlagNonImage  = 1 << 11
	exrFlagMultipart = 1 << 12
)

// Line orders.
const (
	exrLineOrderIncY   = 0
	exrLineOrderDecY   = 1
	exrLineOrderRandom = 2
)

func exrLineOrderName(lo uint8) string {
	switch lo {
	case exrLineOrderIncY:
		return "increasing y"
	case exrLineOrderDecY:
		return "decreasing y"
	case exrLineOrderRandom:
		return "random y"
	}
	return fmt.Sprintf("lineOrder(%d)", lo)
}

// Tile level modes. Only single-level tilings are readable.
const exrTileOneLevel = 0

type exrPart struct {
	spec          ImageSpec
	channels      []exrChannel
	compression   uint8
	lineOrder     uint8
	linesPerChunk int
	tiled         bool
	deep          bool

	// offsets is the part's chunk offset table, in file storage order.
	offsets []uint64

	// declaredChunks is the header's chunkCount attribute, -1 when absent.
	declaredChunks int

	// Byte layout of one uncompressed full-width row (scanline parts):
	// channel c occupies chanOffset[c] .. chanOffset[c]+width*chanSize[c].
	chanOffset []int
	chanSize   []int
	rowBytes   int

	// pixPrefix[c] is the byte offset of channel c within one pixel's
	// worth of samples; pixelBytes is the total. Tile rows use these
	// scaled by the clipped tile width.
	pixPrefix  []int
	pixelBytes int

	tilesX int
	tilesY int
}

// exrInput reads the scanline and single-level tiled subset of OpenEXR:
// NONE, RLE, ZIPS and ZIP compression, increasing or decreasing line
// order, single-part and multi-part files. Deep parts are described but
// refuse to decode; mipmapped tilings, subsampled channels and random tile
// order are rejected at open.
type exrInput struct {
	src       sliceReader
	parts     []*exrPart
	multipart bool
}

func init() {
	RegisterInput(".exr", openEXR)
}

func openEXR(path string, opts *Options) (ImageInput, error) {
	src, err := openSliceReader(path)
	if err != nil {
		return nil, err
	}
	in, err := newEXRInput(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return in, nil
}

func newEXRInput(src sliceReader) (*exrInput, error) {
	all, err := src.Slice(0, int(src.Size()))
	if err != nil {
		return nil, err
	}
	p := &exrParser{data: all}

	magic, err := p.uint32()
	if err != nil {
		return nil, err
	}
	if magic != exrMagic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidHeader, magic)
	}
	version, err := p.uint32()
	if err != nil {
		return nil, err
	}
	if version&exrVersionMask != 2 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, version&exrVersionMask)
	}
	multipart := version&exrFlagMultipart != 0
	deepFile := version&exrFlagNonImage != 0
	singleTiled := version&exrFlagTiled != 0

	var headers []*exrHeader
	if multipart {
		for {
			h, err := parseEXRHeader(p)
			if err != nil {
				return nil, err
			}
			if h == nil {
				break
			}
			headers = append(headers, h)
		}
		if len(headers) == 0 {
			return nil, fmt.Errorf("%w: multipart file with no headers", ErrInvalidHeader)
		}
	} else {
		h, err := parseEXRHeader(p)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, fmt.Errorf("%w: empty header", ErrInvalidHeader)
		}
		headers = []*exrHeader{h}
	}

	in := &exrInput{src: src, multipart: multipart}
	for pi, h := range headers {
		part, err := buildEXRPart(h, multipart, singleTiled, deepFile)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", pi, err)
		}
		in.parts = append(in.parts, part)
	}

	// Chunk offset tables follow the headers, one per part in order.
	for _, part := range in.parts {
		part.offsets = make([]uint64, part.numChunks())
		for i := range part.offsets {
			var err error
			if part.offsets[i], err = p.uint64(); err != nil {
				return nil, err
			}
		}
	}
	return in, nil
}

// buildEXRPart validates one parsed header and derives the part's spec and
// row layout.
func buildEXRPart(h *exrHeader, multipart, singleTiled, deepFile bool) (*exrPart, error) {
	tiled := h.tiled
	deep := false
	switch h.partType {
	case "scanlineimage":
		tiled = false
	case "tiledimage":
		if !h.tiled {
			return nil, fmt.Errorf("%w: tiled part without tile description", ErrInvalidHeader)
		}
	case "deepscanline":
		tiled = false
		deep = true
	case "deeptile":
		deep = true
	case "":
		if multipart {
			return nil, fmt.Errorf("%w: multipart header missing part type", ErrInvalidHeader)
		}
		if singleTiled && !h.tiled {
			return nil, fmt.Errorf("%w: tiled file without tile description", ErrInvalidHeader)
		}
		tiled = singleTiled
		deep = deepFile
	default:
		return nil, fmt.Errorf("%w: part type %q", ErrUnsupportedFormat, h.partType)
	}

	if tiled && h.tileMode != exrTileOneLevel {
		return nil, fmt.Errorf("%w: mipmapped tiles", ErrUnsupportedFormat)
	}
	if tiled && (h.tileW <= 0 || h.tileH <= 0) {
		return nil, fmt.Errorf("%w: tile size %dx%d", ErrInvalidHeader, h.tileW, h.tileH)
	}
	if h.lineOrder == exrLineOrderRandom {
		return nil, fmt.Errorf("%w: random line order", ErrUnsupportedFormat)
	}
	if h.lineOrder > exrLineOrderRandom {
		return nil, fmt.Errorf("%w: line order %d", ErrInvalidHeader, h.lineOrder)
	}
	for _, c := range h.channels {
		if c.xSampling != 1 || c.ySampling != 1 {
			return nil, fmt.Errorf("%w: subsampled channel %q", ErrUnsupportedFormat, c.name)
		}
	}

	dw, disp := h.dataWindow, h.dispWindow
	w, hgt := dw[2]-dw[0]+1, dw[3]-dw[1]+1
	if w <= 0 || hgt <= 0 {
		return nil, fmt.Errorf("%w: data window %v", ErrInvalidHeader, dw)
	}
	if disp[2]-disp[0]+1 <= 0 || disp[3]-disp[1]+1 <= 0 {
		return nil, fmt.Errorf("%w: display window %v", ErrInvalidHeader, disp)
	}

	part := &exrPart{
		channels:       h.channels,
		compression:    h.compression,
		lineOrder:      h.lineOrder,
		tiled:          tiled,
		deep:           deep,
		declaredChunks: -1,
	}
	part.spec = ImageSpec{
		X:            dw[0],
		Y:            dw[1],
		Width:        w,
		Height:       hgt,
		FullX:        disp[0],
		FullY:        disp[1],
		FullWidth:    disp[2] - disp[0] + 1,
		FullHeight:   disp[3] - disp[1] + 1,
		AlphaChannel: -1,
		Deep:         deep,
		Attrs:        h.attrs,
	}
	part.spec.Channels = make([]string, len(h.channels))
	for i, c := range h.channels {
		part.spec.Channels[i] = c.name
		base := c.name
		if j := strings.LastIndexByte(base, '.'); j >= 0 {
			base = base[j+1:]
		}
		if part.spec.AlphaChannel < 0 && (strings.EqualFold(base, "a") || strings.EqualFold(base, "alpha")) {
			part.spec.AlphaChannel = i
		}
	}

	part.chanOffset = make([]int, len(h.channels))
	part.chanSize = make([]int, len(h.channels))
	part.pixPrefix = make([]int, len(h.channels))
	rowAcc, pixAcc := 0, 0
	for i, c := range h.channels {
		size := exrPixelSize(c.pixelType)
		part.chanOffset[i] = rowAcc
		part.chanSize[i] = size
		part.pixPrefix[i] = pixAcc
		rowAcc += w * size
		pixAcc += size
	}
	part.rowBytes = rowAcc
	part.pixelBytes = pixAcc

	if tiled {
		part.spec.TileWidth = h.tileW
		part.spec.TileHeight = h.tileH
		part.tilesX = ceilDiv(w, h.tileW)
		part.tilesY = ceilDiv(hgt, h.tileH)
	} else {
		part.linesPerChunk = exrLinesPerChunk(h.compression)
		if part.linesPerChunk == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, exrCompressionName(h.compression))
		}
	}
	if deep {
		if h.chunkCount < 0 {
			return nil, fmt.Errorf("%w: deep part missing chunkCount", ErrInvalidHeader)
		}
	} else if multipart && h.chunkCount < 0 {
		return nil, fmt.Errorf("%w: multipart header missing chunkCount", ErrInvalidHeader)
	}
	if h.chunkCount >= 0 {
		// Trusted for table sizing; the recomputed count must agree for
		// parts we can actually decode.
		if !deep && h.chunkCount != part.computedChunks() {
			return nil, fmt.Errorf("%w: chunkCount %d, computed %d", ErrInvalidHeader, h.chunkCount, part.computedChunks())
		}
		part.declaredChunks = h.chunkCount
	}
	return part, nil
}

func (part *exrPart) computedChunks() int {
	if part.tiled {
		return part.tilesX * part.tilesY
	}
	return ceilDiv(part.spec.Height, part.linesPerChunk)
}

// numChunks sizes the part's chunk offset table. Deep parts always carry a
// declared count; image parts compute it from their geometry.
func (part *exrPart) numChunks() int {
	if part.declaredChunks >= 0 {
		return part.declaredChunks
	}
	return part.computedChunks()
}

func (in *exrInput) part(sub int) (*exrPart, error) {
	if sub < 0 || sub >= len(in.parts) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadSubimage, sub, len(in.parts))
	}
	return in.parts[sub], nil
}

func (in *exrInput) NumSubimages() int { return len(in.parts) }

func (in *exrInput) Spec(sub int) (*ImageSpec, error) {
	part, err := in.part(sub)
	if err != nil {
		return nil, err
	}
	return &part.spec, nil
}

func (in *exrInput) Close() error { return in.src.Close() }

// checkRange validates a read rectangle and channel range against the
// part's data window.
func (part *exrPart) checkRange(x1, x2, y1, y2, ch1, ch2 int) error {
	s := &part.spec
	if x1 >= x2 || y1 >= y2 || x1 < s.X || x2 > s.X+s.Width || y1 < s.Y || y2 > s.Y+s.Height {
		return fmt.Errorf("%w: (%d,%d)-(%d,%d)", ErrBadRegion, x1, y1, x2, y2)
	}
	if ch1 < 0 || ch1 >= ch2 || ch2 > len(part.channels) {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrBadChannel, ch1, ch2, len(part.channels))
	}
	return nil
}

func (part *exrPart) checkReadable(sub int) error {
	if part.deep {
		return fmt.Errorf("%w: subimage %d", ErrDeepData, sub)
	}
	if !exrDecodable(part.compression) {
		return fmt.Errorf("%w: %s compression", ErrUnsupportedFormat, exrCompressionName(part.compression))
	}
	return nil
}

func (in *exrInput) ReadScanlines(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error {
	part, err := in.part(sub)
	if err != nil {
		return err
	}
	if err := part.checkReadable(sub); err != nil {
		return err
	}
	if part.tiled {
		return fmt.Errorf("%w: scanline read on tiled subimage %d", ErrDecodeFailed, sub)
	}
	if err := part.checkRange(x1, x2, y1, y2, ch1, ch2); err != nil {
		return err
	}

	s := &part.spec
	lpc := part.linesPerChunk
	for cy := s.Y + (y1-s.Y)/lpc*lpc; cy < y2; cy += lpc {
		raw, err := in.scanlineChunk(part, sub, (cy-s.Y)/lpc)
		if err != nil {
			return err
		}
		rEnd := min(cy+lpc, y2)
		for y := max(cy, y1); y < rEnd; y++ {
			rowBase := (y - cy) * part.rowBytes
			for c := ch1; c < ch2; c++ {
				srcBase := rowBase + part.chanOffset[c] + (x1-s.X)*part.chanSize[c]
				dstBase := dstOffset + (y-y1)*yStride + (c - ch1)
				convertSamples(dst, dstBase, xStride, raw, srcBase, x2-x1, part.chanSize[c], part.channels[c].pixelType)
			}
		}
	}
	return nil
}

// scanlineChunk loads and decompresses scanline chunk k, where chunk k
// starts at file row Y + k*linesPerChunk.
func (in *exrInput) scanlineChunk(part *exrPart, sub, k int) ([]byte, error) {
	idx := k
	if part.lineOrder == exrLineOrderDecY {
		idx = len(part.offsets) - 1 - k
	}
	if idx < 0 || idx >= len(part.offsets) {
		return nil, fmt.Errorf("%w: chunk %d of %d", ErrTruncatedData, k, len(part.offsets))
	}
	off := int64(part.offsets[idx])

	hdrSize := 8
	if in.multipart {
		hdrSize = 12
	}
	hdr, err := in.src.Slice(off, hdrSize)
	if err != nil {
		return nil, err
	}
	if in.multipart {
		if pn := int32(binary.LittleEndian.Uint32(hdr)); int(pn) != sub {
			return nil, fmt.Errorf("%w: chunk for part %d in table of part %d", ErrInvalidHeader, pn, sub)
		}
		hdr = hdr[4:]
	}
	y := int(int32(binary.LittleEndian.Uint32(hdr)))
	size := int(int32(binary.LittleEndian.Uint32(hdr[4:])))
	wantY := part.spec.Y + k*part.linesPerChunk
	if y != wantY {
		return nil, fmt.Errorf("%w: chunk %d declares row %d, want %d", ErrInvalidHeader, k, y, wantY)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk %d size %d", ErrInvalidHeader, k, size)
	}
	comp, err := in.src.Slice(off+int64(hdrSize), size)
	if err != nil {
		return nil, err
	}
	rows := min(part.linesPerChunk, part.spec.Y+part.spec.Height-y)
	return exrDecompressChunk(part.compression, comp, rows*part.rowBytes)
}

func (in *exrInput) ReadTiles(sub, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error {
	part, err := in.part(sub)
	if err != nil {
		return err
	}
	if err := part.checkReadable(sub); err != nil {
		return err
	}
	if !part.tiled {
		return fmt.Errorf("%w: tile read on scanline subimage %d", ErrDecodeFailed, sub)
	}
	if err := part.checkRange(x1, x2, y1, y2, ch1, ch2); err != nil {
		return err
	}
	s := &part.spec
	if !s.TileAligned(x1, y1, x2, y2) {
		return fmt.Errorf("%w: (%d,%d)-(%d,%d) not tile-aligned", ErrBadRegion, x1, y1, x2, y2)
	}

	tw, th := s.TileWidth, s.TileHeight
	tx1, tx2 := (x1-s.X)/tw, ceilDiv(x2-s.X, tw)
	ty1, ty2 := (y1-s.Y)/th, ceilDiv(y2-s.Y, th)
	for ty := ty1; ty < ty2; ty++ {
		for tx := tx1; tx < tx2; tx++ {
			raw, tcw, tch, err := in.tileChunk(part, sub, tx, ty)
			if err != nil {
				return err
			}
			tileX0 := s.X + tx*tw
			tileY0 := s.Y + ty*th
			tileRowBytes := part.pixelBytes * tcw
			for r := 0; r < tch; r++ {
				y := tileY0 + r
				rowBase := r * tileRowBytes
				for c := ch1; c < ch2; c++ {
					srcBase := rowBase + part.pixPrefix[c]*tcw
					dstBase := dstOffset + (y-y1)*yStride + (tileX0-x1)*xStride + (c - ch1)
					convertSamples(dst, dstBase, xStride, raw, srcBase, tcw, part.chanSize[c], part.channels[c].pixelType)
				}
			}
		}
	}
	return nil
}

// tileChunk loads and decompresses the tile at (tx, ty), returning its
// clipped width and height.
func (in *exrInput) tileChunk(part *exrPart, sub, tx, ty int) ([]byte, int, int, error) {
	k := ty*part.tilesX + tx
	if part.lineOrder == exrLineOrderDecY {
		k = (part.tilesY-1-ty)*part.tilesX + tx
	}
	if k < 0 || k >= len(part.offsets) {
		return nil, 0, 0, fmt.Errorf("%w: tile (%d,%d)", ErrTruncatedData, tx, ty)
	}
	off := int64(part.offsets[k])

	hdrSize := 20
	if in.multipart {
		hdrSize = 24
	}
	hdr, err := in.src.Slice(off, hdrSize)
	if err != nil {
		return nil, 0, 0, err
	}
	if in.multipart {
		if pn := int32(binary.LittleEndian.Uint32(hdr)); int(pn) != sub {
			return nil, 0, 0, fmt.Errorf("%w: chunk for part %d in table of part %d", ErrInvalidHeader, pn, sub)
		}
		hdr = hdr[4:]
	}
	gotX := int(int32(binary.LittleEndian.Uint32(hdr)))
	gotY := int(int32(binary.LittleEndian.Uint32(hdr[4:])))
	lvlX := int32(binary.LittleEndian.Uint32(hdr[8:]))
	lvlY := int32(binary.LittleEndian.Uint32(hdr[12:]))
	size := int(int32(binary.LittleEndian.Uint32(hdr[16:])))
	if gotX != tx || gotY != ty || lvlX != 0 || lvlY != 0 {
		return nil, 0, 0, fmt.Errorf("%w: tile header (%d,%d,%d,%d), want (%d,%d,0,0)",
			ErrInvalidHeader, gotX, gotY, lvlX, lvlY, tx, ty)
	}
	if size <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: tile (%d,%d) size %d", ErrInvalidHeader, tx, ty, size)
	}
	comp, err := in.src.Slice(off+int64(hdrSize), size)
	if err != nil {
		return nil, 0, 0, err
	}

	s := &part.spec
	tcw := min(s.TileWidth, s.X+s.Width-(s.X+tx*s.TileWidth))
	tch := min(s.TileHeight, s.Y+s.Height-(s.Y+ty*s.TileHeight))
	raw, err := exrDecompressChunk(part.compression, comp, tcw*tch*part.pixelBytes)
	if err != nil {
		return nil, 0, 0, err
	}
	return raw, tcw, tch, nil
}

// convertSamples widens count samples of one stored channel into dst,
// stepping xStride elements per sample. Unsigned integer samples convert
// by value.
func convertSamples(dst []float32, dstBase, xStride int, src []byte, srcBase, count, size int, pixelType uint32) {
	switch pixelType {
	case exrPixelHalf:
		for i := 0; i < count; i++ {
			dst[dstBase+i*xStride] = halfToFloat(binary.LittleEndian.Uint16(src[srcBase+i*2:]))
		}
	case exrPixelFloat:
		for i := 0; i < count; i++ {
			dst[dstBase+i*xStride] = math.Float32frombits(binary.LittleEndian.Uint32(src[srcBase+i*4:]))
		}
	default:
		for i := 0; i < count; i++ {
			dst[dstBase+i*xStride] = float32(binary.LittleEndian.Uint32(src[srcBase+i*4:]))
		}
	}
}
