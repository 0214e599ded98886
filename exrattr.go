package layerio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// exrParser walks a byte range of an OpenEXR file. All multi-byte values
// are little-endian.
type exrParser struct {
	data []byte
	off  int
}

func (p *exrParser) bytes(n int) ([]byte, error) {
	if n < 0 || p.off+n > len(p.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncatedData, n, p.off)
	}
	b := p.data[p.off : p.off+n]
	p.off += n
	return b, nil
}

func (p *exrParser) uint8() (byte, error) {
	b, err := p.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *exrParser) uint32() (uint32, error) {
	b, err := p.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *exrParser) int32() (int32, error) {
	v, err := p.uint32()
	return int32(v), err
}

func (p *exrParser) uint64() (uint64, error) {
	b, err := p.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (p *exrParser) float32() (float32, error) {
	v, err := p.uint32()
	return math.Float32frombits(v), err
}

// cstring reads a null-terminated string of at most max bytes, not
// counting the terminator.
func (p *exrParser) cstring(max int) (string, error) {
	start := p.off
	for p.off < len(p.data) {
		if p.data[p.off] == 0 {
			s := string(p.data[start:p.off])
			p.off++
			return s, nil
		}
		if p.off-start >= max {
			return "", fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidHeader, start)
		}
		p.off++
	}
	return "", fmt.Errorf("%w: unterminated string at offset %d", ErrTruncatedData, start)
}

// EXR pixel sample types, in chlist declaration order.
const (
	exrPixelUint  = 0
	exrPixelHalf  = 1
	exrPixelFloat = 2
)

func exrPixelSize(t uint32) int {
	if t == exrPixelHalf {
		return 2
	}
	return 4
}

// exrChannel is one chlist entry.
type exrChannel struct {
	name      string
	pixelType uint32
	xSampling int32
	ySampling int32
}

// exrHeader is one part's parsed header: the structural attributes pulled
// into fields, everything else left as typed values for the ImageSpec
// attribute table.
type exrHeader struct {
	channels    []exrChannel
	dataWindow  [4]int // xMin, yMin, xMax, yMax, inclusive
	dispWindow  [4]int
	compression uint8
	lineOrder   uint8
	tiled       bool
	tileW       int
	tileH       int
	tileMode    uint8
	partType    string
	chunkCount  int // -1 when the header carries no chunkCount attribute
	attrs       map[string]any

	hasChannels    bool
	hasDataWin     bool
	hasDispWin     bool
	hasCompression bool
}

// EXR attribute type names handled structurally or decoded into typed
// attribute values.
const (
	exrTypeBox2i        = "box2i"
	exrTypeChlist       = "chlist"
	exrTypeCompression  = "compression"
	exrTypeLineOrder    = "lineOrder"
	exrTypeTiledesc     = "tiledesc"
	exrTypeString       = "string"
	exrTypeStringVector = "stringvector"
	exrTypeInt          = "int"
	exrTypeFloat        = "float"
	exrTypeV2f          = "v2f"
)

// maxNameLen bounds attribute, type and channel names. The format caps
// them at 31 bytes, or 255 with the long-names flag; parsing accepts the
// long limit unconditionally.
const maxNameLen = 255

// parseEXRHeader reads one part header: a sequence of attributes ended by
// a lone null byte. Returns nil (and no error) immediately on that lone
// null, which terminates a multipart header list.
func parseEXRHeader(p *exrParser) (*exrHeader, error) {
	name, err := p.cstring(maxNameLen)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}

	h := &exrHeader{chunkCount: -1, attrs: make(map[string]any)}
	for {
		typ, err := p.cstring(maxNameLen)
		if err != nil {
			return nil, err
		}
		size, err := p.int32()
		if err != nil {
			return nil, err
		}
		if size < 0 {
			return nil, fmt.Errorf("%w: attribute %q has negative size", ErrInvalidHeader, name)
		}
		payload, err := p.bytes(int(size))
		if err != nil {
			return nil, err
		}
		if err := h.setAttr(name, typ, payload); err != nil {
			return nil, err
		}

		name, err = p.cstring(maxNameLen)
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
	}

	if !h.hasChannels || !h.hasDataWin || !h.hasDispWin || !h.hasCompression {
		return nil, fmt.Errorf("%w: missing required attribute", ErrInvalidHeader)
	}
	return h, nil
}

func (h *exrHeader) setAttr(name, typ string, payload []byte) error {
	p := &exrParser{data: payload}
	switch typ {
	case exrTypeBox2i:
		box, err := parseBox2i(p)
		if err != nil {
			return err
		}
		switch name {
		case "dataWindow":
			h.dataWindow = box
			h.hasDataWin = true
		case "displayWindow":
			h.dispWindow = box
			h.hasDispWin = true
		default:
			h.attrs[name] = box
		}
	case exrTypeChlist:
		if name != "channels" {
			h.attrs[name] = append([]byte(nil), payload...)
			return nil
		}
		chans, err := parseChlist(p)
		if err != nil {
			return err
		}
		h.channels = chans
		h.hasChannels = true
	case exrTypeCompression:
		b, err := p.uint8()
		if err != nil {
			return err
		}
		h.compression = b
		h.hasCompression = true
		h.attrs[name] = exrCompressionName(b)
	case exrTypeLineOrder:
		b, err := p.uint8()
		if err != nil {
			return err
		}
		h.lineOrder = b
		h.attrs[name] = exrLineOrderName(b)
	case exrTypeTiledesc:
		w, err := p.uint32()
		if err != nil {
			return err
		}
		hh, err := p.uint32()
		if err != nil {
			return err
		}
		mode, err := p.uint8()
		if err != nil {
			return err
		}
		h.tiled = true
		h.tileW = int(w)
		h.tileH = int(hh)
		h.tileMode = mode & 0xf
	case exrTypeString:
		s := string(payload)
		if name == "type" {
			h.partType = s
		}
		h.attrs[name] = s
	case exrTypeStringVector:
		list, err := parseStringVector(p)
		if err != nil {
			return err
		}
		h.attrs[name] = list
	case exrTypeInt:
		v, err := p.int32()
		if err != nil {
			return err
		}
		if name == "chunkCount" {
			h.chunkCount = int(v)
		} else {
			h.attrs[name] = int(v)
		}
	case exrTypeFloat:
		v, err := p.float32()
		if err != nil {
			return err
		}
		h.attrs[name] = v
	case exrTypeV2f:
		x, err := p.float32()
		if err != nil {
			return err
		}
		y, err := p.float32()
		if err != nil {
			return err
		}
		h.attrs[name] = [2]float32{x, y}
	default:
		h.attrs[name] = append([]byte(nil), payload...)
	}
	return nil
}

func parseBox2i(p *exrParser) ([4]int, error) {
	var box [4]int
	for i := range box {
		v, err := p.int32()
		if err != nil {
			return box, err
		}
		box[i] = int(v)
	}
	return box, nil
}

// parseChlist reads chlist entries in declared order up to the terminating
// null byte.
func parseChlist(p *exrParser) ([]exrChannel, error) {
	var chans []exrChannel
	for {
		if p.off < len(p.data) && p.data[p.off] == 0 {
			return chans, nil
		}
		name, err := p.cstring(maxNameLen)
		if err != nil {
			return nil, err
		}
		var c exrChannel
		c.name = name
		if c.pixelType, err = p.uint32(); err != nil {
			return nil, err
		}
		if c.pixelType > exrPixelFloat {
			return nil, fmt.Errorf("%w: channel %q pixel type %d", ErrInvalidHeader, name, c.pixelType)
		}
		// pLinear plus three reserved bytes.
		if _, err = p.bytes(4); err != nil {
			return nil, err
		}
		if c.xSampling, err = p.int32(); err != nil {
			return nil, err
		}
		if c.ySampling, err = p.int32(); err != nil {
			return nil, err
		}
		chans = append(chans, c)
	}
}

// parseStringVector reads a sequence of length-prefixed strings filling the
// whole payload.
func parseStringVector(p *exrParser) ([]string, error) {
	var out []string
	for p.off < len(p.data) {
		n, err := p.int32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: negative string length", ErrInvalidHeader)
		}
		b, err := p.bytes(int(n))
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

// EXR compression identifiers.
const (
	exrCompressionNone  = 0
	exrCompressionRLE   = 1
	exrCompressionZIPS  = 2
	exrCompressionZIP   = 3
	exrCompressionPIZ   = 4
	exrCompressionPXR24 = 5
	exrCompressionB44   = 6
	exrCompressionB44A  = 7
	exrCompressionDWAA  = 8
	exrCompressionDWAB  = 9
)

func exrCompressionName(c uint8) string {
	switch c {
	case exrCompressionNone:
		return "none"
	case exrCompressionRLE:
		return "rle"
	case exrCompressionZIPS:
		return "zips"
	case exrCompressionZIP:
		return "zip"
	case exrCompressionPIZ:
		return "piz"
	case exrCompressionPXR24:
		return "pxr24"
	case exrCompressionB44:
		return "b44"
	case exrCompressionB44A:
		return "b44a"
	case exrCompressionDWAA:
		return "dwaa"
	case exrCompressionDWAB:
		return "dwab"
	}
	return fmt.Sprintf("compression(%d)", c)
}

// exrLinesPerChunk returns how many scanlines one chunk covers under each
// compression scheme, or 0 for an unknown scheme.
func exrLinesPerChunk(c uint8) int {
	switch c {
	case exrCompressionNone, exrCompressionRLE, exrCompressionZIPS:
		return 1
	case exrCompressionZIP, exrCompressionPXR24:
		return 16
	case exrCompressionPIZ, exrCompressionB44, exrCompressionB44A, exrCompressionDWAA:
		return 32
	case exrCompressionDWAB:
		return 256
	}
	return 0
}

// exrDecodable reports whether the reader can decompress chunks written
// with the given scheme.
func exrDecodable(c uint8) bool {
	switch c {
	case exrCompressionNone, exrCompressionRLE, exrCompressionZIPS, exrCompressionZIP:
		return true
	}
	return false
}
