package layerio

import "fmt"

// Pseudo-channel indices used in resolved channel lists. Real source
// channels are stored offset by channelFirst so that the two constant-fill
// channels keep fixed positions.
const (
	constantZero = 0
	constantOne  = 1
	channelFirst = 2
)

type formatKind uint8

const (
	formatUnset formatKind = iota
	formatAlpha
	formatRGB
	formatRGBA
	formatXY
	formatCustom
)

// PixelFormat selects the component layout a decode call produces. The
// package defines the fixed formats FormatAlpha, FormatRGB, FormatRGBA and
// FormatXY; FormatCustom builds an N-component format filled from a layer's
// channels in order. The zero value is "unset" and decodes as FormatRGBA.
type PixelFormat struct {
	kind formatKind
	n    int
}

var (
	// FormatAlpha produces a single component holding the layer's alpha.
	FormatAlpha = PixelFormat{kind: formatAlpha, n: 1}

	// FormatRGB produces three color components.
	FormatRGB = PixelFormat{kind: formatRGB, n: 3}

	// FormatRGBA produces three color components plus alpha.
	FormatRGBA = PixelFormat{kind: formatRGBA, n: 4}

	// FormatXY produces two components, for motion-vector style layers.
	FormatXY = PixelFormat{kind: formatXY, n: 2}
)

// FormatCustom returns an n-component format. Components beyond the layer's
// channel count fill with constants: component 3 with one, all others with
// zero.
func FormatCustom(n int) PixelFormat {
	if n < 1 {
		n = 1
	}
	return PixelFormat{kind: formatCustom, n: n}
}

// Components returns the number of float components per pixel.
func (f PixelFormat) Components() int {
	if f.kind == formatUnset {
		return 4
	}
	return f.n
}

func (f PixelFormat) String() string {
	switch f.kind {
	case formatUnset:
		return "unset"
	case formatAlpha:
		return "Alpha"
	case formatRGB:
		return "RGB"
	case formatRGBA:
		return "RGBA"
	case formatXY:
		return "XY"
	case formatCustom:
		return fmt.Sprintf("Custom(%d)", f.n)
	}
	return fmt.Sprintf("PixelFormat(%d)", f.kind)
}

// resolve computes the ordered pseudo-channel list populating each output
// component from the layer's channels. Entries are either constantZero,
// constantOne, or channelFirst+i for source channel i of the layer's
// subimage.
func (f PixelFormat) resolve(e *LayerEntry) []int {
	switch f.kind {
	case formatAlpha:
		return resolveAlpha(e)
	case formatRGB:
		return resolveRGB(e)
	case formatXY:
		return resolveXY(e)
	case formatCustom:
		return resolveCustom(e, f.n)
	default:
		return resolveRGBA(e)
	}
}

// sourceChannel returns the pseudo-index of the layer's i-th channel.
func sourceChannel(e *LayerEntry, i int) int {
	return e.Channels[i] + channelFirst
}

// intensityAlpha reports whether a two-channel layer follows the
// intensity+alpha pattern: an I or Y channel followed by A.
func intensityAlpha(e *LayerEntry) bool {
	return len(e.Tokens) == 2 &&
		(e.Tokens[0] == "I" || e.Tokens[0] == "Y") &&
		e.Tokens[1] == "A"
}

func resolveAlpha(e *LayerEntry) []int {
	switch len(e.Channels) {
	case 1:
		return []int{sourceChannel(e, 0)}
	case 2:
		if intensityAlpha(e) {
			return []int{sourceChannel(e, 1)}
		}
		return []int{sourceChannel(e, 0)}
	case 3:
		return []int{constantOne}
	default:
		return []int{sourceChannel(e, 3)}
	}
}

func resolveRGB(e *LayerEntry) []int {
	switch len(e.Channels) {
	case 1:
		c := sourceChannel(e, 0)
		return []int{c, c, c}
	case 2:
		return []int{sourceChannel(e, 0), sourceChannel(e, 1), constantZero}
	default:
		return []int{sourceChannel(e, 0), sourceChannel(e, 1), sourceChannel(e, 2)}
	}
}

func resolveRGBA(e *LayerEntry) []int {
	switch len(e.Channels) {
	case 1:
		c := sourceChannel(e, 0)
		return []int{c, c, c, constantOne}
	case 2:
		if intensityAlpha(e) {
			c := sourceChannel(e, 0)
			return []int{c, c, c, sourceChannel(e, 1)}
		}
		return []int{sourceChannel(e, 0), sourceChannel(e, 1), constantZero, constantOne}
	case 3:
		return []int{sourceChannel(e, 0), sourceChannel(e, 1), sourceChannel(e, 2), constantOne}
	default:
		return []int{sourceChannel(e, 0), sourceChannel(e, 1), sourceChannel(e, 2), sourceChannel(e, 3)}
	}
}

func resolveXY(e *LayerEntry) []int {
	switch len(e.Channels) {
	case 1:
		c := sourceChannel(e, 0)
		return []int{c, c}
	case 2, 3:
		return []int{sourceChannel(e, 0), sourceChannel(e, 1)}
	default:
		return []int{sourceChannel(e, 0), sourceChannel(e, 3)}
	}
}

func resolveCustom(e *LayerEntry, n int) []int {
	out := make([]int, n)
	for k := range out {
		switch {
		case k < len(e.Channels):
			out[k] = sourceChannel(e, k)
		case k == 3:
			out[k] = constantOne
		default:
			out[k] = constantZero
		}
	}
	return out
}

// FormatTable is an immutable registry of the pixel formats a host
// application accepts, built once at startup from its capabilities and
// consulted when picking a format for a layer.
type FormatTable struct {
	formats []PixelFormat
}

// NewFormatTable builds a table from capability flags. FormatXY is always
// included. The flag order fixes the table order.
func NewFormatTable(rgba, rgb, alpha bool) *FormatTable {
	t := &FormatTable{}
	if rgba {
		t.formats = append(t.formats, FormatRGBA)
	}
	if rgb {
		t.formats = append(t.formats, FormatRGB)
	}
	if alpha {
		t.formats = append(t.formats, FormatAlpha)
	}
	t.formats = append(t.formats, FormatXY)
	return t
}

// Formats returns a copy of the table in registration order.
func (t *FormatTable) Formats() []PixelFormat {
	out := make([]PixelFormat, len(t.formats))
	copy(out, t.formats)
	return out
}

// Contains reports whether f is in the table.
func (t *FormatTable) Contains(f PixelFormat) bool {
	for _, g := range t.formats {
		if g == f {
			return true
		}
	}
	return false
}

// Best picks the preferred table format for a layer with nchannels
// channels, falling back to the first registered format when no exact fit
// is available.
func (t *FormatTable) Best(nchannels int) PixelFormat {
	var want PixelFormat
	switch {
	case nchannels <= 1:
		want = FormatAlpha
	case nchannels == 2:
		want = FormatXY
	case nchannels == 3:
		want = FormatRGB
	default:
		want = FormatRGBA
	}
	if t.Contains(want) {
		return want
	}
	if want == FormatRGB && t.Contains(FormatRGBA) {
		return FormatRGBA
	}
	if len(t.formats) > 0 {
		return t.formats[0]
	}
	return FormatRGBA
}
