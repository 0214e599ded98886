package layerio

import "fmt"

// EdgePixelsMode selects how the addressable bounds of a subimage grow at
// the border between its data window and its display window. Growing a side
// by one pixel lets the caller sample past the data edge, where the decoder
// pads with zero.
type EdgePixelsMode int

const (
	// EdgePixelsAuto grows all four sides by one pixel whenever the data
	// window differs from the display window on any side.
	EdgePixelsAuto EdgePixelsMode = iota

	// EdgePixelsEdgeDetect grows all four sides when every side differs,
	// otherwise grows only the sides that differ.
	EdgePixelsEdgeDetect

	// EdgePixelsRepeat never grows the bounds.
	EdgePixelsRepeat

	// EdgePixelsBlack always grows all four sides by one pixel.
	EdgePixelsBlack
)

func (m EdgePixelsMode) String() string {
	switch m {
	case EdgePixelsAuto:
		return "auto"
	case EdgePixelsEdgeDetect:
		return "edge-detect"
	case EdgePixelsRepeat:
		return "repeat"
	case EdgePixelsBlack:
		return "black"
	}
	return fmt.Sprintf("EdgePixelsMode(%d)", int(m))
}

// defaultMaxScratchBytes bounds the scratch buffer allocated for
// tile-alignment expansion. Requests needing more fail with
// ErrScratchTooLarge rather than attempting the allocation.
const defaultMaxScratchBytes = 1 << 30

// Options controls how files are opened and decoded. The zero value is a
// valid default configuration; passing nil wherever an *Options is accepted
// is equivalent to passing the zero value.
type Options struct {
	// EdgePixels selects the edge-pixel policy applied when computing a
	// subimage's addressable bounds.
	EdgePixels EdgePixelsMode

	// KeepNegativeOrigin, when set, preserves a negative display-window
	// origin instead of shifting the frame so the display window starts
	// at x=0. Display windows starting at a positive x are always
	// shifted.
	KeepNegativeOrigin bool

	// KeepUnassociatedAlpha, when set, leaves color channels unmultiplied
	// by alpha for formats that store unassociated alpha. By default such
	// formats are premultiplied on read.
	KeepUnassociatedAlpha bool

	// MaxScratchBytes limits the scratch buffer used when a tiled read is
	// not tile-aligned. 0 means the built-in default of 1 GiB.
	MaxScratchBytes int64

	// Cache, if non-nil, memoizes subimage metadata and compressed pixel
	// blocks across readers. A single Cache may be shared by any number
	// of concurrent readers.
	Cache *Cache
}

// withDefaults resolves a possibly-nil Options into a concrete value with
// defaults applied.
func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.MaxScratchBytes <= 0 {
		out.MaxScratchBytes = defaultMaxScratchBytes
	}
	return out
}

// fingerprint encodes the option fields that change decoded bytes. Cache
// entries are keyed by it so that a configuration change never serves stale
// pixels.
func (o Options) fingerprint() string {
	return fmt.Sprintf("e%d,n%t,u%t", o.EdgePixels, o.KeepNegativeOrigin, o.KeepUnassociatedAlpha)
}
