package layerio

import (
	"fmt"
	"sort"
)

// ImageSpec describes one subimage: its pixel geometry, channel list and
// attribute table. Coordinates are in the file's own convention, top-left
// origin with y increasing downward. The data window (X, Y, Width, Height)
// is the region that actually holds pixels; the display window (FullX,
// FullY, FullWidth, FullHeight) is the nominal frame it composites into.
type ImageSpec struct {
	X      int
	Y      int
	Width  int
	Height int

	FullX      int
	FullY      int
	FullWidth  int
	FullHeight int

	// TileWidth and TileHeight are zero when the subimage is stored as
	// scanlines.
	TileWidth  int
	TileHeight int

	// Channels holds the raw channel names in declared order.
	Channels []string

	// AlphaChannel is the index into Channels of the alpha channel, or -1.
	AlphaChannel int

	// Deep marks subimages holding per-pixel sample lists. Such subimages
	// can be inspected but never decoded.
	Deep bool

	// Attrs holds the remaining metadata attributes keyed by name. Values
	// are one of string, []string, int, float32, bool, [4]int (box),
	// [2]float32 (vector) or []byte (raw payload of an unknown type).
	Attrs map[string]any
}

// Tiled reports whether the subimage is stored as tiles.
func (s *ImageSpec) Tiled() bool {
	return s.TileWidth > 0 && s.TileHeight > 0
}

// NumChannels returns the number of channels in the subimage.
func (s *ImageSpec) NumChannels() int {
	return len(s.Channels)
}

// AttrString returns the named attribute if it is a string.
func (s *ImageSpec) AttrString(key string) (string, bool) {
	v, ok := s.Attrs[key].(string)
	return v, ok
}

// AttrStringList returns the named attribute if it is a string list.
func (s *ImageSpec) AttrStringList(key string) ([]string, bool) {
	v, ok := s.Attrs[key].([]string)
	return v, ok
}

// AttrInt returns the named attribute if it is an integer.
func (s *ImageSpec) AttrInt(key string) (int, bool) {
	v, ok := s.Attrs[key].(int)
	return v, ok
}

// AttrFloat returns the named attribute if it is a float.
func (s *ImageSpec) AttrFloat(key string) (float32, bool) {
	v, ok := s.Attrs[key].(float32)
	return v, ok
}

// AttrBool returns the named attribute if it is a boolean.
func (s *ImageSpec) AttrBool(key string) (bool, bool) {
	v, ok := s.Attrs[key].(bool)
	return v, ok
}

// TileAligned reports whether the half-open pixel range [x1,x2)x[y1,y2) in
// file coordinates starts on tile boundaries and ends on tile boundaries or
// at the data window edge. Tile reads are only valid over aligned ranges.
func (s *ImageSpec) TileAligned(x1, y1, x2, y2 int) bool {
	if !s.Tiled() {
		return false
	}
	if (x1-s.X)%s.TileWidth != 0 || (y1-s.Y)%s.TileHeight != 0 {
		return false
	}
	if (x2-s.X)%s.TileWidth != 0 && x2 != s.X+s.Width {
		return false
	}
	if (y2-s.Y)%s.TileHeight != 0 && y2 != s.Y+s.Height {
		return false
	}
	return true
}

// sortedAttrKeys returns the attribute keys in lexical order, for stable
// metadata listings.
func (s *ImageSpec) sortedAttrKeys() []string {
	keys := make([]string, 0, len(s.Attrs))
	for k := range s.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *ImageSpec) String() string {
	return fmt.Sprintf("%dx%d%+d%+d, %d channels", s.Width, s.Height, s.X, s.Y, len(s.Channels))
}
