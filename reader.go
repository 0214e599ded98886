package layerio

import (
	"fmt"
	"image"
	"strings"
	"sync"
)

// Reader provides layered, view-aware access to one raster file. A Reader
// is safe for concurrent use: decode calls for disjoint regions may run in
// parallel, and the layer catalog is rebuilt lazily under its own lock.
type Reader struct {
	path  string
	opts  Options
	input ImageInput
	cat   catalog

	mu     sync.Mutex
	closed bool
}

// Open opens path with the backend registered for its extension. opts may
// be nil for defaults.
func Open(path string, opts *Options) (*Reader, error) {
	o := opts.withDefaults()
	in, err := openInput(path, &o)
	if err != nil {
		return nil, err
	}
	if in.NumSubimages() == 0 {
		in.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoSubimages, path)
	}
	return &Reader{path: path, opts: o, input: in}, nil
}

// Close releases the underlying file. Further calls on the Reader fail
// with ErrReaderClosed.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.input.Close()
}

func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Path returns the file path the Reader was opened with.
func (r *Reader) Path() string { return r.path }

// NumSubimages returns how many subimages the file holds.
func (r *Reader) NumSubimages() int { return r.input.NumSubimages() }

// readSpecs fetches every subimage spec straight from the backend.
func (r *Reader) readSpecs() ([]*ImageSpec, error) {
	specs := make([]*ImageSpec, r.input.NumSubimages())
	for i := range specs {
		s, err := r.input.Spec(i)
		if err != nil {
			return nil, err
		}
		specs[i] = s
	}
	return specs, nil
}

// collectSpecs fetches the subimage specs, through the cache when one is
// configured.
func (r *Reader) collectSpecs() ([]*ImageSpec, error) {
	if r.isClosed() {
		return nil, ErrReaderClosed
	}
	if r.opts.Cache != nil {
		return r.opts.Cache.specs(r.path, r.opts.fingerprint(), r.readSpecs)
	}
	return r.readSpecs()
}

// Spec returns the metadata of one subimage.
func (r *Reader) Spec(subimage int) (*ImageSpec, error) {
	specs, err := r.collectSpecs()
	if err != nil {
		return nil, err
	}
	if subimage < 0 || subimage >= len(specs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadSubimage, subimage, len(specs))
	}
	return specs[subimage], nil
}

// Views returns the ordered view list. The first view is the default.
func (r *Reader) Views() ([]string, error) {
	snap, err := r.cat.snapshot(r.collectSpecs)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(snap.views))
	copy(out, snap.views)
	return out, nil
}

// Layers returns the layer catalog: every layer of every view, ordered by
// view discovery order and file-encounter order within each view. The
// ordering is stable across calls.
func (r *Reader) Layers() ([]LayerInfo, error) {
	snap, err := r.cat.snapshot(r.collectSpecs)
	if err != nil {
		return nil, err
	}
	out := make([]LayerInfo, len(snap.union))
	copy(out, snap.union)
	return out, nil
}

// InvalidateMetadata drops the cached layer catalog, forcing a rebuild on
// the next query. Call it after a configuration change that affects layer
// resolution.
func (r *Reader) InvalidateMetadata() {
	r.cat.invalidate()
	if r.opts.Cache != nil {
		r.opts.Cache.Invalidate(r.path)
	}
}

// FormatRect returns the nominal output frame in render-window
// coordinates: each subimage's display window translated to start at the
// origin, intersected across subimages.
func (r *Reader) FormatRect() (image.Rectangle, error) {
	specs, err := r.collectSpecs()
	if err != nil {
		return image.Rectangle{}, err
	}
	var rect image.Rectangle
	for i, s := range specs {
		fr := renderFormatRect(s, dataOffsetX(s, r.opts.KeepNegativeOrigin))
		if i == 0 {
			rect = fr
		} else {
			rect = rect.Intersect(fr)
		}
	}
	return rect, nil
}

// DataBounds returns the union of every subimage's addressable bounds in
// render-window coordinates: the flipped data window grown by the
// configured edge-pixel policy.
func (r *Reader) DataBounds() (image.Rectangle, error) {
	specs, err := r.collectSpecs()
	if err != nil {
		return image.Rectangle{}, err
	}
	var rect image.Rectangle
	for i, s := range specs {
		b := expandBounds(renderDataBounds(s, dataOffsetX(s, r.opts.KeepNegativeOrigin)), s, r.opts.EdgePixels)
		if i == 0 {
			rect = b
		} else {
			rect = rect.Union(b)
		}
	}
	return rect, nil
}

// Bounds returns the addressable bounds of a single subimage.
func (r *Reader) Bounds(subimage int) (image.Rectangle, error) {
	s, err := r.Spec(subimage)
	if err != nil {
		return image.Rectangle{}, err
	}
	off := dataOffsetX(s, r.opts.KeepNegativeOrigin)
	return expandBounds(renderDataBounds(s, off), s, r.opts.EdgePixels), nil
}

// Metadata returns a human-readable dump of the file's subimage geometry,
// attributes, views and layer catalog.
func (r *Reader) Metadata() (string, error) {
	specs, err := r.collectSpecs()
	if err != nil {
		return "", err
	}
	snap, err := r.cat.snapshot(r.collectSpecs)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", r.path)
	for i, s := range specs {
		fmt.Fprintf(&b, "subimage %d: %dx%d%+d%+d (display %dx%d%+d%+d)\n",
			i, s.Width, s.Height, s.X, s.Y, s.FullWidth, s.FullHeight, s.FullX, s.FullY)
		fmt.Fprintf(&b, "  channels: %s\n", strings.Join(s.Channels, ", "))
		if s.Tiled() {
			fmt.Fprintf(&b, "  tiles: %dx%d\n", s.TileWidth, s.TileHeight)
		}
		if s.AlphaChannel >= 0 {
			fmt.Fprintf(&b, "  alpha channel: %d\n", s.AlphaChannel)
		}
		if s.Deep {
			fmt.Fprintf(&b, "  deep: true\n")
		}
		for _, k := range s.sortedAttrKeys() {
			fmt.Fprintf(&b, "  %s = %v\n", k, s.Attrs[k])
		}
	}
	fmt.Fprintf(&b, "views: %s\n", strings.Join(snap.views, ", "))
	fmt.Fprintf(&b, "layers:\n")
	for _, li := range snap.union {
		fmt.Fprintf(&b, "  %s: subimage %d, channels %v\n", li.Label, li.Entry.Subimage, li.Entry.Tokens)
	}
	return b.String(), nil
}
