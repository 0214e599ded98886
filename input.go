package layerio

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ImageInput is the decode primitive a format backend provides. Pixel
// coordinates are in the file's own top-left-origin convention and ranges
// are half-open.
//
// Both read methods write float32 samples into dst using caller-chosen
// strides, measured in elements: the sample for pixel (x, y) and channel c
// lands at dst[dstOffset + (y-y1)*yStride + (x-x1)*xStride + (c-ch1)].
// A negative yStride with a suitably advanced dstOffset writes rows in
// inverted order. Implementations must not touch any other element.
type ImageInput interface {
	// NumSubimages returns how many subimages the file holds.
	NumSubimages() int

	// Spec returns the metadata of one subimage. The returned value is
	// shared and must not be modified.
	Spec(subimage int) (*ImageSpec, error)

	// ReadScanlines reads channels [ch1,ch2) over the pixel range
	// [x1,x2)x[y1,y2) from a scanline-stored subimage.
	ReadScanlines(subimage, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error

	// ReadTiles reads channels [ch1,ch2) over the pixel range
	// [x1,x2)x[y1,y2) from a tiled subimage. The range must satisfy the
	// spec's TileAligned predicate.
	ReadTiles(subimage, x1, x2, y1, y2, ch1, ch2 int, dst []float32, dstOffset, xStride, yStride int) error

	Close() error
}

// InputOpener opens a file as an ImageInput. opts is never nil and carries
// the decode configuration the backend must honor (alpha handling in
// particular).
type InputOpener func(path string, opts *Options) (ImageInput, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]InputOpener)
)

// RegisterInput registers a backend for a filename extension such as
// ".exr". Registering an extension twice replaces the previous backend.
// The package registers its built-in backends at init time.
func RegisterInput(ext string, open InputOpener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[strings.ToLower(ext)] = open
}

// openInput opens path with the backend registered for its extension.
func openInput(path string, opts *Options) (ImageInput, error) {
	ext := strings.ToLower(filepath.Ext(path))
	openersMu.RLock()
	open := openers[ext]
	openersMu.RUnlock()
	if open == nil {
		return nil, fmt.Errorf("%w: no backend for %q", ErrUnsupportedFormat, ext)
	}
	return open(path, opts)
}
