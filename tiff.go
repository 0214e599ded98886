package layerio

import (
	"fmt"
	"os"

	"golang.org/x/image/tiff"
)

func init() {
	RegisterInput(".tif", openTIFF)
	RegisterInput(".tiff", openTIFF)
}

func openTIFF(path string, opts *Options) (ImageInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newRasterInput(img, "tiff", opts), nil
}
