package layerio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "github.com/xfmoulet/qoi"
	_ "golang.org/x/image/webp"
)

func init() {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".qoi"} {
		RegisterInput(ext, openStdImage)
	}
}

// openStdImage decodes any format registered with the image package and
// serves it from memory. The blank imports above pull in the decoders for
// the extensions registered here.
func openStdImage(path string, opts *Options) (ImageInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newRasterInput(img, format, opts), nil
}
