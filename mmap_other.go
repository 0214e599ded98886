//go:build !unix

package layerio

import "os"

// openSliceReader reads the whole file into memory on platforms without a
// usable mmap.
func openSliceReader(path string) (sliceReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &memReader{data: data}, nil
}
