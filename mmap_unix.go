//go:build unix

package layerio

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapReader serves slices straight out of a read-only file mapping,
// avoiding a copy of the pixel data.
type mmapReader struct {
	data []byte
}

func (m *mmapReader) Slice(off int64, n int) ([]byte, error) {
	return (&memReader{data: m.data}).Slice(off, n)
}

func (m *mmapReader) Size() int64 { return int64(len(m.data)) }

func (m *mmapReader) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}

// openSliceReader maps path read-only, falling back to an in-memory copy
// when the mapping fails (unusual filesystems, empty files).
func openSliceReader(path string) (sliceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &memReader{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		buf, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, rerr
		}
		return &memReader{data: buf}, nil
	}
	return &mmapReader{data: data}, nil
}
