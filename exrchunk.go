package layerio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// exrReconstruct undoes the two byte transforms applied before entropy
// coding: the running-delta predictor over the whole buffer, then the
// split of alternating bytes into two halves.
func exrReconstruct(buf []byte) []byte {
	for i := 1; i < len(buf); i++ {
		buf[i] = byte(int(buf[i-1]) + int(buf[i]) - 128)
	}
	out := make([]byte, len(buf))
	half := (len(buf) + 1) / 2
	t1, t2 := buf[:half], buf[half:]
	i := 0
	for j := range t1 {
		out[i] = t1[j]
		i++
		if i < len(out) {
			out[i] = t2[j]
			i++
		}
	}
	return out
}

// exrInflate decompresses a zlib stream to exactly want bytes.
func exrInflate(comp []byte, want int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(comp))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrDecodeFailed, err)
	}
	defer zr.Close()
	out := make([]byte, want)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

// rleDecode expands the signed-count run-length scheme into exactly want
// bytes. A negative count byte introduces that many literal bytes; a
// non-negative count n repeats the following byte n+1 times.
func rleDecode(comp []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	i := 0
	for i < len(comp) {
		n := int(int8(comp[i]))
		i++
		if n < 0 {
			count := -n
			if i+count > len(comp) {
				return nil, fmt.Errorf("%w: run-length literal overruns input", ErrTruncatedData)
			}
			out = append(out, comp[i:i+count]...)
			i += count
		} else {
			if i >= len(comp) {
				return nil, fmt.Errorf("%w: run-length repeat overruns input", ErrTruncatedData)
			}
			b := comp[i]
			i++
			for k := 0; k <= n; k++ {
				out = append(out, b)
			}
		}
		if len(out) > want {
			return nil, fmt.Errorf("%w: run-length output exceeds %d bytes", ErrDecodeFailed, want)
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: run-length output has %d bytes, want %d", ErrDecodeFailed, len(out), want)
	}
	return out, nil
}

// exrDecompressChunk turns one chunk's stored bytes into want uncompressed
// bytes. Writers store a chunk raw whenever compression would not shrink
// it, so a stored size equal to want short-circuits every scheme.
func exrDecompressChunk(compression uint8, comp []byte, want int) ([]byte, error) {
	if len(comp) == want {
		return comp, nil
	}
	switch compression {
	case exrCompressionNone:
		return nil, fmt.Errorf("%w: chunk has %d bytes, want %d", ErrTruncatedData, len(comp), want)
	case exrCompressionRLE:
		buf, err := rleDecode(comp, want)
		if err != nil {
			return nil, err
		}
		return exrReconstruct(buf), nil
	case exrCompressionZIPS, exrCompressionZIP:
		buf, err := exrInflate(comp, want)
		if err != nil {
			return nil, err
		}
		return exrReconstruct(buf), nil
	}
	return nil, fmt.Errorf("%w: %s compression", ErrUnsupportedFormat, exrCompressionName(compression))
}
