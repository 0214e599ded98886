package layerio

import "errors"

var (
	ErrUnsupportedFormat = errors.New("layerio: unsupported format")
	ErrInvalidHeader     = errors.New("layerio: invalid header")
	ErrTruncatedData     = errors.New("layerio: truncated data")
	ErrNoSubimages       = errors.New("layerio: file has no subimages")
	ErrBadSubimage       = errors.New("layerio: subimage index out of range")
	ErrUnknownView       = errors.New("layerio: unknown view")
	ErrUnknownLayer      = errors.New("layerio: unknown layer")
	ErrBadChannel        = errors.New("layerio: channel index out of range")
	ErrBadRegion         = errors.New("layerio: empty or inverted region")
	ErrBufferTooSmall    = errors.New("layerio: destination buffer too small")
	ErrDeepData          = errors.New("layerio: deep pixel data is not supported")
	ErrScratchTooLarge   = errors.New("layerio: tile scratch buffer exceeds limit")
	ErrReaderClosed      = errors.New("layerio: reader is closed")
	ErrDecodeFailed      = errors.New("layerio: decode failed")
)
