package layerio

// Strided buffer kernels shared by the decode paths. All offsets and
// strides are in float32 elements; w and h are in pixels.

// fillStrided writes v into a single component over a w x h span starting
// at dst[base], stepping xStride per pixel and yStride per row.
func fillStrided(dst []float32, base, w, h, xStride, yStride int, v float32) {
	for y := 0; y < h; y++ {
		p := base + y*yStride
		for x := 0; x < w; x++ {
			dst[p] = v
			p += xStride
		}
	}
}

// zeroPixels zeroes ncomp consecutive components of every pixel in a
// w x h span starting at dst[base].
func zeroPixels(dst []float32, base, w, h, xStride, yStride, ncomp int) {
	for y := 0; y < h; y++ {
		p := base + y*yStride
		for x := 0; x < w; x++ {
			for c := 0; c < ncomp; c++ {
				dst[p+c] = 0
			}
			p += xStride
		}
	}
}

// copyComponent copies one already-written component of every pixel in a
// w x h span onto another component of the same pixel. from and to are the
// component offsets within the pixel.
func copyComponent(dst []float32, base, w, h, xStride, yStride, from, to int) {
	for y := 0; y < h; y++ {
		p := base + y*yStride
		for x := 0; x < w; x++ {
			dst[p+to] = dst[p+from]
			p += xStride
		}
	}
}

// copyRows copies a w x h pixel block of ncomp-component pixels from a
// densely packed source into dst with arbitrary strides. srcRowStride is in
// elements; source pixels are assumed contiguous (pixel stride == ncomp).
func copyRows(dst []float32, dstBase, dstXStride, dstYStride int, src []float32, srcBase, srcRowStride, w, h, ncomp int) {
	for y := 0; y < h; y++ {
		sp := srcBase + y*srcRowStride
		dp := dstBase + y*dstYStride
		for x := 0; x < w; x++ {
			copy(dst[dp:dp+ncomp], src[sp:sp+ncomp])
			sp += ncomp
			dp += dstXStride
		}
	}
}
