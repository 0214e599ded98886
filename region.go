package layerio

import "image"

// dataOffsetX returns the horizontal shift applied to file coordinates so
// the display window starts at x=0. Negative display origins are shifted
// unless the caller opted to keep them; positive origins are always
// shifted.
func dataOffsetX(s *ImageSpec, keepNegativeOrigin bool) int {
	if (s.FullX < 0 && !keepNegativeOrigin) || s.FullX > 0 {
		return -s.FullX
	}
	return 0
}

// renderDataBounds converts the subimage's data window into render-window
// coordinates: x shifted by off, y flipped so the origin sits at the
// bottom-left of the display window.
func renderDataBounds(s *ImageSpec, off int) image.Rectangle {
	return image.Rectangle{
		Min: image.Pt(s.X+off, s.FullY+s.FullHeight-(s.Y+s.Height)),
		Max: image.Pt(s.X+s.Width+off, s.FullY+s.FullHeight-s.Y),
	}
}

// renderFormatRect converts the subimage's display window into render-window
// coordinates, translated to start at y=0 and x shifted by the same offset
// rule as the data window.
func renderFormatRect(s *ImageSpec, off int) image.Rectangle {
	return image.Rectangle{
		Min: image.Pt(s.FullX+off, 0),
		Max: image.Pt(s.FullX+off+s.FullWidth, s.FullHeight),
	}
}

// expandBounds grows r according to the edge-pixel policy. Sides grow by
// one pixel where the data window stops short of the display window; the
// vertical flip maps a gap at the file top to the render top.
func expandBounds(r image.Rectangle, s *ImageSpec, mode EdgePixelsMode) image.Rectangle {
	left := s.X != s.FullX
	right := s.X+s.Width != s.FullX+s.FullWidth
	top := s.Y != s.FullY
	bottom := s.Y+s.Height != s.FullY+s.FullHeight

	growAll := func() image.Rectangle {
		return image.Rectangle{
			Min: image.Pt(r.Min.X-1, r.Min.Y-1),
			Max: image.Pt(r.Max.X+1, r.Max.Y+1),
		}
	}

	switch mode {
	case EdgePixelsAuto:
		if left || right || top || bottom {
			return growAll()
		}
	case EdgePixelsEdgeDetect:
		if left && right && top && bottom {
			return growAll()
		}
		if left {
			r.Min.X--
		}
		if right {
			r.Max.X++
		}
		if top {
			r.Max.Y++
		}
		if bottom {
			r.Min.Y--
		}
	case EdgePixelsRepeat:
	case EdgePixelsBlack:
		return growAll()
	}
	return r
}

// fileRowRange returns the half-open file row range covering render rows
// [ry1, ry2) of the subimage.
func fileRowRange(s *ImageSpec, ry1, ry2 int) (fy1, fy2 int) {
	return s.FullY + s.FullHeight - ry2, s.FullY + s.FullHeight - ry1
}

// renderRowFor returns the render row holding file row fy.
func renderRowFor(s *ImageSpec, fy int) int {
	return s.FullY + s.FullHeight - 1 - fy
}
