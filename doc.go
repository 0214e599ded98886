// Package layerio reads layered, multi-view raster files into float32
// planes chosen by layer, view and channel layout.
//
// This package opens multi-subimage files (OpenEXR, including multi-part
// and stereo files) as well as plain rasters (PNG, JPEG, TIFF, WebP, QOI,
// Radiance HDR), groups their channels into named layers per view, and
// decodes arbitrary rectangles of a layer into a packed or strided
// float32 buffer with render-space (bottom-up) row order.
//
// Reading a layer:
//
//	r, err := layerio.Open("shot.exr", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	rect, _ := r.DataBounds()
//	dst := make([]float32, rect.Dx()*rect.Dy()*4)
//	err = r.Decode(&layerio.DecodeRequest{
//	    Layer:  "Color",
//	    Format: layerio.FormatRGBA,
//	    Region: rect,
//	    Dst:    dst,
//	})
//
// Layer and view discovery:
//
//	views, _ := r.Views()
//	layers, _ := r.Layers()
//	for _, l := range layers {
//	    fmt.Println("layer", l.Label)
//	}
//
// Decoded regions may extend past the stored pixels; the excess is
// zero-filled, and the EdgePixels option controls how far past the data
// window the addressable bounds reach. A shared Cache holds compressed
// pixel blocks and parsed metadata across readers.
package layerio
