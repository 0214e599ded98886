// layerinfo lists the subimages, views and layers of a raster file.
//
// Usage:
//
//	layerinfo [-bounds] <filename> [<filename> ...]
//
// Options:
//
//	-bounds  also print the render-space format rect and data bounds
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ajroetker/go-layerio"
)

var bounds bool

func init() {
	flag.BoolVar(&bounds, "bounds", false, "print render-space bounds")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-bounds] <filename> [<filename> ...]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Print subimage geometry, channels, views and layers of raster files.\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	failed := 0
	for i, path := range args {
		if i > 0 {
			fmt.Println()
		}
		if err := describe(path); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR %s: %v\n", path, err)
			failed++
		}
	}
	os.Exit(failed)
}

func describe(path string) error {
	r, err := layerio.Open(path, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	fmt.Print(meta)

	if bounds {
		fr, err := r.FormatRect()
		if err != nil {
			return err
		}
		db, err := r.DataBounds()
		if err != nil {
			return err
		}
		fmt.Printf("format rect: (%d,%d)-(%d,%d)\n", fr.Min.X, fr.Min.Y, fr.Max.X, fr.Max.Y)
		fmt.Printf("data bounds: (%d,%d)-(%d,%d)\n", db.Min.X, db.Min.Y, db.Max.X, db.Max.Y)
	}
	return nil
}
