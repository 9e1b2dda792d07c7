// Package volumeio reads and writes labeled volumes as stacks of 2D slice
// images and float fields as raw binary files with a YAML header.
//
// A slice stack maps pixel (x, y) of the n-th image, in file name order, to
// voxel (x, y, n).
package volumeio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

var (
	// ErrNoSlices is returned when a directory holds no slice images.
	ErrNoSlices = errors.New("volumeio: no slice images found")
	// ErrSliceSize is returned when slices in one stack differ in size.
	ErrSliceSize = errors.New("volumeio: slice dimensions differ")
)

// ListSlices returns the PNG and JPEG files of dir ordered by the number in
// their names, then by name.
func ListSlices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			imageFiles = append(imageFiles, entry.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		numI, numJ := extractNumber(imageFiles[i]), extractNumber(imageFiles[j])
		if numI != numJ {
			return numI < numJ
		}
		return imageFiles[i] < imageFiles[j]
	})
	return imageFiles, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var numStr strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr.WriteRune(c)
		}
	}

	if numStr.Len() > 0 {
		if num, err := strconv.Atoi(numStr.String()); err == nil {
			return num
		}
	}
	return 0
}

// LoadSlices reads every slice image of dir into a labeled volume. Pixel
// values are converted to 8-bit gray and taken as labels.
func LoadSlices(dir string) (ndarray.Array[uint8], error) {
	files, err := ListSlices(dir)
	if err != nil {
		return ndarray.Array[uint8]{}, err
	}

	var (
		out           ndarray.Array[uint8]
		width, height int
	)
	for n, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return ndarray.Array[uint8]{}, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		bounds := img.Bounds()
		if n == 0 {
			width, height = bounds.Dx(), bounds.Dy()
			out = ndarray.New[uint8](width, height, len(files))
		} else if bounds.Dx() != width || bounds.Dy() != height {
			return ndarray.Array[uint8]{}, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrSliceSize, name, bounds.Dx(), bounds.Dy(), width, height)
		}
		for y := range height {
			for x := range width {
				g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
				out.Set(g.Y, x, y, n)
			}
		}
	}
	return out, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Decode(f)
	default:
		return jpeg.Decode(f)
	}
}

// SaveSlices writes labels as one 8-bit gray PNG per k index, named
// prefix_0000.png, prefix_0001.png and so on.
func SaveSlices(dir, prefix string, labels ndarray.Array[uint8]) error {
	if labels.Ndim() != 3 {
		return fmt.Errorf("volumeio: labeled volume must be 3D, got shape %v", labels.Shape)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating slice directory: %w", err)
	}
	width, height, depth := labels.Shape[0], labels.Shape[1], labels.Shape[2]
	for k := range depth {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := range height {
			for x := range width {
				img.SetGray(x, y, color.Gray{Y: labels.At(x, y, k)})
			}
		}
		if err := savePNG(filepath.Join(dir, fmt.Sprintf("%s_%04d.png", prefix, k)), img); err != nil {
			return err
		}
	}
	return nil
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	return f.Close()
}

// SnapLabels maps every value to the nearest of background and the labels
// in set. It repairs stacks stored in a lossy format such as JPEG.
func SnapLabels(labels ndarray.Array[uint8], set models.LabelSet) ndarray.Array[uint8] {
	valid := []uint8{0, set.Inside, set.Wall, set.Holes}
	var table [256]uint8
	for v := range table {
		best, dist := uint8(0), 256
		for _, l := range valid {
			if d := abs(v - int(l)); d < dist {
				best, dist = l, d
			}
		}
		table[v] = best
	}
	return ndarray.Map(labels, func(v uint8) uint8 { return table[v] })
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
