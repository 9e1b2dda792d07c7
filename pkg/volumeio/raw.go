package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

// ErrHeader is returned when a raw file's header does not describe it.
var ErrHeader = errors.New("volumeio: invalid raw header")

// Header describes a raw float64 file. It is stored next to the data as
// <file>.yaml.
type Header struct {
	Shape     []int          `yaml:"shape"`
	Spacing   models.Spacing `yaml:"spacing,flow"`
	DType     string         `yaml:"dtype"`
	Order     string         `yaml:"order"`
	ByteOrder string         `yaml:"byteOrder"`
	// RunID ties the file to the run that produced it
	RunID string `yaml:"runId,omitempty"`
}

// HeaderPath returns where the header of the raw file at path lives.
func HeaderPath(path string) string {
	return path + ".yaml"
}

// WriteRaw stores field as little-endian float64 in (i, j, k) row-major
// order and writes its header.
func WriteRaw(path string, field ndarray.Array[float64], spacing models.Spacing, runID string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating raw file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, field.Data); err != nil {
		f.Close()
		return fmt.Errorf("error writing raw file: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("error writing raw file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	header := Header{
		Shape:     field.Shape,
		Spacing:   spacing,
		DType:     "float64",
		Order:     "C",
		ByteOrder: "little",
		RunID:     runID,
	}
	data, err := yaml.Marshal(header)
	if err != nil {
		return fmt.Errorf("error marshaling raw header: %w", err)
	}
	if err := os.WriteFile(HeaderPath(path), data, 0644); err != nil {
		return fmt.Errorf("error writing raw header: %w", err)
	}
	return nil
}

// ReadRaw loads a file written by WriteRaw.
func ReadRaw(path string) (ndarray.Array[float64], Header, error) {
	var header Header
	data, err := os.ReadFile(HeaderPath(path))
	if err != nil {
		return ndarray.Array[float64]{}, header, fmt.Errorf("error reading raw header: %w", err)
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return ndarray.Array[float64]{}, header, fmt.Errorf("%w: %v", ErrHeader, err)
	}
	if header.DType != "float64" || header.ByteOrder != "little" || header.Order != "C" {
		return ndarray.Array[float64]{}, header, fmt.Errorf("%w: unsupported layout %s/%s/%s",
			ErrHeader, header.DType, header.Order, header.ByteOrder)
	}
	n := 1
	for _, d := range header.Shape {
		if d <= 0 {
			return ndarray.Array[float64]{}, header, fmt.Errorf("%w: shape %v", ErrHeader, header.Shape)
		}
		n *= d
	}

	f, err := os.Open(path)
	if err != nil {
		return ndarray.Array[float64]{}, header, err
	}
	defer f.Close()
	values := make([]float64, n)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, values); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return ndarray.Array[float64]{}, header, fmt.Errorf("%w: file shorter than shape %v", ErrHeader, header.Shape)
		}
		return ndarray.Array[float64]{}, header, err
	}
	field, err := ndarray.FromData(values, header.Shape...)
	return field, header, err
}
