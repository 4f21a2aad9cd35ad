// Package xrsim provides a simulator for delay-sensitive XR video traffic
// over a lossy wireless link.
package xrsim

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// A FrameDescriptor describes one XR video frame: its position in the
// stream, the compression knob it was encoded with, the distortion that
// compression introduces, and the compressed size.
type FrameDescriptor struct {
	FrameNumber         int
	CompressionLevel    int
	ReconstructionError float64
	SizeBytes           int
}

// A Catalog is the ordered sequence of frames a traffic generator emits.
type Catalog []FrameDescriptor

// A CatalogLoader loads a frame catalog from a CSV file.
type CatalogLoader struct {
	// Path of the catalog file.
	Path string

	// CompressionLevel keeps only the rows encoded at this exact level.
	// Zero keeps every row.
	CompressionLevel int
}

// Load reads the catalog file. The first line is a header and is discarded.
// Each following record must have exactly 4 fields:
// frameNumber,compressionLevel,reconstructionError,sizeBytes. Malformed
// records are skipped with a warning; failing to open the file is an error.
func (l *CatalogLoader) Load() (Catalog, error) {
	absPath, err := filepath.Abs(l.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open catalog file: %w", err)
	}
	defer func() {
		closeErr := f.Close()
		if closeErr != nil {
			panic(closeErr)
		}
	}()

	reader := csv.NewReader(f)
	reader.Comma = ','
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	catalog := make(Catalog, 0)

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logrus.Warnf("skipping malformed catalog line %d in %s: %v",
				line, l.Path, err)
			continue
		}
		if err != nil {
			return nil, err
		}

		if line == 1 {
			continue
		}

		desc, err := l.parseFrame(record)
		if err != nil {
			logrus.Warnf("skipping malformed catalog line %d in %s: %v",
				line, l.Path, err)
			continue
		}

		if l.CompressionLevel == 0 ||
			desc.CompressionLevel == l.CompressionLevel {
			catalog = append(catalog, desc)
		}
	}

	l.logSummary(catalog)

	return catalog, nil
}

func (l *CatalogLoader) parseFrame(record []string) (FrameDescriptor, error) {
	if len(record) != 4 {
		return FrameDescriptor{},
			fmt.Errorf("expected 4 fields, got %d", len(record))
	}

	frameNumber, err := strconv.Atoi(record[0])
	if err != nil {
		return FrameDescriptor{}, err
	}

	compressionLevel, err := strconv.Atoi(record[1])
	if err != nil {
		return FrameDescriptor{}, err
	}

	reconstructionError, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return FrameDescriptor{}, err
	}

	sizeBytes, err := strconv.Atoi(record[3])
	if err != nil {
		return FrameDescriptor{}, err
	}

	return FrameDescriptor{
		FrameNumber:         frameNumber,
		CompressionLevel:    compressionLevel,
		ReconstructionError: reconstructionError,
		SizeBytes:           sizeBytes,
	}, nil
}

func (l *CatalogLoader) logSummary(catalog Catalog) {
	if len(catalog) == 0 {
		logrus.Warnf("catalog %s has no usable frames", l.Path)
		return
	}

	minSize := catalog[0].SizeBytes
	maxSize := catalog[0].SizeBytes
	sumError := 0.0

	for _, desc := range catalog {
		if desc.SizeBytes < minSize {
			minSize = desc.SizeBytes
		}
		if desc.SizeBytes > maxSize {
			maxSize = desc.SizeBytes
		}
		sumError += desc.ReconstructionError
	}

	logrus.Infof("loaded %d frames from %s, size range %d-%d bytes, "+
		"mean reconstruction error %.4f",
		len(catalog), l.Path, minSize, maxSize,
		sumError/float64(len(catalog)))
}
