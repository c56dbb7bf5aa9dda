package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/maltedev/cosmetics-harvester/internal/models"
)

// Columns is the header of the harvested table, in output order.
var Columns = []string{"product_id", "price", "rating", "review_count", "composition"}

// CSVSink writes the result table to a CSV file.
type CSVSink struct {
	filename string
}

func NewCSVSink(filename string) *CSVSink {
	return &CSVSink{filename: filename}
}

func (s *CSVSink) Name() string {
	return "csv"
}

func (s *CSVSink) Filename() string {
	return s.filename
}

// Write replaces the output file with the given records.
func (s *CSVSink) Write(_ context.Context, _ string, records []models.ProductRecord) error {
	tmpFile := s.filename + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpFile, err)
	}

	if err := WriteCSV(f, records); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to close %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, s.filename); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename %s: %w", tmpFile, err)
	}

	return nil
}

// WriteCSV encodes records with a header row and no index column.
func WriteCSV(w io.Writer, records []models.ProductRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ProductID, 10),
			strconv.FormatInt(rec.Price, 10),
			formatFloat(rec.Rating),
			strconv.Itoa(rec.ReviewCount),
			rec.Composition,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write product %d: %w", rec.ProductID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// formatFloat always keeps a decimal point so the column reads as float.
func formatFloat(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
