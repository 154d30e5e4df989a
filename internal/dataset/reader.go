package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/verte-zerg/heartica/internal/model"
)

// Scanner streams samples from a dataset one row at a time.
type Scanner struct {
	sc     *bufio.Scanner
	line   int
	sample model.Sample
	err    error
}

// NewScanner validates the header and returns a Scanner positioned before
// the first data row.
func NewScanner(r io.Reader) (*Scanner, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("dataset is empty")
	}
	header := strings.TrimPrefix(strings.TrimRight(sc.Text(), "\r"), "\ufeff")
	if header != Header {
		return nil, fmt.Errorf("unexpected dataset header %q", header)
	}
	return &Scanner{sc: sc, line: 1}, nil
}

// Scan advances to the next sample. Blank lines are skipped.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	for s.sc.Scan() {
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" {
			continue
		}
		sample, err := ParseRow(text)
		if err != nil {
			s.err = fmt.Errorf("line %d: %w", s.line, err)
			return false
		}
		s.sample = sample
		return true
	}
	s.err = s.sc.Err()
	return false
}

// Sample returns the most recently scanned sample.
func (s *Scanner) Sample() model.Sample {
	return s.sample
}

// Err returns the first error encountered while scanning.
func (s *Scanner) Err() error {
	return s.err
}

// ReadFile loads all samples of the dataset at path.
func ReadFile(path string) ([]model.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only dataset.
			_ = cerr
		}
	}()

	sc, err := NewScanner(file)
	if err != nil {
		return nil, err
	}
	var samples []model.Sample
	for sc.Scan() {
		samples = append(samples, sc.Sample())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
