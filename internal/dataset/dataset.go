// Package dataset loads the labeled medical Q&A table used for knowledge-base
// seeding and offline evaluation.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"regexp"
	"strings"
)

// ErrDataset marks failures to load or sample the dataset.
var ErrDataset = errors.New("dataset error")

// Row is one labeled question/answer pair.
type Row struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Source    string `json:"source"`
	FocusArea string `json:"focus_area"`
}

var repeatedQuestionMarks = regexp.MustCompile(`\?(\s*\?)+`)

// NormalizeQuestion collapses runs of "?" into one and trims whitespace.
func NormalizeQuestion(q string) string {
	return strings.TrimSpace(repeatedQuestionMarks.ReplaceAllString(q, "?"))
}

// Load reads a CSV file with a header row containing at least "question" and
// "answer". "source" and "focus_area" are optional.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrDataset, path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses CSV rows from r. Rows with an empty question or answer are
// skipped. Questions are normalized.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrDataset, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"question", "answer"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing required column %q", ErrDataset, required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrDataset, line, err)
		}
		row := Row{
			Question:  NormalizeQuestion(field(rec, "question")),
			Answer:    field(rec, "answer"),
			Source:    field(rec, "source"),
			FocusArea: field(rec, "focus_area"),
		}
		if row.Question == "" || row.Answer == "" {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no usable rows", ErrDataset)
	}
	return rows, nil
}

// Sample draws n distinct rows using a seeded generator, so the same seed and
// input always yield the same sample.
func Sample(rows []Row, n int, seed int64) ([]Row, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: sample size must be at least 1, got %d", ErrDataset, n)
	}
	if n > len(rows) {
		return nil, fmt.Errorf("%w: sample size %d exceeds %d rows", ErrDataset, n, len(rows))
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(rows))
	out := make([]Row, n)
	for i := range out {
		out[i] = rows[perm[i]]
	}
	return out, nil
}
