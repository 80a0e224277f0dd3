/*
File: dataset.go
Version: 1.0.0
Description: Loader for the labelled training corpus (CSV with at least "url" and "status" columns).
             Columns are located by header name. status == "phishing" is the positive class,
             every other value is legitimate. Rows missing either field are skipped.
*/

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const phishingStatus = "phishing"

// LabeledURL is one training example.
type LabeledURL struct {
	URL   string
	Label int
}

// DatasetStats describes what LoadDataset kept and discarded.
type DatasetStats struct {
	Rows      int
	Kept      int
	Dropped   int
	Phishing  int
	Malformed int
}

// LabelFromStatus applies the corpus label encoding.
func LabelFromStatus(status string) int {
	if status == phishingStatus {
		return ClassPhishing
	}
	return ClassLegitimate
}

// LoadDataset reads a training corpus from path.
func LoadDataset(path string) ([]LabeledURL, DatasetStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, DatasetStats{}, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	return ReadDataset(file)
}

// ReadDataset parses a training corpus from r.
func ReadDataset(r io.Reader) ([]LabeledURL, DatasetStats, error) {
	var stats DatasetStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, fmt.Errorf("dataset is empty")
		}
		return nil, stats, fmt.Errorf("read dataset header: %w", err)
	}

	urlCol, statusCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "url":
			urlCol = i
		case "status":
			statusCol = i
		}
	}
	if urlCol < 0 || statusCol < 0 {
		return nil, stats, fmt.Errorf("dataset header %v lacks url/status columns", header)
	}

	var out []LabeledURL
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Rows++
		if err != nil {
			stats.Malformed++
			if IsDebugEnabled() {
				LogDebug("[DATASET] Skipping malformed row %d: %v", stats.Rows, err)
			}
			continue
		}
		if urlCol >= len(record) || statusCol >= len(record) {
			stats.Dropped++
			continue
		}

		url := record[urlCol]
		status := strings.TrimSpace(record[statusCol])
		if url == "" || status == "" {
			stats.Dropped++
			continue
		}

		label := LabelFromStatus(status)
		if label == ClassPhishing {
			stats.Phishing++
		}
		out = append(out, LabeledURL{URL: url, Label: label})
		stats.Kept++
	}

	if len(out) == 0 {
		return nil, stats, fmt.Errorf("dataset has no usable rows")
	}
	return out, stats, nil
}
