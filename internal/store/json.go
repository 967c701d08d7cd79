package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
)

// JSONSink writes each record to its own file in a results folder.
type JSONSink struct {
	dir string
}

// NewJSONSink creates a sink writing into dir. The folder is created on the
// first save.
func NewJSONSink(dir string) *JSONSink {
	return &JSONSink{dir: dir}
}

// Name returns the sink name.
func (j *JSONSink) Name() string {
	return "json"
}

// Dir returns the results folder.
func (j *JSONSink) Dir() string {
	return j.dir
}

// Save writes {key}.json. The file is created exclusively, so concurrent
// saves of different records never collide and a repeated key fails with
// ErrRecordExists.
func (j *JSONSink) Save(ctx context.Context, record *models.AnalysisRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(j.dir, record.Key()+".json")
	if err := j.writeExclusive(path, record); err != nil {
		return "", err
	}
	return path, nil
}

// SaveSummary writes batch_summary_{timestamp}.json.
func (j *JSONSink) SaveSummary(ctx context.Context, summary *models.BatchSummary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("batch_summary_%s.json", summary.Timestamp.UTC().Format(models.RecordTimeLayout))
	path := filepath.Join(j.dir, name)
	if err := j.writeExclusive(path, summary); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads a record file written by Save.
func (j *JSONSink) Load(path string) (*models.AnalysisRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	var record models.AnalysisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", path, err)
	}
	return &record, nil
}

// List returns record files in the folder, sorted by name, skipping batch
// summaries.
func (j *JSONSink) List() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "batch_summary_") {
			continue
		}
		out = append(out, filepath.Join(j.dir, name))
	}
	return out, nil
}

func (j *JSONSink) writeExclusive(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create results folder: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return apperrors.Wrapf(apperrors.ErrRecordExists, "json %s", path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
