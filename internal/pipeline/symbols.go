package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "chart-analyst/internal/errors"
)

type symbolsDoc struct {
	Symbols []string `yaml:"symbols"`
}

// LoadSymbols reads a symbols file. YAML files hold either a list or a
// mapping with a symbols key; anything else is read as text with one or
// more comma-separated symbols per line and # comments.
func LoadSymbols(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewValidationError("symbols_file", path, err.Error())
	}

	var symbols []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		symbols, err = parseYAMLSymbols(data)
		if err != nil {
			return nil, apperrors.NewValidationError("symbols_file", path, err.Error())
		}
	default:
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line, _, _ := strings.Cut(scanner.Text(), "#")
			symbols = append(symbols, ParseSymbols(line)...)
		}
		if err := scanner.Err(); err != nil {
			return nil, apperrors.NewValidationError("symbols_file", path, err.Error())
		}
	}

	symbols = UniqueSymbols(symbols)
	if len(symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols_file", path, "file lists no symbols")
	}
	return symbols, nil
}

func parseYAMLSymbols(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc symbolsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	return doc.Symbols, nil
}

// ParseSymbols splits a comma-separated list.
func ParseSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// UniqueSymbols upper-cases symbols and drops blanks and repeats, keeping
// first-seen order.
func UniqueSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
