package marketdata

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"chart-analyst/internal/models"
)

// MergeResult describes a merge of several CSV files.
type MergeResult struct {
	Files      []string        `json:"files"`
	InputRows  int             `json:"input_rows"`
	Invalid    int             `json:"invalid_rows"`
	Duplicates int             `json:"duplicates"`
	Candles    []models.Candle `json:"-"`
}

// Merge combines CSV files in the given order. For a timestamp present in
// several files the row from the earliest file wins. The result is sorted
// oldest first.
func Merge(paths []string) (*MergeResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to merge")
	}

	res := &MergeResult{Files: paths}
	var all []models.Candle
	for _, p := range paths {
		rows, err := readRows(p)
		if err != nil {
			return nil, err
		}
		res.InputRows += len(rows)
		for _, r := range rows {
			c, err := r.candle()
			if err != nil {
				res.Invalid++
				continue
			}
			all = append(all, c)
		}
	}

	res.Candles, res.Duplicates = dedupeSorted(all)
	return res, nil
}

// copySuffix matches the " (2)" a download manager appends to repeated
// exports.
var copySuffix = regexp.MustCompile(`\s*\(\d+\)$`)

// DiscoverCSV finds CSV files in folder whose names contain the symbol (as
// BTC_USDT, BTCUSDT or BTC-USDT, any case) and carry the timeframe as a whole
// name token, e.g. BTC_USDT_5m.csv or "BINANCE_BTCUSDT, 240 (1).csv". The
// timeframe keeps its case so that 1m and 1M stay apart.
func DiscoverCSV(folder, symbol, timeframe string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", folder, err)
	}

	norm := strings.ToUpper(models.NormalizeSymbol(symbol))
	symbolPatterns := []string{
		norm,
		strings.ReplaceAll(norm, "_", ""),
		strings.ReplaceAll(norm, "_", "-"),
	}

	var out []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || !strings.EqualFold(ext, ".csv") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ext)
		if !hasTimeframeToken(stem, timeframe) {
			continue
		}
		upper := strings.ToUpper(stem)
		for _, p := range symbolPatterns {
			if strings.Contains(upper, p) {
				out = append(out, filepath.Join(folder, e.Name()))
				break
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// hasTimeframeToken reports whether timeframe appears in a file stem as a
// token delimited by underscores, dashes, spaces, commas or dots. Only the
// minute and month units are case-sensitive.
func hasTimeframeToken(stem, timeframe string) bool {
	stem = copySuffix.ReplaceAllString(stem, "")
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == ',' || r == '.'
	})

	foldCase := !strings.HasSuffix(timeframe, "m") && !strings.HasSuffix(timeframe, "M")
	for _, tok := range tokens {
		if tok == timeframe || (foldCase && strings.EqualFold(tok, timeframe)) {
			return true
		}
	}
	return false
}
