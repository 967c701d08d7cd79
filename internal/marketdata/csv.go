package marketdata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
)

// CSVTimeLayout is the timestamp format written by SaveCSV.
const CSVTimeLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	time.RFC3339,
	CSVTimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var headerAliases = map[string]string{
	"date":      "timestamp",
	"datetime":  "timestamp",
	"time":      "timestamp",
	"open_time": "timestamp",
	"open time": "timestamp",
	"vol":       "volume",
}

// csvRow is one OHLCV line. Fields stay strings so that missing and
// malformed values can be reported instead of failing the whole file.
type csvRow struct {
	Timestamp string `csv:"timestamp"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	Volume    string `csv:"volume"`
}

func (r csvRow) fields() map[string]string {
	return map[string]string{
		"timestamp": r.Timestamp,
		"open":      r.Open,
		"high":      r.High,
		"low":       r.Low,
		"close":     r.Close,
		"volume":    r.Volume,
	}
}

func (r csvRow) candle() (models.Candle, error) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return models.Candle{}, err
	}

	var vals [5]float64
	for i, s := range []string{r.Open, r.High, r.Low, r.Close, r.Volume} {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid number %q", s)
		}
		vals[i] = v
	}

	return models.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// ParseTimestamp accepts unix seconds or milliseconds and the common
// textual layouts. Results are in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// readRows parses a CSV file into raw rows. Header names are matched
// case-insensitively and common aliases (date, time, ...) are accepted.
func readRows(path string) ([]csvRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}

	header, body, _ := bytes.Cut(data, []byte("\n"))
	cols := strings.Split(strings.TrimRight(string(header), "\r"), ",")
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(c), `"`))
		if alias, ok := headerAliases[name]; ok && !seen[alias] {
			name = alias
		}
		seen[name] = true
		cols[i] = name
	}
	if !seen["timestamp"] || !seen["close"] {
		return nil, fmt.Errorf("%s: header must include timestamp and close columns", filepath.Base(path))
	}

	normalized := append([]byte(strings.Join(cols, ",")+"\n"), body...)

	var rows []csvRow
	if err := gocsv.Unmarshal(bytes.NewReader(normalized), &rows); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// LoadStats describes what LoadCSV dropped.
type LoadStats struct {
	Rows       int
	Invalid    int
	Duplicates int
}

// LoadCSV reads candles from path, sorted oldest first. Rows that cannot
// be parsed are skipped; for duplicate timestamps the first row wins.
func LoadCSV(path string) ([]models.Candle, LoadStats, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, LoadStats{}, err
	}

	stats := LoadStats{Rows: len(rows)}
	candles := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		c, err := r.candle()
		if err != nil {
			stats.Invalid++
			continue
		}
		candles = append(candles, c)
	}

	var dups int
	candles, dups = dedupeSorted(candles)
	stats.Duplicates = dups
	return candles, stats, nil
}

// dedupeSorted stably sorts candles by time and keeps the first candle
// seen for each timestamp.
func dedupeSorted(candles []models.Candle) ([]models.Candle, int) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	out := candles[:0]
	dups := 0
	for i, c := range candles {
		if i > 0 && c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			dups++
			continue
		}
		out = append(out, c)
	}
	return out, dups
}

// SaveCSV writes candles with a lowercase timestamp,open,high,low,close,volume
// header, creating parent directories.
func SaveCSV(path string, candles []models.Candle) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	rows := make([]csvRow, len(candles))
	for i, c := range candles {
		rows[i] = csvRow{
			Timestamp: c.Timestamp.UTC().Format(CSVTimeLayout),
			Open:      formatFloat(c.Open),
			High:      formatFloat(c.High),
			Low:       formatFloat(c.Low),
			Close:     formatFloat(c.Close),
			Volume:    formatFloat(c.Volume),
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := gocsv.Marshal(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CSVFileName returns {SYMBOL}_{timeframe}.csv, e.g. BTC_USDT_4h.csv.
func CSVFileName(symbol, timeframe string) string {
	return fmt.Sprintf("%s_%s.csv", models.NormalizeSymbol(symbol), timeframe)
}

// CSVSource reads snapshots from CSV files. Path is either one file, used
// for every request, or a folder holding {SYMBOL}_{timeframe}.csv files.
type CSVSource struct {
	path string
}

// NewCSVSource creates a CSV source for a file or folder.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Name returns the data source tag.
func (c *CSVSource) Name() models.DataSource {
	return models.SourceCSV
}

// Resolve returns the file used for symbol and timeframe.
func (c *CSVSource) Resolve(symbol, timeframe string) string {
	if info, err := os.Stat(c.path); err == nil && info.IsDir() {
		return filepath.Join(c.path, CSVFileName(symbol, timeframe))
	}
	return c.path
}

// FetchSnapshot loads the most recent periods candles from the CSV file.
func (c *CSVSource) FetchSnapshot(ctx context.Context, symbol, timeframe string, periods int) (*models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := c.Resolve(symbol, timeframe)
	candles, _, err := LoadCSV(path)
	if err != nil {
		return nil, apperrors.NewDataSourceError("csv", symbol, "loading "+path, err)
	}
	if len(candles) == 0 {
		return nil, apperrors.NewDataSourceError("csv", symbol, path+" has no valid rows", nil)
	}

	snap, err := models.NewMarketSnapshot(symbol, timeframe, models.SourceCSV, tail(candles, periods))
	if err != nil {
		return nil, apperrors.NewDataSourceError("csv", symbol, "invalid candles", err)
	}
	return snap, nil
}
