package marketdata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// gapFactor marks spacing above gapFactor times the median as a gap.
const gapFactor = 1.5

// Gap is a hole in the candle series.
type Gap struct {
	After    time.Time     `json:"after"`
	Duration time.Duration `json:"duration"`
}

// ValidationReport summarises the quality of a CSV file.
type ValidationReport struct {
	Path              string         `json:"path"`
	Rows              int            `json:"rows"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	Duplicates        int            `json:"duplicates"`
	Missing           map[string]int `json:"missing_values"`
	InvalidTimestamps int            `json:"invalid_timestamps"`
	MedianSpacing     time.Duration  `json:"median_spacing"`
	Gaps              []Gap          `json:"gaps"`
	LatestClose       float64        `json:"latest_close"`
	LatestVolume      float64        `json:"latest_volume"`
}

// OK reports whether the file has no duplicates, missing values or gaps.
func (r *ValidationReport) OK() bool {
	if r.Duplicates > 0 || r.InvalidTimestamps > 0 || len(r.Gaps) > 0 {
		return false
	}
	for _, n := range r.Missing {
		if n > 0 {
			return false
		}
	}
	return r.Rows > 0
}

// ValidateCSV inspects a CSV file without modifying it.
func ValidateCSV(path string) (*ValidationReport, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{
		Path:    path,
		Rows:    len(rows),
		Missing: map[string]int{"timestamp": 0, "open": 0, "high": 0, "low": 0, "close": 0, "volume": 0},
	}

	var stamps []time.Time
	seen := make(map[int64]bool, len(rows))
	for _, r := range rows {
		for col, val := range r.fields() {
			if strings.TrimSpace(val) == "" {
				report.Missing[col]++
				continue
			}
			if col != "timestamp" {
				if _, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err != nil {
					report.Missing[col]++
				}
			}
		}

		if strings.TrimSpace(r.Timestamp) == "" {
			continue
		}
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			report.InvalidTimestamps++
			continue
		}
		if seen[ts.UnixNano()] {
			report.Duplicates++
			continue
		}
		seen[ts.UnixNano()] = true
		stamps = append(stamps, ts)
	}

	// Latest close/volume from the newest parseable row.
	var latest time.Time
	for _, r := range rows {
		c, err := r.candle()
		if err != nil {
			continue
		}
		if latest.IsZero() || c.Timestamp.After(latest) {
			latest = c.Timestamp
			report.LatestClose = c.Close
			report.LatestVolume = c.Volume
		}
	}

	if len(stamps) == 0 {
		return report, nil
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	report.Start = stamps[0]
	report.End = stamps[len(stamps)-1]
	report.MedianSpacing, report.Gaps = findGaps(stamps)

	return report, nil
}

// findGaps returns the median spacing of sorted timestamps and every
// spacing larger than gapFactor times the median.
func findGaps(stamps []time.Time) (time.Duration, []Gap) {
	if len(stamps) < 2 {
		return 0, nil
	}

	diffs := make([]time.Duration, len(stamps)-1)
	for i := 1; i < len(stamps); i++ {
		diffs[i-1] = stamps[i].Sub(stamps[i-1])
	}

	sorted := make([]time.Duration, len(diffs))
	copy(sorted, diffs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var median time.Duration
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	threshold := time.Duration(float64(median) * gapFactor)
	var gaps []Gap
	for i, d := range diffs {
		if d > threshold {
			gaps = append(gaps, Gap{After: stamps[i], Duration: d})
		}
	}
	return median, gaps
}

// Summary renders the report as text lines.
func (r *ValidationReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", r.Path)
	fmt.Fprintf(&b, "Rows: %d\n", r.Rows)
	if !r.Start.IsZero() {
		fmt.Fprintf(&b, "Range: %s to %s\n", r.Start.Format(CSVTimeLayout), r.End.Format(CSVTimeLayout))
		fmt.Fprintf(&b, "Median spacing: %s\n", r.MedianSpacing)
	}
	fmt.Fprintf(&b, "Duplicates: %d\n", r.Duplicates)
	if r.InvalidTimestamps > 0 {
		fmt.Fprintf(&b, "Invalid timestamps: %d\n", r.InvalidTimestamps)
	}

	cols := []string{"timestamp", "open", "high", "low", "close", "volume"}
	var missing []string
	for _, c := range cols {
		if n := r.Missing[c]; n > 0 {
			missing = append(missing, fmt.Sprintf("%s=%d", c, n))
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Missing values: %s\n", strings.Join(missing, ", "))
	} else {
		b.WriteString("Missing values: none\n")
	}

	if len(r.Gaps) > 0 {
		fmt.Fprintf(&b, "Time gaps: %d\n", len(r.Gaps))
		for i, g := range r.Gaps {
			if i == 5 {
				fmt.Fprintf(&b, "  ... and %d more\n", len(r.Gaps)-5)
				break
			}
			fmt.Fprintf(&b, "  %s: %s\n", g.After.Format(CSVTimeLayout), g.Duration)
		}
	} else {
		b.WriteString("Time gaps: none\n")
	}

	fmt.Fprintf(&b, "Latest close: %s\n", formatFloat(r.LatestClose))
	fmt.Fprintf(&b, "Latest volume: %s\n", formatFloat(r.LatestVolume))
	return b.String()
}
