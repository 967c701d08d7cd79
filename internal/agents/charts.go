package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
)

// CheckChart returns a ChartNotFoundError unless path is a regular file.
func CheckChart(path string) error {
	if path == "" {
		return apperrors.NewChartNotFoundError(path, fmt.Errorf("no chart path given"))
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.NewChartNotFoundError(path, err)
	}
	if !info.Mode().IsRegular() {
		return apperrors.NewChartNotFoundError(path, fmt.Errorf("not a regular file"))
	}
	return nil
}

// ChartName returns the conventional chart file name for symbol and timeframe.
func ChartName(symbol, timeframe string) string {
	return models.NormalizeSymbol(symbol) + "_" + timeframe + ".png"
}

// ValidateChartName checks that the file name follows {SYMBOL}_{TIMEFRAME}.png,
// ignoring case.
func ValidateChartName(path, symbol, timeframe string) error {
	base := filepath.Base(path)
	if !strings.EqualFold(base, ChartName(symbol, timeframe)) {
		return apperrors.NewValidationError("chart", base,
			fmt.Sprintf("chart name does not match %s", ChartName(symbol, timeframe)))
	}
	return nil
}

// DiscoverChart looks in folder for a chart named after symbol and timeframe.
// Candidates in order: SYM_tf.png, SYM_TF.png, SYM_tf (lower).png, SYM.png.
func DiscoverChart(folder, symbol, timeframe string) (string, error) {
	sym := models.NormalizeSymbol(symbol)
	candidates := []string{
		fmt.Sprintf("%s_%s.png", sym, timeframe),
		fmt.Sprintf("%s_%s.png", sym, strings.ToUpper(timeframe)),
		fmt.Sprintf("%s_%s.png", sym, strings.ToLower(timeframe)),
		fmt.Sprintf("%s.png", sym),
	}

	for _, name := range candidates {
		path := filepath.Join(folder, name)
		if CheckChart(path) == nil {
			return path, nil
		}
	}
	return "", apperrors.NewChartNotFoundError(filepath.Join(folder, candidates[0]),
		fmt.Errorf("no chart found for %s %s in %s", symbol, timeframe, folder))
}
