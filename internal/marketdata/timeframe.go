package marketdata

import (
	"strconv"
	"time"

	"chart-analyst/internal/models"
)

// TimeframeDuration returns the candle spacing for an exchange timeframe
// such as 15m, 4h, 1d, 1w or 1M. Bare numbers are minutes, as in chart
// exports. Months report the longest month so that spacing checks accept
// every calendar month.
func TimeframeDuration(timeframe string) (time.Duration, bool) {
	if timeframe == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(timeframe); err == nil {
		if n <= 0 {
			return 0, false
		}
		return time.Duration(n) * time.Minute, true
	}

	n, err := strconv.Atoi(timeframe[:len(timeframe)-1])
	if err != nil || n <= 0 {
		return 0, false
	}

	var unit time.Duration
	switch timeframe[len(timeframe)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h', 'H':
		unit = time.Hour
	case 'd', 'D':
		unit = 24 * time.Hour
	case 'w', 'W':
		unit = 7 * 24 * time.Hour
	case 'M':
		unit = 31 * 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// contiguous reports whether consecutive candles are never further apart
// than step.
func contiguous(candles []models.Candle, step time.Duration) bool {
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp.Sub(candles[i-1].Timestamp) > step {
			return false
		}
	}
	return true
}
