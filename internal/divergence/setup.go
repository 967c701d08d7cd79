package divergence

import (
	"regexp"
	"strconv"
	"strings"

	"chart-analyst/internal/models"
)

// Labels may be wrapped in markdown emphasis or followed by a short
// parenthetical before the value, e.g. "**TP1 (conservative):** $43,100".
const (
	sep    = `(?:\s*\([^)\n]{0,40}\))?[\s*_:=\-]*\$?\s*`
	number = `([0-9][0-9,]*(?:\.[0-9]+)?)`
)

var (
	directionRe  = regexp.MustCompile(`(?i)direction[\s*_:=\-]*(long|short|neutral)\b`)
	entryRe      = regexp.MustCompile(`(?i)\bentry(?:\s+(?:price|zone|level))?` + sep + number)
	stopRe       = regexp.MustCompile(`(?i)\b(?:stop[\s-]*loss|sl)\b` + sep + number)
	tp1Re        = regexp.MustCompile(`(?i)\b(?:tp\s*1|take[\s-]*profit\s*1)\b` + sep + number)
	tp2Re        = regexp.MustCompile(`(?i)\b(?:tp\s*2|take[\s-]*profit\s*2)\b` + sep + number)
	riskRewardRe = regexp.MustCompile(`(?i)(?:risk[\s/:-]*reward(?:\s+ratio)?|\br\s*[:/]\s*r\b)` + sep + `(?:1\s*:\s*)?` + number)
	confidenceRe = regexp.MustCompile(`(?i)confidence(?:\s+level)?` + sep + `(\d{1,2})\b`)
)

// ParseTradeSetup extracts the trade levels stated in a visual analysis.
// Fields that cannot be found are left at their zero value.
func ParseTradeSetup(text string) models.TradeSetup {
	var s models.TradeSetup

	if m := directionRe.FindStringSubmatch(text); m != nil {
		s.Direction = models.Direction(strings.ToUpper(m[1]))
	}
	s.Entry = findNumber(entryRe, text)
	s.StopLoss = findNumber(stopRe, text)
	s.TakeProfit1 = findNumber(tp1Re, text)
	s.TakeProfit2 = findNumber(tp2Re, text)
	s.RiskReward = findNumber(riskRewardRe, text)

	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if c, err := strconv.Atoi(m[1]); err == nil && c >= 1 && c <= 10 {
			s.ModelConfidence = c
		}
	}
	return s
}

func findNumber(re *regexp.Regexp, text string) float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
