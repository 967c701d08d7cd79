package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chart-analyst/internal/models"
)

var rule = strings.Repeat("=", 70)

// Report renders a record as a human-readable text report.
func Report(r *models.AnalysisRecord) string {
	var sb strings.Builder
	section := func(title string) {
		fmt.Fprintf(&sb, "\n%s\n%s\n%s\n\n", rule, title, rule)
	}

	meta := r.Metadata
	section("CHART ANALYST REPORT")
	fmt.Fprintf(&sb, "Symbol: %s\n", meta.Symbol)
	fmt.Fprintf(&sb, "Timeframe: %s\n", meta.Timeframe)
	fmt.Fprintf(&sb, "Analysis Date: %s\n", meta.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Data Source: %s\n", meta.DataSource)
	fmt.Fprintf(&sb, "Chart Image: %s\n", meta.ChartImage)

	q := r.Quant
	section("QUANTITATIVE ANALYSIS (Data-Driven)")
	fmt.Fprintf(&sb, "Model: %s\n", q.Model)
	fmt.Fprintf(&sb, "Periods Analyzed: %d\n", q.PeriodsAnalyzed)
	fmt.Fprintf(&sb, "Latest Price: $%s\n", thousands(q.LatestPrice, 2))
	fmt.Fprintf(&sb, "Latest Volume: %s\n\n", thousands(q.LatestVolume, 0))
	sb.WriteString(q.Analysis)
	sb.WriteString("\n")

	v := r.Visual
	section("VISUAL ANALYSIS (Chart-Based)")
	fmt.Fprintf(&sb, "Model: %s\n\n", v.Model)
	sb.WriteString(v.Analysis)
	sb.WriteString("\n")

	in := r.Integrated
	section("INTEGRATION ASSESSMENT")
	fmt.Fprintf(&sb, "Alignment Status: %s\n", strings.ToUpper(string(in.Alignment)))
	if in.DivergenceDetected {
		sb.WriteString("Divergence Detected: YES ⚠️\n")
	} else {
		sb.WriteString("Divergence Detected: NO ✓\n")
	}
	fmt.Fprintf(&sb, "Confidence: %d/10\n", in.Confidence)
	fmt.Fprintf(&sb, "Sentiment: quantitative %s, visual %s\n", in.QuantSentiment, in.VisualSentiment)

	if !in.TradeSetup.IsEmpty() {
		sb.WriteString("\nTrade Setup:\n")
		writeSetup(&sb, in.TradeSetup)
	}
	if len(in.Risks) > 0 {
		sb.WriteString("\nRisks:\n")
		for _, risk := range in.Risks {
			fmt.Fprintf(&sb, "  - %s\n", risk)
		}
	}
	if in.Recommendation != "" {
		fmt.Fprintf(&sb, "\nRecommendation: %s\n", in.Recommendation)
	}
	if in.Notes != "" {
		fmt.Fprintf(&sb, "\n%s\n", in.Notes)
	}
	fmt.Fprintf(&sb, "\n%s\n", rule)

	return sb.String()
}

func writeSetup(sb *strings.Builder, s models.TradeSetup) {
	if s.Direction != models.DirectionNone {
		fmt.Fprintf(sb, "  Direction:     %s\n", s.Direction)
	}
	levels := []struct {
		label string
		value float64
	}{
		{"Entry", s.Entry},
		{"Stop Loss", s.StopLoss},
		{"Take Profit 1", s.TakeProfit1},
		{"Take Profit 2", s.TakeProfit2},
	}
	for _, l := range levels {
		if l.value != 0 {
			fmt.Fprintf(sb, "  %-14s %s\n", l.label+":", thousands(l.value, 2))
		}
	}
	if s.RiskReward != 0 {
		fmt.Fprintf(sb, "  Risk/Reward:   1:%s\n", strconv.FormatFloat(s.RiskReward, 'f', -1, 64))
	}
	if s.ModelConfidence != 0 {
		fmt.Fprintf(sb, "  Model Conf.:   %d/10\n", s.ModelConfidence)
	}
}

// thousands formats v with comma separators and the given decimals.
func thousands(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if hasFrac {
		return sign + b.String() + "." + frac
	}
	return sign + b.String()
}
