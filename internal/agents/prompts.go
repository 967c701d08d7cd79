package agents

import (
	"fmt"
	"strconv"
	"strings"

	"chart-analyst/internal/indicators"
	"chart-analyst/internal/models"
)

const quantSystemPrompt = `You are a quantitative market analyst. You work only from numbers:
price series, volume and indicator values. Report precise values, price levels
and percentages. State the directional bias explicitly (bullish, bearish or neutral).`

const visualSystemPrompt = `You are a technical chart analyst. You read the attached chart image,
combine it with any quantitative context provided, and produce a concrete trade setup.`

func buildQuantPrompt(symbol, timeframe string, candles []models.Candle, promptPeriods int, digest indicators.Digest) string {
	n := min(promptPeriods, len(candles))
	recent := candles[len(candles)-n:]

	closes := make([]string, n)
	highs := make([]string, n)
	lows := make([]string, n)
	vols := make([]string, n)
	for i, c := range recent {
		closes[i] = formatNumber(c.Close)
		highs[i] = formatNumber(c.High)
		lows[i] = formatNumber(c.Low)
		vols[i] = formatNumber(c.Volume)
	}
	latest := recent[n-1]

	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze %s %s OHLCV data for quantitative trading insights.\n\n", symbol, timeframe)
	fmt.Fprintf(&sb, "RECENT DATA (last %d of %d periods):\n", n, len(candles))
	fmt.Fprintf(&sb, "Closing prices: [%s]\n", strings.Join(closes, ", "))
	fmt.Fprintf(&sb, "High prices: [%s]\n", strings.Join(highs, ", "))
	fmt.Fprintf(&sb, "Low prices: [%s]\n", strings.Join(lows, ", "))
	fmt.Fprintf(&sb, "Volume: [%s]\n\n", strings.Join(vols, ", "))
	fmt.Fprintf(&sb, "Current price: %s\nCurrent volume: %s\n\n", formatNumber(latest.Close), formatNumber(latest.Volume))

	if len(digest) > 0 {
		sb.WriteString("COMPUTED INDICATORS (latest values):\n")
		sb.WriteString(digest.String())
		sb.WriteString("\n")
	}

	sb.WriteString(`ANALYSIS REQUIRED:
1. Momentum: 5, 10 and 20 period rate of change, acceleration or deceleration.
2. Volatility: ATR, expansion or contraction versus recent history.
3. Volume: current versus 20-period average, spikes and trend.
4. Key levels: recent swing highs and lows, support and resistance zones.
5. Moving averages: price relative to the 20, 50 and 200 period averages, crossovers.
6. Oscillators and structure: RSI, MACD, higher highs/lows or lower highs/lows.

Be concise and give exact values. Focus on what the numbers indicate, not chart patterns.
`)
	return sb.String()
}

func buildVisualPrompt(symbol, timeframe string, quant *models.QuantResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s TRADING CHART ANALYSIS\n\n", symbol, timeframe)

	if quant != nil {
		sb.WriteString("QUANTITATIVE DATA CONTEXT:\n")
		sb.WriteString(quant.Analysis)
		sb.WriteString("\n\n")
	}

	sb.WriteString(`Analyze the attached chart image and provide a trading setup.

1. Trend: direction (uptrend, downtrend, sideways), strength and market structure.
2. Key levels: support and resistance with specific prices.
3. Patterns: formations in progress and breakout or breakdown potential.
4. Indicators visible on the chart: RSI, MACD, moving averages, volume.
5. Trade setup, one item per line:
   Direction: LONG, SHORT or NEUTRAL
   Entry: <price>
   Stop Loss: <price>
   TP1: <price>
   TP2: <price>
   Risk/Reward: <ratio>
6. Confidence: <1-10>, plus key risks and invalidation points.
`)

	if quant != nil {
		sb.WriteString("\nState explicitly where the chart agrees or disagrees with the quantitative context.\n")
	}
	return sb.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
