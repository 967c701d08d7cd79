package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var groupedPattern = regexp.MustCompile(`^-?\d{1,3}(,\d{3})*\.\d+$`)

// FormatPrice output must be well-formed and round-trip to the rounded value.
func TestPropertyPriceFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("grouping is valid", prop.ForAll(
		func(price float64) bool {
			return groupedPattern.MatchString(FormatPrice(price))
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("value is preserved", prop.ForAll(
		func(price float64) bool {
			formatted := FormatPrice(price)
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(formatted, ",", ""), 64)
			if err != nil {
				return false
			}
			tolerance := 0.005
			if math.Abs(price) < 10 {
				tolerance = 0.00005
			}
			return math.Abs(parsed-price) <= tolerance+1e-9
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("decimals depend on magnitude", prop.ForAll(
		func(price float64) bool {
			_, dec, _ := strings.Cut(FormatPrice(price), ".")
			if math.Abs(price) < 10 {
				return len(dec) == 4
			}
			return len(dec) == 2
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}

func TestPropertyTruncateString(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("never exceeds max length", prop.ForAll(
		func(s string, n int) bool {
			return len([]rune(TruncateString(s, n))) <= n
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.Property("short strings are unchanged", prop.ForAll(
		func(s string) bool {
			return TruncateString(s, len([]rune(s))) == s
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestFormatPriceExamples(t *testing.T) {
	testCases := []struct {
		price    float64
		expected string
	}{
		{0, "0.0000"},
		{0.5123, "0.5123"},
		{9.99994, "9.9999"},
		{10, "10.00"},
		{999.999, "1,000.00"},
		{1000, "1,000.00"},
		{42150.5, "42,150.50"},
		{1234567.891, "1,234,567.89"},
		{-1234.56, "-1,234.56"},
		{-0.00001, "0.0000"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatPrice(tc.price); got != tc.expected {
				t.Errorf("FormatPrice(%f) = %s, want %s", tc.price, got, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatPercent(tc.value); got != tc.expected {
				t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, got, tc.expected)
			}
		})
	}
}

func TestFormatVolumeAndDuration(t *testing.T) {
	volumes := map[float64]string{
		512:     "512.00",
		1500:    "1.50K",
		2500000: "2.50M",
		3.2e9:   "3.20B",
	}
	for v, want := range volumes {
		if got := FormatVolume(v); got != want {
			t.Errorf("FormatVolume(%v) = %s, want %s", v, got, want)
		}
	}

	durations := map[time.Duration]string{
		42 * time.Second:            "42s",
		3*time.Minute + time.Second: "3m 1s",
		2*time.Hour + 5*time.Minute: "2h 5m",
		50 * time.Hour:              "2d 2h",
	}
	for d, want := range durations {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %s, want %s", d, got, want)
		}
	}
}
