package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		input string
		want  string // "" means Absent
	}{
		{"$1,234.50", "1234.5"},
		{"1234", "1234"},
		{"  $ 2,000,000 ", "2000000"},
		{"(1,234)", "-1234"},
		{"-500", "-500"},
		{"€75", "75"},
		{"", ""},
		{"N/A", ""},
		{"n/a", ""},
		{"NA", ""},
		{"-", ""},
		{"$-", ""},
		{"$ -", ""},
		{"($-)", ""},
		{"TBD", ""},
		{"about 5k", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeAmount(tt.input)
			if tt.want == "" {
				assert.True(t, got.IsAbsent(), "expected Absent, got %v", got)
				return
			}
			d, ok := got.Amount()
			require.True(t, ok)
			assert.True(t, d.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", d, tt.want)
		})
	}
}

func TestNormalizeAmount_PreservesScaleForEquality(t *testing.T) {
	a := NormalizeAmount("$1,234.50")
	b := AmountOf(decimal.RequireFromString("1234.50"))
	assert.True(t, a.Equal(b))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		input string
		want  string // "" means Absent
	}{
		{"2/10/2025", "2025-02-10"},
		{"12/31/2030", "2030-12-31"},
		{"3/4/24", "2024-03-04"},
		{"3/4/49", "2049-03-04"},
		{"3/4/75", "1975-03-04"},
		{"2024-06-01", "2024-06-01"},
		{"2024-06-01T00:00:00Z", "2024-06-01"},
		{"2024-06-01 13:45:00", "2024-06-01"},
		{"1/0/1900", ""},
		{"0/5/2024", ""},
		{"3/4/1900", ""},
		{"5/0/2024", ""},
		{"13/1/2024", ""},
		{"2/30/2024", ""},
		{"2/29/2023", ""},
		{"1/1/2101", ""},
		{"1/1/1899", ""},
		{"May-23", ""},
		{"", ""},
		{"TBD", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeDate(tt.input)
			if tt.want == "" {
				assert.True(t, got.IsAbsent(), "expected Absent, got %v", got)
				return
			}
			require.Equal(t, KindDate, got.Kind())
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestNormalizeDate_LeapDay(t *testing.T) {
	got := NormalizeDate("2/29/2024")
	d, ok := got.Date()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)
}

func TestNormalizePercent(t *testing.T) {
	assert.Equal(t, PercentOf("8.0%"), NormalizePercent(" 8.0% "))
	assert.Equal(t, PercentOf("0.35"), NormalizePercent("0.35"))
	assert.True(t, NormalizePercent("").IsAbsent())
	assert.True(t, NormalizePercent("N/A").IsAbsent())
	assert.True(t, NormalizePercent("-").IsAbsent())
	assert.True(t, NormalizePercent("varies").IsAbsent())
}

func TestPercentFraction(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"66", 0.66},
		{"66%", 0.66},
		{"8.0%", 0.08},
		{"0.35", 0.35},
		{"1", 1},
		{"1,000%", 10},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := PercentFraction(PercentOf(tt.input))
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, ok := PercentFraction(Absent())
	assert.False(t, ok)
	_, ok = PercentFraction(TextOf("n/a"))
	assert.False(t, ok)
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "40.0%", FormatPercent(decimal.NewFromInt(40)))
	assert.Equal(t, "33.3%", FormatPercent(decimal.RequireFromString("33.33333")))
	assert.Equal(t, "66.7%", FormatPercent(decimal.RequireFromString("66.66667")))
	assert.Equal(t, "0.0%", FormatPercent(decimal.Zero))
	assert.Equal(t, "0.0%", FormatPercent(decimal.RequireFromString("-0.01")))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, TextOf("First Horizon Bank"), NormalizeText("  First   Horizon\tBank "))
	assert.True(t, NormalizeText(" \t ").IsAbsent())
}

func TestIsTruthy(t *testing.T) {
	for _, s := range []string{"Yes", "y", "TRUE", "1", "x", "Paid Off", " paid  off "} {
		assert.True(t, IsTruthy(s), s)
	}
	for _, s := range []string{"", "no", "0", "active", "n"} {
		assert.False(t, IsTruthy(s), s)
	}
}

func TestValue_AbsentDistinctFromZeroAndEmpty(t *testing.T) {
	assert.False(t, Absent().Equal(AmountOf(decimal.Zero)))
	assert.False(t, Absent().Equal(TextOf("")))
	assert.True(t, Absent().IsBlank())
	assert.True(t, TextOf("").IsBlank())
	assert.False(t, AmountOf(decimal.Zero).IsBlank())
	assert.Equal(t, "", Absent().String())
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, "2024-01-15", Coerce(KindDate, "2024-01-15").String())
	assert.Equal(t, IntegerOf(42), Coerce(KindInteger, " 42 "))
	assert.True(t, Coerce(KindInteger, "forty").IsAbsent())
	assert.Equal(t, "1500000", Coerce(KindAmount, "1500000").String())
	assert.Equal(t, TextOf("Under Construction"), Coerce(KindText, "Under Construction"))
	assert.Equal(t, "integer", KindInteger.String())
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, "first horizon bank", FoldName("  FIRST   Horizon Bank "))
	assert.Equal(t, FoldName("First Horizon Bank"), FoldName("FIRST HORIZON BANK"))
	assert.Equal(t, "strasse", FoldName("STRASSE"))
	assert.Equal(t, "", FoldName(" \t"))
}

func TestIsPlaceholder(t *testing.T) {
	for _, raw := range []string{"", " ", "-", "$-", "$ -", "n/a", "TBD"} {
		assert.True(t, IsPlaceholder(raw), raw)
	}
	for _, raw := range []string{"0", "$1,000", "May-23", "Yes"} {
		assert.False(t, IsPlaceholder(raw), raw)
	}
}
