package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Spreadsheet placeholders that mean "no value" in amount and percent columns.
var absentTokens = map[string]bool{
	"":    true,
	"-":   true,
	"--":  true,
	"N/A": true,
	"NA":  true,
	"TBD": true,
}

var amountStripper = strings.NewReplacer(
	"$", "",
	"€", "",
	"£", "",
	",", "",
	" ", "",
	"\u00a0", "",
)

// IsPlaceholder reports whether raw is a "no value" marker such as "N/A",
// "-" or "$-" rather than data.
func IsPlaceholder(raw string) bool {
	return absentTokens[strings.ToUpper(amountStripper.Replace(strings.TrimSpace(raw)))]
}

// NormalizeAmount parses a monetary cell. Currency symbols, thousands
// separators and spaces are stripped; accounting parentheses mean negative.
// Placeholders ("", "N/A", "-", "$-") and unparseable text yield Absent.
func NormalizeAmount(raw string) Value {
	s := amountStripper.Replace(strings.TrimSpace(raw))
	if absentTokens[strings.ToUpper(s)] {
		return Absent()
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		if absentTokens[s] {
			return Absent()
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Absent()
	}
	if negative {
		d = d.Neg()
	}
	return AmountOf(d)
}

var (
	usDate  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	isoDate = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ].*)?$`)
)

const (
	minYear = 1900
	maxYear = 2100
	// Year 1900 is how the source sheets spell "unknown date".
	sentinelYear = 1900
)

// NormalizeDate parses M/D/YYYY, M/D/YY and ISO YYYY-MM-DD (time suffix
// discarded). Out-of-range components, a zero day or month, and the 1900
// sentinel year yield Absent. Month-year text such as "May-23" is Absent;
// callers keep such cells in a text column instead.
func NormalizeDate(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Absent()
	}

	var year, month, day int
	if m := usDate.FindStringSubmatch(s); m != nil {
		month, _ = strconv.Atoi(m[1])
		day, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year = expandTwoDigitYear(year)
		}
	} else if m := isoDate.FindStringSubmatch(s); m != nil {
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		day, _ = strconv.Atoi(m[3])
	} else {
		return Absent()
	}

	if year == sentinelYear || year < minYear || year > maxYear {
		return Absent()
	}
	if month < 1 || month > 12 || day < 1 {
		return Absent()
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March; reject anything that rolled over.
	if t.Month() != time.Month(month) || t.Day() != day {
		return Absent()
	}
	return DateOf(t)
}

// expandTwoDigitYear maps 00-49 to the 2000s and 50-99 to the 1900s.
func expandTwoDigitYear(yy int) int {
	if yy < 50 {
		return 2000 + yy
	}
	return 1900 + yy
}

// NormalizePercent keeps the trimmed display string of a percentage cell so
// its source precision survives. Placeholders and non-numeric text yield Absent.
func NormalizePercent(raw string) Value {
	s := strings.TrimSpace(raw)
	if absentTokens[strings.ToUpper(s)] {
		return Absent()
	}
	if _, ok := parsePercentNumber(s); !ok {
		return Absent()
	}
	return PercentOf(s)
}

// PercentFraction parses a percent or text value as a fraction. Numbers
// above 1 are whole-number percentages (66 -> 0.66); others are already
// fractional.
func PercentFraction(v Value) (float64, bool) {
	if v.kind != KindPercent && v.kind != KindText {
		return 0, false
	}
	f, ok := parsePercentNumber(v.text)
	if !ok {
		return 0, false
	}
	if f > 1 {
		f /= 100
	}
	return f, true
}

func parsePercentNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.NewReplacer("%", "", ",", "").Replace(s))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatPercent renders a whole-number percentage to one decimal place with
// a trailing "%", e.g. 33.333 -> "33.3%".
func FormatPercent(pct decimal.Decimal) string {
	s := pct.Round(1).StringFixed(1)
	if s == "-0.0" {
		s = "0.0"
	}
	return s + "%"
}

// NormalizeText trims and collapses internal whitespace. Blank yields Absent.
func NormalizeText(raw string) Value {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return Absent()
	}
	return TextOf(s)
}

// IsTruthy interprets flag cells such as "Yes", "x" or "Paid Off".
func IsTruthy(raw string) bool {
	switch strings.ToLower(strings.Join(strings.Fields(raw), " ")) {
	case "yes", "y", "true", "1", "x", "paid off", "paid":
		return true
	default:
		return false
	}
}
