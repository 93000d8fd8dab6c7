// Package normalize turns raw spreadsheet cells into canonical typed values.
//
// A Value is a tagged union: absent, amount, date, percent, text or integer.
// Absent means "no information" and is distinct from zero and from the empty
// string; merge logic never lets an absent value overwrite stored data.
package normalize

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which member of the Value union is populated.
type Kind int

const (
	KindAbsent Kind = iota
	KindAmount
	KindDate
	KindPercent
	KindText
	KindInteger
)

// String returns the column-type name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAmount:
		return "amount"
	case KindDate:
		return "date"
	case KindPercent:
		return "percent"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	default:
		return "absent"
	}
}

// DateLayout is the canonical rendering of date values.
const DateLayout = "2006-01-02"

// Value is a canonical field value.
type Value struct {
	kind   Kind
	amount decimal.Decimal
	date   time.Time
	text   string
	n      int64
}

// Absent returns the "no information" value.
func Absent() Value { return Value{} }

// AmountOf wraps a monetary amount.
func AmountOf(d decimal.Decimal) Value { return Value{kind: KindAmount, amount: d} }

// DateOf wraps a calendar date. The time of day is discarded.
func DateOf(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// PercentOf wraps a percentage display string such as "8.0%".
func PercentOf(display string) Value { return Value{kind: KindPercent, text: display} }

// TextOf wraps free text.
func TextOf(s string) Value { return Value{kind: KindText, text: s} }

// IntegerOf wraps an integer, used for entity references and ordinals.
func IntegerOf(n int64) Value { return Value{kind: KindInteger, n: n} }

// Kind reports the populated member.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v carries no information.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// IsBlank reports whether v is absent or an empty text/percent.
func (v Value) IsBlank() bool {
	switch v.kind {
	case KindAbsent:
		return true
	case KindText, KindPercent:
		return v.text == ""
	default:
		return false
	}
}

// Amount returns the decimal for amount values.
func (v Value) Amount() (decimal.Decimal, bool) {
	if v.kind != KindAmount {
		return decimal.Zero, false
	}
	return v.amount, true
}

// Date returns the date for date values.
func (v Value) Date() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	return v.date, true
}

// Integer returns the integer for integer values.
func (v Value) Integer() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.n, true
}

// String renders v in its canonical text form. Absent renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindAmount:
		return v.amount.String()
	case KindDate:
		return v.date.Format(DateLayout)
	case KindPercent, KindText:
		return v.text
	case KindInteger:
		return strconv.FormatInt(v.n, 10)
	default:
		return ""
	}
}

// Equal reports whether two values are the same kind and carry the same data.
// Amounts compare numerically, so 1234.5 equals 1234.50.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindAmount:
		return v.amount.Equal(o.amount)
	case KindDate:
		return v.date.Equal(o.date)
	case KindInteger:
		return v.n == o.n
	default:
		return v.text == o.text
	}
}

// Coerce parses a stored or operator-supplied string into a value of the
// given kind. Empty input is absent; unparseable input is absent.
func Coerce(kind Kind, raw string) Value {
	switch kind {
	case KindAmount:
		return NormalizeAmount(raw)
	case KindDate:
		return NormalizeDate(raw)
	case KindPercent:
		return NormalizePercent(raw)
	case KindInteger:
		n, err := strconv.ParseInt(NormalizeText(raw).String(), 10, 64)
		if err != nil {
			return Absent()
		}
		return IntegerOf(n)
	default:
		return NormalizeText(raw)
	}
}
