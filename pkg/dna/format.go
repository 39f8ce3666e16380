package dna

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ZeroAmount is shown for missing or unparsable amounts.
const ZeroAmount = "$0.00"

// DateLayout is the upstream date-time format without fractional seconds.
const DateLayout = "2006-01-02T15:04:05"

// FormatCurrency formats a decimal string as a dollar amount with the sign in
// front ("-$12.00"). Empty or unparsable input gives ZeroAmount.
func FormatCurrency(raw string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ZeroAmount
	}
	s := fmt.Sprintf("$%.2f", math.Abs(v))
	if v < 0 && s != ZeroAmount {
		return "-" + s
	}
	return s
}

// Age is the age in whole years at now for a date of birth in DateLayout.
func Age(dateOfBirth string, now time.Time) (int, bool) {
	if dateOfBirth == "" {
		return 0, false
	}
	born, err := time.Parse(DateLayout, dateOfBirth)
	if err != nil {
		return 0, false
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age, true
}

// splitDateTime splits an ActivityDateTime into date and time, dropping
// fractional seconds. Values without a 'T' are returned as the date.
func splitDateTime(v string) (string, string) {
	date, clock, ok := strings.Cut(v, "T")
	if !ok {
		return v, ""
	}
	clock, _, _ = strings.Cut(clock, ".")
	return date, clock
}
