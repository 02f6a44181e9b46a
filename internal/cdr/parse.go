package cdr

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	minutesRe    = regexp.MustCompile(`(\d+)\s*min`)
	secondsRe    = regexp.MustCompile(`(\d+)\s*seg`)
	timestampRe  = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})\s+(\d{2}):(\d{2})`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	portalDateRe = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	trailingHour = regexp.MustCompile(`(\d{2}):\d{2}$`)
)

// Fixed-line carrier name fragments recognized by the portal's
// carrier labels.
var fixedCarrierFragments = []string{
	"telemar",
	"telefônica",
	"telefonica",
	"gvt",
	"claro fixo",
	"oi fixo",
}

// ParseDuration converts the portal's "N min N seg" display form to
// seconds. Either token may be absent; empty or unparsable input is 0.
func ParseDuration(text string) int {
	total := 0
	if m := minutesRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n * 60
	}
	if m := secondsRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n
	}
	return total
}

// ParseCost parses the portal's locale-formatted cost ("1.234,56").
// Thousands dots are stripped, the decimal comma swapped for a dot.
// Unparsable input yields 0.
func ParseCost(text string) float64 {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// ClassifySubtype derives the call subtype from the carrier/city
// label. Matching is case-insensitive substring, mobile before fixed
// before ip.
func ClassifySubtype(carrierLabel string) Subtype {
	label := strings.ToLower(carrierLabel)

	if strings.Contains(label, "móvel") || strings.Contains(label, "movel") {
		return SubtypeMobile
	}
	for _, fragment := range fixedCarrierFragments {
		if strings.Contains(label, fragment) {
			return SubtypeFixed
		}
	}
	if strings.Contains(label, "ip x ip") || strings.Contains(label, "ip") {
		return SubtypeIP
	}
	return SubtypeOther
}

// ToISO normalizes the portal's "DD/MM/YYYY HH:MM" display timestamp
// to "YYYY-MM-DDTHH:MM:00". Input that does not match the pattern is
// returned unchanged; callers can detect passthrough by comparing
// against the raw value.
func ToISO(displayTimestamp string) string {
	m := timestampRe.FindStringSubmatch(displayTimestamp)
	if m == nil {
		return displayTimestamp
	}
	return m[3] + "-" + m[2] + "-" + m[1] + "T" + m[4] + ":" + m[5] + ":00"
}

// FormatPortalDate converts an ISO date (YYYY-MM-DD) to the portal's
// DD/MM/YYYY form. Dates already in portal form pass through, as does
// anything else (the portal will reject what it cannot read).
func FormatPortalDate(date string) string {
	if portalDateRe.MatchString(date) {
		return date
	}
	if m := isoDateRe.FindStringSubmatch(date); m != nil {
		return m[3] + "/" + m[2] + "/" + m[1]
	}
	return date
}

// HourBucket extracts the "HH:00" histogram bucket from the trailing
// HH:MM of a raw display timestamp. Empty when no time is present.
func HourBucket(rawTimestamp string) string {
	m := trailingHour.FindStringSubmatch(rawTimestamp)
	if m == nil {
		return ""
	}
	return m[1] + ":00"
}
