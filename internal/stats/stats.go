// Package stats aggregates parsed call records into the grouped
// statistics served to the reporting view.
package stats

import "cdrwatch/internal/cdr"

// ExtensionStats accumulates per-extension counters.
type ExtensionStats struct {
	Count        int     `json:"count"`
	DurationSecs int     `json:"duration_seconds"`
	Cost         float64 `json:"cost"`
	DisplayName  string  `json:"display_name"`
}

// SubtypeStats accumulates per-subtype counters.
type SubtypeStats struct {
	Count        int     `json:"count"`
	DurationSecs int     `json:"duration_seconds"`
	Cost         float64 `json:"cost"`
}

// Summary is the aggregate view over one record set.
type Summary struct {
	Total        int     `json:"total"`
	Answered     int     `json:"answered"`
	NoAnswer     int     `json:"no_answer"`
	DurationSecs int     `json:"total_duration_seconds"`
	TotalCost    float64 `json:"total_cost"`

	ByExtension map[string]ExtensionStats    `json:"by_extension"`
	BySubtype   map[cdr.Subtype]SubtypeStats `json:"by_subtype"`
	ByHour      map[string]int               `json:"by_hour"`
}

// Summarize produces grouped statistics for a record set. Pure; the
// input is never mutated.
func Summarize(records []cdr.Record) Summary {
	s := Summary{
		ByExtension: make(map[string]ExtensionStats),
		BySubtype:   make(map[cdr.Subtype]SubtypeStats),
		ByHour:      make(map[string]int),
	}

	for _, r := range records {
		s.Total++
		if r.Status == cdr.StatusAnswered {
			s.Answered++
		} else {
			s.NoAnswer++
		}
		s.DurationSecs += r.DurationSecs
		s.TotalCost += r.Cost

		ext := s.ByExtension[r.Extension]
		ext.Count++
		ext.DurationSecs += r.DurationSecs
		ext.Cost += r.Cost
		ext.DisplayName = r.OperatorName
		s.ByExtension[r.Extension] = ext

		sub := s.BySubtype[r.Subtype]
		sub.Count++
		sub.DurationSecs += r.DurationSecs
		sub.Cost += r.Cost
		s.BySubtype[r.Subtype] = sub

		if hour := cdr.HourBucket(r.RawTimestamp); hour != "" {
			s.ByHour[hour]++
		}
	}

	return s
}
