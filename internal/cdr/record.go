// Package cdr defines the normalized call-detail record model and the
// pure parsing/classification functions that turn raw report cells
// into typed records.
package cdr

// Direction of a call. The outbound-calls report only ever produces
// outbound records, but the enum keeps the record self-describing.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
)

// Subtype classifies a call by the carrier/city label text.
type Subtype string

const (
	SubtypeMobile Subtype = "mobile"
	SubtypeFixed  Subtype = "fixed"
	SubtypeIP     Subtype = "ip"
	SubtypeOther  Subtype = "other"
)

// Status of a call. Answered iff the billed duration is positive.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusNoAnswer Status = "no_answer"
)

// RawRow is one unparsed data row from the report table, cells in
// portal order: timestamp, origin, destination, carrier label,
// duration text, cost text.
type RawRow struct {
	Timestamp    string
	Origin       string
	Destination  string
	CarrierLabel string
	DurationText string
	CostText     string
}

// Record is one parsed report row. Immutable once constructed.
type Record struct {
	RawTimestamp string    `json:"raw_timestamp"`
	TimestampISO string    `json:"timestamp_iso"`
	Extension    string    `json:"extension"`
	OperatorName string    `json:"operator_name"`
	Destination  string    `json:"destination"`
	CarrierLabel string    `json:"carrier_label"`
	DurationSecs int       `json:"duration_seconds"`
	Cost         float64   `json:"cost"`
	Direction    Direction `json:"direction"`
	Subtype      Subtype   `json:"subtype"`
	Status       Status    `json:"status"`
}

// Resolver maps an extension id to an operator display name.
type Resolver interface {
	Resolve(extension string) string
}

// FromRaw builds a Record from a raw table row. The resolver supplies
// the operator name; a nil resolver leaves the extension id as name.
func FromRaw(row RawRow, resolver Resolver) Record {
	duration := ParseDuration(row.DurationText)

	name := row.Origin
	if resolver != nil {
		name = resolver.Resolve(row.Origin)
	}

	status := StatusNoAnswer
	if duration > 0 {
		status = StatusAnswered
	}

	return Record{
		RawTimestamp: row.Timestamp,
		TimestampISO: ToISO(row.Timestamp),
		Extension:    row.Origin,
		OperatorName: name,
		Destination:  row.Destination,
		CarrierLabel: row.CarrierLabel,
		DurationSecs: duration,
		Cost:         ParseCost(row.CostText),
		Direction:    DirectionOutbound,
		Subtype:      ClassifySubtype(row.CarrierLabel),
		Status:       status,
	}
}

// FromRows maps a batch of raw rows.
func FromRows(rows []RawRow, resolver Resolver) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, FromRaw(row, resolver))
	}
	return records
}
