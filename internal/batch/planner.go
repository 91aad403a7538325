// Package batch holds the translation unit records and splits them into
// fixed-size request batches.
package batch

import "fmt"

// Unit is one translatable fragment handed over by an extractor.
// Page, Row, Col, IsTable and Bold are only set by producers that know them
// (PDF page number, table cell coordinates, bold lines); they are zero
// otherwise.
type Unit struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Tag      string `json:"tag,omitempty"`
	Position int    `json:"index"`
	Page     int    `json:"page,omitempty"`
	IsTable  bool   `json:"is_table,omitempty"`
	Row      int    `json:"row,omitempty"`
	Col      int    `json:"col,omitempty"`
	Bold     bool   `json:"bold,omitempty"`
}

// TranslatedUnit is a Unit plus its translation (or the failure sentinel).
type TranslatedUnit struct {
	Unit
	Translation string `json:"translation"`
}

// Batch is a contiguous run of units; StartIndex is the slice offset of
// Units[0] in the planned sequence.
type Batch struct {
	StartIndex int
	Units      []Unit
}

// Texts returns the unit texts in batch order.
func (b Batch) Texts() []string {
	out := make([]string, len(b.Units))
	for i, u := range b.Units {
		out[i] = u.Text
	}
	return out
}

// ConfigurationError reports invalid tuning such as a non-positive batch size.
type ConfigurationError struct {
	Field string
	Value int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s must be > 0, got %d", e.Field, e.Value)
}

// Plan splits units into ceil(len/size) contiguous batches in order.
// The returned batches share the backing array of units.
func Plan(units []Unit, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, &ConfigurationError{Field: "batch_size", Value: size}
	}
	batches := make([]Batch, 0, (len(units)+size-1)/size)
	for i := 0; i < len(units); i += size {
		end := i + size
		if end > len(units) {
			end = len(units)
		}
		batches = append(batches, Batch{StartIndex: i, Units: units[i:end:end]})
	}
	return batches, nil
}
