package domain

import "strings"

// ImportRow is one externally sourced occupant row. Line is the 1-based source line, 0 when unknown.
type ImportRow struct {
	Line     int
	Village  string
	Title    string
	Occupant Occupant
	// Err records a field that failed to parse when the row was decoded.
	Err error
}

// Validate reports a decode failure, then the first missing required field.
func (r ImportRow) Validate() error {
	if r.Err != nil {
		return r.Err
	}
	if strings.TrimSpace(r.Occupant.FullName) == "" {
		return ErrInvalidName
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrInvalidTitle
	}
	if strings.TrimSpace(r.Village) == "" {
		return ErrInvalidVillage
	}
	return nil
}

// Normalized trims the slot and occupant fields.
func (r ImportRow) Normalized() ImportRow {
	r.Village = strings.TrimSpace(r.Village)
	r.Title = strings.TrimSpace(r.Title)
	r.Occupant = normalizeOccupant(r.Occupant)
	return r
}
