package domain

import (
	"strings"
	"time"
)

// Retirement defaults for village apparatus.
const (
	DefaultRetirementAge    = 60
	LegacyRetirementAge     = 65
	DefaultDecreeCutoffYear = 2020
)

// DefaultHeadOfVillagePatterns lists the title phrasings that identify a head of village.
var DefaultHeadOfVillagePatterns = []string{"kepala desa", "kades"}

// TenureRules decides when an occupant's tenure has ended.
// A head of village serves until an explicit end date; everyone else retires by age,
// where decrees issued before DecreeCutoffYear keep the legacy retirement age.
type TenureRules struct {
	HeadOfVillagePatterns []string
	DecreeCutoffYear      int
	LegacyAge             int
	DefaultAge            int
	Location              *time.Location
}

// DefaultTenureRules returns the rules used when nothing is configured.
func DefaultTenureRules() TenureRules {
	return TenureRules{
		HeadOfVillagePatterns: append([]string(nil), DefaultHeadOfVillagePatterns...),
		DecreeCutoffYear:      DefaultDecreeCutoffYear,
		LegacyAge:             LegacyRetirementAge,
		DefaultAge:            DefaultRetirementAge,
		Location:              time.UTC,
	}
}

// Normalized fills zero-valued members with defaults.
func (r TenureRules) Normalized() TenureRules {
	def := DefaultTenureRules()
	patterns := make([]string, 0, len(r.HeadOfVillagePatterns))
	for _, raw := range r.HeadOfVillagePatterns {
		if key := FoldKey(raw); key != "" {
			patterns = append(patterns, key)
		}
	}
	if len(patterns) == 0 {
		patterns = def.HeadOfVillagePatterns
	}
	r.HeadOfVillagePatterns = patterns
	if r.DecreeCutoffYear <= 0 {
		r.DecreeCutoffYear = def.DecreeCutoffYear
	}
	if r.LegacyAge <= 0 {
		r.LegacyAge = def.LegacyAge
	}
	if r.DefaultAge <= 0 {
		r.DefaultAge = def.DefaultAge
	}
	if r.Location == nil {
		r.Location = time.UTC
	}
	return r
}

// IsHeadOfVillage reports whether title names the head-of-village role.
func (r TenureRules) IsHeadOfVillage(title string) bool {
	key := FoldKey(title)
	if key == "" {
		return false
	}
	patterns := r.HeadOfVillagePatterns
	if len(patterns) == 0 {
		patterns = DefaultHeadOfVillagePatterns
	}
	for _, pattern := range patterns {
		pattern = FoldKey(pattern)
		if pattern != "" && strings.Contains(key, pattern) {
			return true
		}
	}
	return false
}

// RetirementAge returns the age at which a non-head occupant retires.
func (r TenureRules) RetirementAge(decreeDate *time.Time) int {
	r = r.Normalized()
	if decreeDate != nil && decreeDate.Year() < r.DecreeCutoffYear {
		return r.LegacyAge
	}
	return r.DefaultAge
}

// RetirementDate returns birthDate plus the retirement age, or false without a birth date.
func (r TenureRules) RetirementDate(o Occupant) (time.Time, bool) {
	if o.BirthDate == nil {
		return time.Time{}, false
	}
	birth := normalizeDate(o.BirthDate)
	return birth.AddDate(r.RetirementAge(o.DecreeDate), 0, 0), true
}

// TenureEnd returns the date an occupant of title stops serving, when it can be known.
func (r TenureRules) TenureEnd(title string, o Occupant) (time.Time, bool) {
	if r.IsHeadOfVillage(title) {
		if o.TenureEndDate == nil {
			return time.Time{}, false
		}
		return *normalizeDate(o.TenureEndDate), true
	}
	return r.RetirementDate(o)
}

// Eligible reports whether p should move to the history store at now.
func (r TenureRules) Eligible(p Position, now time.Time) bool {
	r = r.Normalized()
	today := CivilDate(now, r.Location)
	if r.IsHeadOfVillage(p.Title) {
		end := p.Occupant.TenureEndDate
		return end != nil && normalizeDate(end).Before(today)
	}
	retireAt, ok := r.RetirementDate(p.Occupant)
	if !ok {
		return false
	}
	return !retireAt.After(today)
}

// DeriveTenureEnd fills the stored tenure end date for an occupant of title.
// Heads of village keep only an explicit end date; age never applies to them.
// Everyone else gets the retirement date, or no end date without a birth date.
func (r TenureRules) DeriveTenureEnd(title string, o Occupant) Occupant {
	if r.IsHeadOfVillage(title) {
		return o
	}
	if retireAt, ok := r.RetirementDate(o); ok {
		o.TenureEndDate = &retireAt
	} else {
		o.TenureEndDate = nil
	}
	return o
}
