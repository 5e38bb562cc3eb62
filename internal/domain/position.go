package domain

import (
	"strings"
	"time"
)

// PositionState is the explicit lifecycle tag of a position record.
type PositionState string

const (
	StateVacant   PositionState = "vacant"
	StateOccupied PositionState = "occupied"
	StateArchived PositionState = "archived"
)

// StatusRetired is the status marker for an occupant whose tenure ended (purna tugas).
const StatusRetired = "purna_tugas"

// Occupant holds the person-specific fields of a position. Every member is optional.
type Occupant struct {
	FullName         string
	NationalID       string
	BirthDate        *time.Time
	DecreeNumber     string
	DecreeDate       *time.Time
	InaugurationDate *time.Time
	TenureEndDate    *time.Time
}

// IsEmpty reports whether no person is identified by the occupant fields.
func (o Occupant) IsEmpty() bool {
	return o.FullName == "" && o.NationalID == ""
}

// Equal compares two occupants field by field.
func (o Occupant) Equal(other Occupant) bool {
	return o.FullName == other.FullName &&
		o.NationalID == other.NationalID &&
		o.DecreeNumber == other.DecreeNumber &&
		equalDates(o.BirthDate, other.BirthDate) &&
		equalDates(o.DecreeDate, other.DecreeDate) &&
		equalDates(o.InaugurationDate, other.InaugurationDate) &&
		equalDates(o.TenureEndDate, other.TenureEndDate)
}

// Position is one village staff position, occupied or vacant.
type Position struct {
	ID        string
	Village   string
	Title     string
	Occupant  Occupant
	Status    string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PositionInput holds the values accepted when a position is created.
type PositionInput struct {
	ID       string
	Village  string
	Title    string
	Occupant Occupant
	Status   string
}

func NewPosition(in PositionInput, now time.Time) (Position, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return Position{}, ErrInvalidID
	}
	village, title, err := normalizeSlot(in.Village, in.Title)
	if err != nil {
		return Position{}, err
	}
	return Position{
		ID:        in.ID,
		Village:   village,
		Title:     title,
		Occupant:  normalizeOccupant(in.Occupant),
		Status:    strings.TrimSpace(in.Status),
		Version:   1,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// State derives the lifecycle tag of an active record.
func (p Position) State() PositionState {
	if p.Occupant.IsEmpty() {
		return StateVacant
	}
	return StateOccupied
}

// UpdateDetails replaces the slot, status, and occupant of the position.
func (p *Position) UpdateDetails(village, title, status string, occupant Occupant, now time.Time) error {
	village, title, err := normalizeSlot(village, title)
	if err != nil {
		return err
	}
	p.Village = village
	p.Title = title
	p.Status = strings.TrimSpace(status)
	p.Occupant = normalizeOccupant(occupant)
	p.UpdatedAt = now.UTC()
	return nil
}

// AssignOccupant seats a new person in the slot, discarding every previous occupant field.
func (p *Position) AssignOccupant(occupant Occupant, now time.Time) {
	p.Occupant = normalizeOccupant(occupant)
	p.Status = ""
	p.UpdatedAt = now.UTC()
}

// MergeOccupant overwrites only the occupant fields that are present in the update.
func (p *Position) MergeOccupant(update Occupant, now time.Time) {
	update = normalizeOccupant(update)
	cur := p.Occupant
	if update.FullName != "" {
		cur.FullName = update.FullName
	}
	if update.NationalID != "" {
		cur.NationalID = update.NationalID
	}
	if update.BirthDate != nil {
		cur.BirthDate = update.BirthDate
	}
	if update.DecreeNumber != "" {
		cur.DecreeNumber = update.DecreeNumber
	}
	if update.DecreeDate != nil {
		cur.DecreeDate = update.DecreeDate
	}
	if update.InaugurationDate != nil {
		cur.InaugurationDate = update.InaugurationDate
	}
	if update.TenureEndDate != nil {
		cur.TenureEndDate = update.TenureEndDate
	}
	p.Occupant = cur
	p.UpdatedAt = now.UTC()
}

func normalizeSlot(village, title string) (string, string, error) {
	village = strings.TrimSpace(village)
	title = strings.TrimSpace(title)
	if village == "" {
		return "", "", ErrInvalidVillage
	}
	if title == "" {
		return "", "", ErrInvalidTitle
	}
	return village, title, nil
}

func normalizeOccupant(o Occupant) Occupant {
	return Occupant{
		FullName:         strings.Join(strings.Fields(o.FullName), " "),
		NationalID:       strings.TrimSpace(o.NationalID),
		BirthDate:        normalizeDate(o.BirthDate),
		DecreeNumber:     strings.TrimSpace(o.DecreeNumber),
		DecreeDate:       normalizeDate(o.DecreeDate),
		InaugurationDate: normalizeDate(o.InaugurationDate),
		TenureEndDate:    normalizeDate(o.TenureEndDate),
	}
}
