package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hylla/perangkat/internal/app"
	"github.com/hylla/perangkat/internal/domain"
)

// printer renders command output with styles matched to the destination's color profile.
type printer struct {
	w      io.Writer
	ok     lipgloss.Style
	muted  lipgloss.Style
	warn   lipgloss.Style
	header lipgloss.Style
	border lipgloss.Style
}

func newPrinter(w io.Writer) printer {
	r := lipgloss.NewRenderer(w)
	return printer{
		w:      w,
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("241")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("214")),
		header: r.NewStyle().Foreground(lipgloss.Color("62")).Bold(true).Padding(0, 1),
		border: r.NewStyle().Foreground(lipgloss.Color("239")),
	}
}

func (p printer) success(msg string) {
	_, _ = fmt.Fprintln(p.w, p.ok.Render(msg))
}

func (p printer) note(msg, detail string) {
	_, _ = fmt.Fprintln(p.w, p.warn.Render(msg)+" "+p.muted.Render(detail))
}

func (p printer) grid(headers []string, rows [][]string) {
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return cell
		})
	_, _ = fmt.Fprintln(p.w, t.String())
}

func (p printer) positions(positions []domain.Position, rules domain.TenureRules, now time.Time) {
	if len(positions) == 0 {
		p.note("no active positions", "")
		return
	}
	rows := make([][]string, 0, len(positions))
	for _, pos := range positions {
		end := ""
		if at, ok := rules.TenureEnd(pos.Title, pos.Occupant); ok {
			end = at.Format(domain.DateLayout)
		}
		flag := ""
		if rules.Eligible(pos, now) {
			flag = "due"
		}
		rows = append(rows, []string{pos.ID, pos.Village, pos.Title, displayName(pos.Occupant), string(pos.State()), end, flag})
	}
	p.grid([]string{"ID", "VILLAGE", "TITLE", "OCCUPANT", "STATE", "TENURE END", "SCAN"}, rows)
}

func (p printer) history(records []domain.HistoryRecord) {
	if len(records) == 0 {
		p.note("no archived records", "")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, h := range records {
		rows = append(rows, []string{
			h.ID(),
			h.Position.Village,
			h.Position.Title,
			displayName(h.Position.Occupant),
			h.ArchivedAt.UTC().Format(time.RFC3339),
			h.Note,
		})
	}
	p.grid([]string{"ID", "VILLAGE", "TITLE", "OCCUPANT", "ARCHIVED AT", "NOTE"}, rows)
}

func (p printer) events(events []domain.ChangeEvent) {
	if len(events) == 0 {
		p.note("no change events", "")
		return
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			string(e.Operation),
			e.Actor,
			e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	p.grid([]string{"#", "OPERATION", "ACTOR", "AT"}, rows)
}

func (p printer) importSummary(s app.ImportSummary) {
	p.success(fmt.Sprintf("import complete: %d created, %d updated, %d skipped", s.Created, s.Updated, s.Skipped))
	if len(s.Duplicates) > 0 {
		rows := make([][]string, 0, len(s.Duplicates))
		for _, d := range s.Duplicates {
			rows = append(rows, []string{strconv.Itoa(d.Line), d.Name, d.Village, d.ExistingID})
		}
		p.note(fmt.Sprintf("%d possible duplicate(s)", len(s.Duplicates)), "same name and village, no NIK match")
		p.grid([]string{"LINE", "NAME", "VILLAGE", "EXISTING ID"}, rows)
	}
	if len(s.Skips) > 0 {
		rows := make([][]string, 0, len(s.Skips))
		for _, skip := range s.Skips {
			rows = append(rows, []string{strconv.Itoa(skip.Line), string(skip.Reason), skip.Detail})
		}
		p.grid([]string{"LINE", "REASON", "DETAIL"}, rows)
	}
}

func displayName(o domain.Occupant) string {
	if o.IsEmpty() {
		return "vacant"
	}
	if o.FullName == "" {
		return o.NationalID
	}
	return o.FullName
}
