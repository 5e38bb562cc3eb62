package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hylla/perangkat/internal/app"
	"github.com/hylla/perangkat/internal/domain"
)

// defaultBusyRetries bounds how many times a busy-store write is retried.
const defaultBusyRetries = 3

// AppServiceAdapter maps transport contracts onto app.Service operations.
type AppServiceAdapter struct {
	service    *app.Service
	log        app.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

var _ PersonnelService = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
// A nil logger discards retry notices.
func NewAppServiceAdapter(service *app.Service, logger app.Logger) *AppServiceAdapter {
	if logger == nil {
		logger = discardLogger{}
	}
	return &AppServiceAdapter{
		service: service,
		log:     logger,
		now:     time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, defaultBusyRetries)
		},
	}
}

// RunScan triggers the tenure scanner, honoring the throttle unless Force is set.
func (a *AppServiceAdapter) RunScan(ctx context.Context, in ScanRequest) (ScanResponse, error) {
	if err := a.ready(); err != nil {
		return ScanResponse{}, err
	}
	var result app.ScanResult
	err := a.retryBusy(ctx, "run scan", func() error {
		var err error
		if in.Force {
			result, err = a.service.RunScan(ctx)
		} else {
			result, err = a.service.RunIfDue(ctx)
		}
		return err
	})
	if err != nil {
		return ScanResponse{Processed: result.Processed}, mapAppError("run scan", err)
	}
	return ToScanResponse(result), nil
}

// ToScanResponse converts a scanner result to its transport shape.
func ToScanResponse(in app.ScanResult) ScanResponse {
	out := ScanResponse{Processed: in.Processed, Skipped: in.Skipped}
	if !in.LastRunAt.IsZero() {
		last := in.LastRunAt.UTC()
		out.LastRunAt = &last
	}
	return out
}

// ListPositions lists active positions.
func (a *AppServiceAdapter) ListPositions(ctx context.Context, in ListPositionsRequest) ([]Position, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	positions, err := a.service.ListPositions(ctx, in.Village)
	if err != nil {
		return nil, mapAppError("list positions", err)
	}
	rules, now := a.service.Rules(), a.now()
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, ToPosition(p, rules, now))
	}
	return out, nil
}

// ListHistory lists archived positions newest first.
func (a *AppServiceAdapter) ListHistory(ctx context.Context, in ListHistoryRequest) ([]HistoryRecord, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	}
	records, err := a.service.ListHistory(ctx, app.HistoryFilter{Village: in.Village, Limit: in.Limit})
	if err != nil {
		return nil, mapAppError("list history", err)
	}
	rules, now := a.service.Rules(), a.now()
	out := make([]HistoryRecord, 0, len(records))
	for _, h := range records {
		view := ToPosition(h.Position, rules, now)
		view.State = string(h.State())
		view.Eligible = false
		out = append(out, HistoryRecord{Position: view, ArchivedAt: h.ArchivedAt.UTC(), Note: h.Note})
	}
	return out, nil
}

// RestorePosition moves one history record back to the active store.
func (a *AppServiceAdapter) RestorePosition(ctx context.Context, in RestoreRequest) (Position, error) {
	if err := a.ready(); err != nil {
		return Position{}, err
	}
	var restored domain.Position
	err := a.retryBusy(ctx, "restore position", func() error {
		var err error
		restored, err = a.service.RestorePosition(ctx, in.ID)
		return err
	})
	if err != nil {
		return Position{}, mapAppError("restore position", err)
	}
	return ToPosition(restored, a.service.Rules(), a.now()), nil
}

// ReconcileImport runs one import reconciliation.
func (a *AppServiceAdapter) ReconcileImport(ctx context.Context, in ImportRequest) (ImportSummary, error) {
	if err := a.ready(); err != nil {
		return ImportSummary{}, err
	}
	rows := ToImportRows(in.Rows)
	var summary app.ImportSummary
	err := a.retryBusy(ctx, "reconcile import", func() error {
		var err error
		summary, err = a.service.Reconcile(ctx, app.ImportRequest{
			Rows:  rows,
			Actor: app.ImportActor{Name: in.Actor, VillageScope: in.VillageScope},
		})
		return err
	})
	if err != nil {
		return ImportSummary{}, mapAppError("reconcile import", err)
	}
	return ToImportSummary(summary), nil
}

// FindReusableSlot reports the slot a new occupant of (village, title) would reuse.
func (a *AppServiceAdapter) FindReusableSlot(ctx context.Context, in SlotRequest) (SlotResponse, error) {
	if err := a.ready(); err != nil {
		return SlotResponse{}, err
	}
	p, ok, err := a.service.FindReusableSlot(ctx, in.Village, in.Title)
	if err != nil {
		return SlotResponse{}, mapAppError("find reusable slot", err)
	}
	if !ok {
		return SlotResponse{Found: false}, nil
	}
	view := ToPosition(p, a.service.Rules(), a.now())
	return SlotResponse{Found: true, Position: &view}, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// retryBusy reruns op while the store reports app.ErrBusy. Other errors stop immediately.
func (a *AppServiceAdapter) retryBusy(ctx context.Context, operation string, op func() error) error {
	b := backoff.WithContext(a.newBackOff(), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || errors.Is(err, app.ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		a.log.Warn("store busy, retrying", "operation", operation, "attempt", attempt, "wait", wait, "err", err)
	})
}

// ToImportSummary converts an app summary to its transport shape.
func ToImportSummary(in app.ImportSummary) ImportSummary {
	out := ImportSummary{
		Created:    in.Created,
		Updated:    in.Updated,
		Skipped:    in.Skipped,
		Duplicates: make([]ImportDuplicate, 0, len(in.Duplicates)),
		Skips:      make([]ImportSkip, 0, len(in.Skips)),
	}
	for _, d := range in.Duplicates {
		out.Duplicates = append(out.Duplicates, ImportDuplicate{Line: d.Line, Name: d.Name, Village: d.Village, ExistingID: d.ExistingID})
	}
	for _, s := range in.Skips {
		out.Skips = append(out.Skips, ImportSkip{Line: s.Line, Reason: string(s.Reason), Detail: s.Detail})
	}
	return out
}

// ToPosition converts an active record, deriving its tenure end and eligibility at now.
func ToPosition(p domain.Position, rules domain.TenureRules, now time.Time) Position {
	out := Position{
		ID:        p.ID,
		Village:   p.Village,
		Title:     p.Title,
		State:     string(p.State()),
		Status:    p.Status,
		Version:   p.Version,
		Occupant:  FromDomainOccupant(p.Occupant),
		Eligible:  rules.Eligible(p, now),
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
	if end, ok := rules.TenureEnd(p.Title, p.Occupant); ok {
		out.TenureEnd = end.Format(domain.DateLayout)
	}
	return out
}

// FromDomainOccupant converts occupant fields to their transport shape with canonical dates.
func FromDomainOccupant(o domain.Occupant) Occupant {
	return Occupant{
		FullName:         o.FullName,
		NationalID:       o.NationalID,
		BirthDate:        domain.FormatDate(o.BirthDate),
		DecreeNumber:     o.DecreeNumber,
		DecreeDate:       domain.FormatDate(o.DecreeDate),
		InaugurationDate: domain.FormatDate(o.InaugurationDate),
		TenureEndDate:    domain.FormatDate(o.TenureEndDate),
	}
}

func toDomainOccupant(o Occupant) (domain.Occupant, error) {
	out := domain.Occupant{
		FullName:     o.FullName,
		NationalID:   o.NationalID,
		DecreeNumber: o.DecreeNumber,
	}
	var err error
	if out.BirthDate, err = domain.ParseDate(o.BirthDate); err != nil {
		return domain.Occupant{}, fmt.Errorf("birth_date: %w", err)
	}
	if out.DecreeDate, err = domain.ParseDate(o.DecreeDate); err != nil {
		return domain.Occupant{}, fmt.Errorf("decree_date: %w", err)
	}
	if out.InaugurationDate, err = domain.ParseDate(o.InaugurationDate); err != nil {
		return domain.Occupant{}, fmt.Errorf("inauguration_date: %w", err)
	}
	if out.TenureEndDate, err = domain.ParseDate(o.TenureEndDate); err != nil {
		return domain.Occupant{}, fmt.Errorf("tenure_end_date: %w", err)
	}
	return out, nil
}

func lineError(line int, err error) error {
	return fmt.Errorf("row line %d: %w", line, err)
}

// mapAppError maps app and domain errors into transport-facing error categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrBusy):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidVillage),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, ErrInvalidRequest):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any) {}
func (discardLogger) Warn(string, ...any) {}
func (discardLogger) Error(string, ...any) {}
