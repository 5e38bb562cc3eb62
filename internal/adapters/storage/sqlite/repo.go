package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/perangkat/internal/app"
	"github.com/hylla/perangkat/internal/domain"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// dsnOptions makes every write transaction BEGIN IMMEDIATE so concurrent writers serialize.
const dsnOptions = "_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// positionColumns lists the shared columns of positions and position_history in scan order.
const positionColumns = `id, village, title, full_name, national_id, birth_date, decree_number, decree_date,
	inauguration_date, tenure_end_date, status, version, created_at, updated_at`

// Repository stores active positions, their history, scan checkpoints, and the change ledger.
type Repository struct {
	db *sql.DB
}

var (
	_ app.Repository      = (*Repository)(nil)
	_ app.CheckpointStore = (*Repository)(nil)
	_ app.Tx              = (*txRepo)(nil)
)

// Open opens the database at path and migrates the schema.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?"+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database. Each call gets its own database.
func OpenInMemory() (*Repository, error) {
	name := uuid.NewString()
	db, err := sql.Open(driverName, "file:"+name+"?mode=memory&cache=shared&_txlock=immediate&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			village TEXT NOT NULL,
			title TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			national_id TEXT NOT NULL DEFAULT '',
			birth_date TEXT,
			decree_number TEXT NOT NULL DEFAULT '',
			decree_date TEXT,
			inauguration_date TEXT,
			tenure_end_date TEXT,
			status TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id TEXT PRIMARY KEY,
			village TEXT NOT NULL,
			title TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			national_id TEXT NOT NULL DEFAULT '',
			birth_date TEXT,
			decree_number TEXT NOT NULL DEFAULT '',
			decree_date TEXT,
			inauguration_date TEXT,
			tenure_end_date TEXT,
			status TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			key TEXT PRIMARY KEY,
			value_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS position_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT NOT NULL,
			village TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_slot ON positions(village, title, id);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_national_id ON positions(national_id);`,
		`CREATE INDEX IF NOT EXISTS idx_position_history_archived ON position_history(archived_at DESC, id);`,
		`CREATE INDEX IF NOT EXISTS idx_position_events_position ON position_events(position_id, created_at DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside one immediate write transaction.
func (r *Repository) InTx(ctx context.Context, fn func(context.Context, app.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateBusy(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translateBusy(err))
	}
	return nil
}

// ListPositions lists active positions ordered by village, title, then id.
func (r *Repository) ListPositions(ctx context.Context, filter app.PositionFilter) ([]domain.Position, error) {
	return listPositions(ctx, r.db, filter)
}

// ListPositionsBySlot lists active positions with exactly this village and title, by ascending id.
func (r *Repository) ListPositionsBySlot(ctx context.Context, village, title string) ([]domain.Position, error) {
	return listPositionsBySlot(ctx, r.db, village, title)
}

// GetPosition returns one active position.
func (r *Repository) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	return getPosition(ctx, r.db, id)
}

// ListHistory lists archived positions, newest archival first.
func (r *Repository) ListHistory(ctx context.Context, filter app.HistoryFilter) ([]domain.HistoryRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + positionColumns + `, archived_at, note FROM position_history`
	args := make([]any, 0, 2)
	if village := strings.TrimSpace(filter.Village); village != "" {
		query += ` WHERE village = ?`
		args = append(args, village)
	}
	query += ` ORDER BY archived_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HistoryRecord, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetHistory returns one archived position.
func (r *Repository) GetHistory(ctx context.Context, id string) (domain.HistoryRecord, error) {
	return getHistory(ctx, r.db, id)
}

// ListChangeEvents lists ledger entries for one position, newest first.
func (r *Repository) ListChangeEvents(ctx context.Context, positionID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position_id, village, operation, actor, metadata_json, created_at
		FROM position_events
		WHERE position_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, positionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.PositionID, &event.Village, &opRaw, &event.Actor, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(strings.TrimSpace(opRaw))
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode position_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the stored timestamp for key, or false when none was saved yet.
func (r *Repository) GetCheckpoint(ctx context.Context, key string) (time.Time, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value_at FROM checkpoints WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return parseTS(raw), true, nil
}

// SaveCheckpoint creates or replaces the timestamp for key.
func (r *Repository) SaveCheckpoint(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints(key, value_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_at = excluded.value_at, updated_at = excluded.updated_at
	`, key, ts(at), ts(time.Now()))
	return err
}

// txRepo implements app.Tx over one open transaction.
type txRepo struct {
	tx *sql.Tx
}

func (t *txRepo) ListPositions(ctx context.Context, filter app.PositionFilter) ([]domain.Position, error) {
	return listPositions(ctx, t.tx, filter)
}

func (t *txRepo) ListPositionsBySlot(ctx context.Context, village, title string) ([]domain.Position, error) {
	return listPositionsBySlot(ctx, t.tx, village, title)
}

func (t *txRepo) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	return getPosition(ctx, t.tx, id)
}

// CreatePosition inserts p. An existing id is a conflict.
func (t *txRepo) CreatePosition(ctx context.Context, p domain.Position) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions(`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, positionArgs(p)...)
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("position %q: %w", p.ID, app.ErrConflict)
	}
	return err
}

// UpdatePosition writes p when the stored version equals p.Version and bumps the version.
func (t *txRepo) UpdatePosition(ctx context.Context, p domain.Position) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE positions
		SET village = ?, title = ?, full_name = ?, national_id = ?, birth_date = ?, decree_number = ?,
			decree_date = ?, inauguration_date = ?, tenure_end_date = ?, status = ?, version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		p.Village,
		p.Title,
		p.Occupant.FullName,
		p.Occupant.NationalID,
		nullableDate(p.Occupant.BirthDate),
		p.Occupant.DecreeNumber,
		nullableDate(p.Occupant.DecreeDate),
		nullableDate(p.Occupant.InaugurationDate),
		nullableDate(p.Occupant.TenureEndDate),
		p.Status,
		ts(p.UpdatedAt),
		p.ID,
		p.Version,
	)
	if err != nil {
		return err
	}
	return t.translateStale(ctx, res, p.ID)
}

// DeletePosition removes the active row when the stored version equals version.
func (t *txRepo) DeletePosition(ctx context.Context, id string, version int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return err
	}
	return t.translateStale(ctx, res, id)
}

// translateStale maps a zero-row CAS write to ErrNotFound or ErrConflict.
func (t *txRepo) translateStale(ctx context.Context, res sql.Result, id string) error {
	err := translateNoRows(res)
	if !errors.Is(err, app.ErrNotFound) {
		return err
	}
	var one int
	probe := t.tx.QueryRowContext(ctx, `SELECT 1 FROM positions WHERE id = ?`, id).Scan(&one)
	if errors.Is(probe, sql.ErrNoRows) {
		return app.ErrNotFound
	}
	if probe != nil {
		return probe
	}
	return fmt.Errorf("position %q changed concurrently: %w", id, app.ErrConflict)
}

func (t *txRepo) GetHistory(ctx context.Context, id string) (domain.HistoryRecord, error) {
	return getHistory(ctx, t.tx, id)
}

// CreateHistory inserts h. An existing id is a conflict.
func (t *txRepo) CreateHistory(ctx context.Context, h domain.HistoryRecord) error {
	args := append(positionArgs(h.Position), ts(h.ArchivedAt), h.Note)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO position_history(`+positionColumns+`, archived_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("history %q: %w", h.ID(), app.ErrConflict)
	}
	return err
}

func (t *txRepo) DeleteHistory(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM position_history WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

func (t *txRepo) AppendChangeEvent(ctx context.Context, event domain.ChangeEvent) error {
	return insertChangeEvent(ctx, t.tx, event)
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// querier represents a multi-row query contract used by DB and Tx implementations.
type querier interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

func listPositions(ctx context.Context, q querier, filter app.PositionFilter) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	args := make([]any, 0, 1)
	if village := strings.TrimSpace(filter.Village); village != "" {
		query += ` WHERE village = ?`
		args = append(args, village)
	}
	query += ` ORDER BY village ASC, title ASC, id ASC`
	return queryPositions(ctx, q, query, args...)
}

func listPositionsBySlot(ctx context.Context, q querier, village, title string) ([]domain.Position, error) {
	return queryPositions(ctx, q, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE village = ? AND title = ?
		ORDER BY id ASC
	`, village, title)
}

func queryPositions(ctx context.Context, q querier, query string, args ...any) ([]domain.Position, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func getPosition(ctx context.Context, q queryRower, id string) (domain.Position, error) {
	row := q.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	return scanPosition(row)
}

func getHistory(ctx context.Context, q queryRower, id string) (domain.HistoryRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+positionColumns+`, archived_at, note FROM position_history WHERE id = ?`, id)
	return scanHistory(row)
}

// insertChangeEvent inserts a change-event ledger record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO position_events(position_id, village, operation, actor, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.PositionID,
		event.Village,
		string(event.Operation),
		event.Actor,
		string(metadataJSON),
		ts(occurred),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

func positionArgs(p domain.Position) []any {
	return []any{
		p.ID,
		p.Village,
		p.Title,
		p.Occupant.FullName,
		p.Occupant.NationalID,
		nullableDate(p.Occupant.BirthDate),
		p.Occupant.DecreeNumber,
		nullableDate(p.Occupant.DecreeDate),
		nullableDate(p.Occupant.InaugurationDate),
		nullableDate(p.Occupant.TenureEndDate),
		p.Status,
		p.Version,
		ts(p.CreatedAt),
		ts(p.UpdatedAt),
	}
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// positionFields collects the raw column values shared by both position tables.
type positionFields struct {
	p          domain.Position
	birth      sql.NullString
	decree     sql.NullString
	inaugural  sql.NullString
	tenureEnd  sql.NullString
	createdRaw string
	updatedRaw string
}

func (f *positionFields) dest() []any {
	return []any{
		&f.p.ID,
		&f.p.Village,
		&f.p.Title,
		&f.p.Occupant.FullName,
		&f.p.Occupant.NationalID,
		&f.birth,
		&f.p.Occupant.DecreeNumber,
		&f.decree,
		&f.inaugural,
		&f.tenureEnd,
		&f.p.Status,
		&f.p.Version,
		&f.createdRaw,
		&f.updatedRaw,
	}
}

func (f *positionFields) position() domain.Position {
	p := f.p
	p.Occupant.BirthDate = parseNullDate(f.birth)
	p.Occupant.DecreeDate = parseNullDate(f.decree)
	p.Occupant.InaugurationDate = parseNullDate(f.inaugural)
	p.Occupant.TenureEndDate = parseNullDate(f.tenureEnd)
	p.CreatedAt = parseTS(f.createdRaw)
	p.UpdatedAt = parseTS(f.updatedRaw)
	return p
}

// scanPosition handles scan position.
func scanPosition(s scanner) (domain.Position, error) {
	var f positionFields
	if err := s.Scan(f.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, app.ErrNotFound
		}
		return domain.Position{}, err
	}
	return f.position(), nil
}

// scanHistory handles scan history.
func scanHistory(s scanner) (domain.HistoryRecord, error) {
	var (
		f           positionFields
		archivedRaw string
		note        string
	)
	if err := s.Scan(append(f.dest(), &archivedRaw, &note)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.HistoryRecord{}, app.ErrNotFound
		}
		return domain.HistoryRecord{}, err
	}
	return domain.HistoryRecord{
		Position:   f.position(),
		ArchivedAt: parseTS(archivedRaw),
		Note:       note,
	}, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// nullableDate encodes an optional civil date.
func nullableDate(d *time.Time) any {
	if d == nil {
		return nil
	}
	return domain.FormatDate(d)
}

// parseNullDate decodes an optional civil date; unreadable values read as absent.
func parseNullDate(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	d, err := domain.ParseDate(v.String)
	if err != nil {
		return nil
	}
	return d
}

// translateBusy maps SQLITE_BUSY and SQLITE_LOCKED, including their extended codes, to app.ErrBusy.
func translateBusy(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return errors.Join(app.ErrBusy, err)
	}
	return err
}

// isUniqueConstraintErr reports whether err is a primary key or unique index violation.
func isUniqueConstraintErr(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
