// Package history persists pump events, glucose samples, loop cycle records,
// and TDD results in a local SQLite database. Pump events and cycle records
// are append-only; events are deduplicated by id on insert.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/aidkit/loopcore/internal/glucose"
	"github.com/aidkit/loopcore/internal/logging"
	"github.com/aidkit/loopcore/internal/loop"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/tdd"
)

// Store is a SQLite-backed history store.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

// New opens (creating if needed) the database at path.
func New(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger.Named("history"), now: time.Now}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS pump_events (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  timestamp_ns INTEGER NOT NULL,
  amount REAL,
  rate REAL,
  duration_min INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pump_events_ts ON pump_events (timestamp_ns DESC);

CREATE TABLE IF NOT EXISTS glucose_samples (
  id TEXT PRIMARY KEY,
  value REAL NOT NULL,
  timestamp_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_glucose_samples_ts ON glucose_samples (timestamp_ns DESC);

CREATE TABLE IF NOT EXISTS loop_cycles (
  id TEXT PRIMARY KEY,
  start_ns INTEGER NOT NULL,
  end_ns INTEGER,
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  duration_min REAL,
  interval_min REAL
);
CREATE INDEX IF NOT EXISTS idx_loop_cycles_end ON loop_cycles (end_ns DESC);

CREATE TABLE IF NOT EXISTS tdd_results (
  date_ns INTEGER PRIMARY KEY,
  total REAL NOT NULL,
  bolus REAL NOT NULL,
  temp_basal REAL NOT NULL,
  scheduled_basal REAL NOT NULL,
  weighted_average REAL,
  hours_of_data REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS current_temp_basal (
  singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
  rate REAL NOT NULL,
  duration_min INTEGER NOT NULL,
  issued_at_ns INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// AppendPumpEvents inserts events, silently dropping ids already stored.
func (s *Store) AppendPumpEvents(ctx context.Context, events []pump.HistoryEvent) error {
	const stmt = `
INSERT INTO pump_events (id, kind, timestamp_ns, amount, rate, duration_min)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.ExecContext(ctx, stmt,
			e.ID,
			string(e.Kind),
			e.Timestamp.UnixNano(),
			nullFloat(e.Amount),
			nullFloat(e.Rate),
			nullInt(e.DurationMinutes),
		)
		if err != nil {
			return fmt.Errorf("insert pump event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// PumpEventsSince returns events with timestamp >= since, newest first.
func (s *Store) PumpEventsSince(ctx context.Context, since time.Time) ([]pump.HistoryEvent, error) {
	const query = `
SELECT id, kind, timestamp_ns, amount, rate, duration_min
FROM pump_events
WHERE timestamp_ns >= ?
ORDER BY timestamp_ns DESC;
`
	rows, err := s.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query pump events: %w", err)
	}
	defer rows.Close()

	var events []pump.HistoryEvent
	for rows.Next() {
		var (
			e        pump.HistoryEvent
			kind     string
			ts       int64
			amount   sql.NullFloat64
			rate     sql.NullFloat64
			duration sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &kind, &ts, &amount, &rate, &duration); err != nil {
			return nil, fmt.Errorf("scan pump event: %w", err)
		}
		e.Kind = pump.EventKind(kind)
		e.Timestamp = time.Unix(0, ts)
		e.Amount = floatPtr(amount)
		e.Rate = floatPtr(rate)
		e.DurationMinutes = intPtr(duration)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AddGlucoseSamples inserts samples, deduplicated by id.
func (s *Store) AddGlucoseSamples(ctx context.Context, samples []glucose.Sample) error {
	const stmt = `
INSERT INTO glucose_samples (id, value, timestamp_ns)
VALUES (?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, g := range samples {
		if _, err := tx.ExecContext(ctx, stmt, g.ID, g.Value, g.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert glucose sample %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// RecentSamples returns samples no older than window, newest first.
func (s *Store) RecentSamples(ctx context.Context, window time.Duration) ([]glucose.Sample, error) {
	const query = `
SELECT id, value, timestamp_ns
FROM glucose_samples
WHERE timestamp_ns >= ?
ORDER BY timestamp_ns DESC;
`
	since := s.now().Add(-window)
	rows, err := s.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query glucose samples: %w", err)
	}
	defer rows.Close()

	var samples []glucose.Sample
	for rows.Next() {
		var (
			g  glucose.Sample
			ts int64
		)
		if err := rows.Scan(&g.ID, &g.Value, &ts); err != nil {
			return nil, fmt.Errorf("scan glucose sample: %w", err)
		}
		g.Timestamp = time.Unix(0, ts)
		samples = append(samples, g)
	}
	return samples, rows.Err()
}

// SaveCycleRecord inserts or updates a cycle record. The open record written
// at cycle start and its finalized form share an id.
func (s *Store) SaveCycleRecord(ctx context.Context, rec loop.CycleRecord) error {
	const stmt = `
INSERT INTO loop_cycles (id, start_ns, end_ns, status, reason, duration_min, interval_min)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  end_ns=excluded.end_ns,
  status=excluded.status,
  reason=excluded.reason,
  duration_min=excluded.duration_min,
  interval_min=excluded.interval_min;
`
	var end sql.NullInt64
	if rec.End != nil {
		end = sql.NullInt64{Int64: rec.End.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, stmt,
		rec.ID,
		rec.Start.UnixNano(),
		end,
		string(rec.Status),
		rec.Reason,
		nullFloat(rec.DurationMinutes),
		nullFloat(rec.IntervalMinutes),
	)
	if err != nil {
		return fmt.Errorf("save cycle record: %w", err)
	}
	return nil
}

// LatestCompletedCycle returns the completed record with the most recent end
// timestamp, or nil when none exists.
func (s *Store) LatestCompletedCycle(ctx context.Context) (*loop.CycleRecord, error) {
	const query = `
SELECT id, start_ns, end_ns, status, reason, duration_min, interval_min
FROM loop_cycles
WHERE end_ns IS NOT NULL
ORDER BY end_ns DESC
LIMIT 1;
`
	rec, err := scanCycle(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest completed cycle: %w", err)
	}
	return rec, nil
}

// CycleRecords returns up to limit records, most recent start first.
func (s *Store) CycleRecords(ctx context.Context, limit int) ([]loop.CycleRecord, error) {
	const query = `
SELECT id, start_ns, end_ns, status, reason, duration_min, interval_min
FROM loop_cycles
ORDER BY start_ns DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycle records: %w", err)
	}
	defer rows.Close()

	var records []loop.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CycleRecordsSince returns records started at or after since, most recent
// start first.
func (s *Store) CycleRecordsSince(ctx context.Context, since time.Time) ([]loop.CycleRecord, error) {
	const query = `
SELECT id, start_ns, end_ns, status, reason, duration_min, interval_min
FROM loop_cycles
WHERE start_ns >= ?
ORDER BY start_ns DESC;
`
	rows, err := s.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query cycle records: %w", err)
	}
	defer rows.Close()

	var records []loop.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SaveTDDResult stores one TDD computation keyed by its computation time.
func (s *Store) SaveTDDResult(ctx context.Context, date time.Time, r tdd.Result) error {
	const stmt = `
INSERT INTO tdd_results (date_ns, total, bolus, temp_basal, scheduled_basal, weighted_average, hours_of_data)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(date_ns) DO UPDATE SET
  total=excluded.total,
  bolus=excluded.bolus,
  temp_basal=excluded.temp_basal,
  scheduled_basal=excluded.scheduled_basal,
  weighted_average=excluded.weighted_average,
  hours_of_data=excluded.hours_of_data;
`
	_, err := s.db.ExecContext(ctx, stmt,
		date.UnixNano(),
		r.Total,
		r.BolusPortion,
		r.TempBasalPortion,
		r.ScheduledBasalPortion,
		nullFloat(r.WeightedAverage),
		r.HoursOfDataUsed,
	)
	if err != nil {
		return fmt.Errorf("save tdd result: %w", err)
	}
	return nil
}

// TDDResultsSince returns stored totals with date >= since, newest first.
func (s *Store) TDDResultsSince(ctx context.Context, since time.Time) ([]tdd.HistoryRecord, error) {
	const query = `
SELECT date_ns, total
FROM tdd_results
WHERE date_ns >= ?
ORDER BY date_ns DESC;
`
	rows, err := s.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query tdd results: %w", err)
	}
	defer rows.Close()

	var records []tdd.HistoryRecord
	for rows.Next() {
		var (
			ts  int64
			rec tdd.HistoryRecord
		)
		if err := rows.Scan(&ts, &rec.Total); err != nil {
			return nil, fmt.Errorf("scan tdd result: %w", err)
		}
		rec.Date = time.Unix(0, ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetCurrentTempBasal replaces the single current temp basal command.
func (s *Store) SetCurrentTempBasal(ctx context.Context, t pump.TempBasal) error {
	const stmt = `
INSERT INTO current_temp_basal (singleton, rate, duration_min, issued_at_ns)
VALUES (1, ?, ?, ?)
ON CONFLICT(singleton) DO UPDATE SET
  rate=excluded.rate,
  duration_min=excluded.duration_min,
  issued_at_ns=excluded.issued_at_ns;
`
	if _, err := s.db.ExecContext(ctx, stmt, t.Rate, t.DurationMinutes, t.IssuedAt.UnixNano()); err != nil {
		return fmt.Errorf("save current temp basal: %w", err)
	}
	s.logger.Debug(ctx, "current temp basal updated",
		zap.Float64("rate", t.Rate),
		zap.Int("duration_min", t.DurationMinutes))
	return nil
}

// CurrentTempBasal returns the current temp basal command, or nil when none
// has ever been issued.
func (s *Store) CurrentTempBasal(ctx context.Context) (*pump.TempBasal, error) {
	const query = `SELECT rate, duration_min, issued_at_ns FROM current_temp_basal WHERE singleton = 1;`

	var (
		t  pump.TempBasal
		ts int64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&t.Rate, &t.DurationMinutes, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query current temp basal: %w", err)
	}
	t.IssuedAt = time.Unix(0, ts)
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*loop.CycleRecord, error) {
	var (
		rec      loop.CycleRecord
		start    int64
		end      sql.NullInt64
		status   string
		duration sql.NullFloat64
		interval sql.NullFloat64
	)
	if err := row.Scan(&rec.ID, &start, &end, &status, &rec.Reason, &duration, &interval); err != nil {
		return nil, err
	}
	rec.Start = time.Unix(0, start)
	rec.Status = loop.CycleStatus(status)
	if end.Valid {
		t := time.Unix(0, end.Int64)
		rec.End = &t
	}
	rec.DurationMinutes = floatPtr(duration)
	rec.IntervalMinutes = floatPtr(interval)
	return &rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
