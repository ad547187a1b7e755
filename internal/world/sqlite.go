package world

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const (
	weatherRowID = 1

	schemaWorldWeather = `
CREATE TABLE IF NOT EXISTS world_weather (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    storming BOOLEAN NOT NULL,
    thundering BOOLEAN NOT NULL,
    duration_ticks INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

	upsertWeatherSQL = `
		INSERT INTO world_weather (id, storming, thundering, duration_ticks, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			storming=excluded.storming,
			thundering=excluded.thundering,
			duration_ticks=excluded.duration_ticks,
			updated_at=excluded.updated_at
	`

	selectWeatherSQL = `
		SELECT storming, thundering, duration_ticks
		FROM world_weather WHERE id=?
	`
)

// InitDB opens or creates the world database at path and ensures the schema exists.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaWorldWeather); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply world schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// SQLiteWorld persists the weather state in a single row so it survives restarts.
type SQLiteWorld struct {
	db      *sql.DB
	natural DurationFunc
	now     func() time.Time
}

// NewSQLiteWorld wraps db. The schema must already exist (see InitDB).
func NewSQLiteWorld(db *sql.DB, natural DurationFunc) *SQLiteWorld {
	if natural == nil {
		natural = NaturalDuration
	}
	return &SQLiteWorld{db: db, natural: natural, now: time.Now}
}

// load returns the stored row, or a fresh clear world when none is stored yet.
func (w *SQLiteWorld) load(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := w.db.QueryRowContext(ctx, selectWeatherSQL, weatherRowID).
		Scan(&s.Storming, &s.Thundering, &s.DurationTicks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{DurationTicks: w.natural(false)}, nil
		}
		return Snapshot{}, fmt.Errorf("load world weather: %w", err)
	}
	return s, nil
}

func (w *SQLiteWorld) save(ctx context.Context, s Snapshot) error {
	_, err := w.db.ExecContext(ctx, upsertWeatherSQL,
		weatherRowID,
		s.Storming,
		s.Thundering,
		s.DurationTicks,
		w.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save world weather: %w", err)
	}
	return nil
}

func (w *SQLiteWorld) update(ctx context.Context, fn func(*Snapshot)) error {
	s, err := w.load(ctx)
	if err != nil {
		return err
	}
	fn(&s)
	return w.save(ctx, s)
}

func (w *SQLiteWorld) HasStorm(ctx context.Context) (bool, error) {
	s, err := w.load(ctx)
	return s.Storming, err
}

func (w *SQLiteWorld) IsThundering(ctx context.Context) (bool, error) {
	s, err := w.load(ctx)
	return s.Thundering, err
}

func (w *SQLiteWorld) WeatherDuration(ctx context.Context) (int, error) {
	s, err := w.load(ctx)
	return s.DurationTicks, err
}

func (w *SQLiteWorld) SetStorm(ctx context.Context, on bool) error {
	return w.update(ctx, func(s *Snapshot) { s.Storming = on })
}

func (w *SQLiteWorld) SetThundering(ctx context.Context, on bool) error {
	return w.update(ctx, func(s *Snapshot) { s.Thundering = on })
}

func (w *SQLiteWorld) SetWeatherDuration(ctx context.Context, ticks int) error {
	return w.update(ctx, func(s *Snapshot) { s.DurationTicks = ticks })
}

func (w *SQLiteWorld) Advance(ctx context.Context, ticks int) error {
	if ticks <= 0 {
		return nil
	}
	return w.update(ctx, func(s *Snapshot) { *s = advance(*s, ticks, w.natural) })
}

var (
	_ World = (*MemoryWorld)(nil)
	_ World = (*SQLiteWorld)(nil)
)
