package roastlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// SQLiteSink stores every session in one database.
type SQLiteSink struct {
	db      *sql.DB
	session int64
}

// NewSQLiteSink opens (or creates) the database at path and starts a session.
func NewSQLiteSink(path string, start time.Time) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open roast db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate roast db: %w", err)
	}
	res, err := db.Exec("INSERT INTO sessions (started_at) VALUES (?)", start.UTC().Format(time.RFC3339Nano))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &SQLiteSink{db: db, session: id}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS samples (
			session_id   INTEGER NOT NULL REFERENCES sessions(id),
			ts           TEXT NOT NULL,
			elapsed_sec  REAL NOT NULL,
			bean_temp    REAL,
			exhaust_temp REAL,
			humidity     REAL,
			co2_ppm      REAL,
			co2_g_m3     REAL,
			heater       INTEGER,
			fan          INTEGER
		);
		CREATE INDEX IF NOT EXISTS samples_session ON samples(session_id, ts);
	`)
	return err
}

// Session returns the id of the session being written.
func (s *SQLiteSink) Session() int64 { return s.session }

// Write inserts row. Unavailable fields are stored as NULL.
func (s *SQLiteSink) Write(row Row) error {
	_, err := s.db.Exec(
		`INSERT INTO samples (session_id, ts, elapsed_sec, bean_temp, exhaust_temp, humidity, co2_ppm, co2_g_m3, heater, fan)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session,
		row.At.UTC().Format(time.RFC3339Nano),
		row.Elapsed.Seconds(),
		nullable(row.Value(telemetry.BeanTemp)),
		nullable(row.Value(telemetry.ExhaustTemp)),
		nullable(row.Value(telemetry.Humidity)),
		nullable(row.Value(telemetry.CO2)),
		nullable(row.CO2Density()),
		nullable(row.Value(telemetry.Heater)),
		nullable(row.Value(telemetry.Fan)),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func nullable(v float64, ok bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: ok}
}
