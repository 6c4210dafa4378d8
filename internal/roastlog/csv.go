package roastlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// CSVHeader is the column layout of a roast CSV.
var CSVHeader = []string{
	"Timestamp", "Elapsed_Sec", "Bean_Temp", "Exhaust_Temp",
	"Humidity", "CO2_g_m3", "Heater_Set", "Fan_Speed",
}

// CSVSink writes one CSV file per session.
type CSVSink struct {
	f    *os.File
	w    *csv.Writer
	path string
}

// NewCSVSink creates dir if needed and opens roast_<start>.csv inside it.
func NewCSVSink(dir string, start time.Time) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "roast_"+start.Format("2006-01-02_15-04-05")+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create csv log: %w", err)
	}
	s := &CSVSink{f: f, w: csv.NewWriter(f), path: path}
	if err := s.writeRecord(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the file being written.
func (s *CSVSink) Path() string { return s.path }

// Write appends row and flushes it to disk.
func (s *CSVSink) Write(row Row) error {
	bean, beanOK := row.Value(telemetry.BeanTemp)
	exhaust, exhaustOK := row.Value(telemetry.ExhaustTemp)
	hum, humOK := row.Value(telemetry.Humidity)
	co2, co2OK := row.CO2Density()
	heater, heaterOK := row.Value(telemetry.Heater)
	fan, fanOK := row.Value(telemetry.Fan)

	return s.writeRecord([]string{
		row.At.Format("2006-01-02T15:04:05.000"),
		format(row.Elapsed.Seconds(), true, 1),
		format(bean, beanOK, 2),
		format(exhaust, exhaustOK, 2),
		format(hum, humOK, 2),
		format(co2, co2OK, 4),
		format(heater, heaterOK, 0),
		format(fan, fanOK, 0),
	})
}

func (s *CSVSink) writeRecord(rec []string) error {
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Close syncs and closes the file.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("sync csv: %w", err)
	}
	return s.f.Close()
}
