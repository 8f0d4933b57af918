package lightmeter

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ztkent/lux-meter/internal/tools"
)

const resolutionKey = "bh1750_resolution"

// Store persists sensor settings and the reading history in sqlite.
// Settings are cached in memory; the driver asks for them on every read.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	resolution uint8
}

// Point is one recorded reading.
type Point struct {
	Lux       float64
	CreatedAt time.Time
}

// Summary describes the readings in a date range.
type Summary struct {
	Count         int
	AverageLux    float64
	MinLux        float64
	MaxLux        float64
	RecordedHours float64
}

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	var value int
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", resolutionKey).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load settings: %w", err)
	default:
		s.resolution = uint8(value)
	}
	return s, nil
}

func (s *Store) Resolution() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolution
}

func (s *Store) SetResolution(res uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolution = res
	_, err := s.db.Exec(`
    INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		resolutionKey, int(res))
	if err != nil {
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	return nil
}

func (s *Store) RecordReading(result LuxResults) error {
	_, err := s.db.Exec(
		"INSERT INTO illuminance (session_id, lux, raw, mtreg, resolution) VALUES (?, ?, ?, ?, ?)",
		result.SessionID,
		fmt.Sprintf("%.5f", result.Lux),
		int(result.Raw),
		int(result.MTreg),
		int(result.Resolution),
	)
	return err
}

// Latest returns the most recent recorded reading.
func (s *Store) Latest() (LuxResults, error) {
	var r LuxResults
	var raw, mtreg, res int
	err := s.db.QueryRow("SELECT session_id, lux, raw, mtreg, resolution FROM illuminance ORDER BY id DESC LIMIT 1").
		Scan(&r.SessionID, &r.Lux, &raw, &mtreg, &res)
	if err != nil {
		return LuxResults{}, err
	}
	r.Raw, r.MTreg, r.Resolution = uint16(raw), uint8(mtreg), uint8(res)
	return r, nil
}

// History returns the readings between two DB-formatted UTC dates, oldest first.
func (s *Store) History(startDate, endDate string) ([]Point, error) {
	rows, err := s.db.Query("SELECT lux, created_at FROM illuminance WHERE created_at BETWEEN ? AND ? ORDER BY created_at, id", startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Lux, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) Summary(startDate, endDate string) (Summary, error) {
	var sum Summary
	var oldest, mostRecent sql.NullString
	err := s.db.QueryRow(`
    SELECT
        COUNT(*),
        COALESCE(AVG(lux), 0),
        COALESCE(MIN(lux), 0),
        COALESCE(MAX(lux), 0),
        MIN(created_at),
        MAX(created_at)
    FROM illuminance
    WHERE created_at BETWEEN ? AND ?`, startDate, endDate).
		Scan(&sum.Count, &sum.AverageLux, &sum.MinLux, &sum.MaxLux, &oldest, &mostRecent)
	if err != nil {
		return Summary{}, err
	}
	if oldest.Valid && mostRecent.Valid {
		first, last, err := tools.StartAndEndDateToTime(oldest.String, mostRecent.String)
		if err != nil {
			return sum, err
		}
		sum.RecordedHours = last.Sub(first).Hours()
	}
	return sum, nil
}
