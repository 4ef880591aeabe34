package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Noofbiz/shuttle/datasets"
)

// StatsRecord is a stored normalization statistics snapshot.
type StatsRecord struct {
	ID        string
	Label     string
	Stats     *datasets.NormStats
	CreatedAt time.Time
}

// StatsRepository stores frozen normalization statistics under a label, so an
// evaluation run can fetch the statistics of the training run it belongs to.
type StatsRepository struct {
	db *sql.DB
}

// Stats returns the statistics repository for this store.
func (s *Store) Stats() *StatsRepository {
	return &StatsRepository{db: s.db}
}

// Save stores a snapshot of stats under label and returns its ID.
func (r *StatsRepository) Save(label string, stats *datasets.NormStats) (string, error) {
	if stats == nil {
		return "", fmt.Errorf("%w: nil stats", datasets.ErrInvalidArgument)
	}
	data, err := stats.MarshalJSON()
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = r.db.Exec(
		`INSERT INTO norm_stats (id, label, data, created_at) VALUES (?, ?, ?, ?)`,
		id, label, string(data), time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get retrieves a snapshot by ID.
func (r *StatsRepository) Get(id string) (*StatsRecord, error) {
	return r.scan(r.db.QueryRow(
		`SELECT id, label, data, created_at FROM norm_stats WHERE id = ?`, id,
	))
}

// Latest retrieves the most recently saved snapshot for label.
func (r *StatsRepository) Latest(label string) (*StatsRecord, error) {
	return r.scan(r.db.QueryRow(
		`SELECT id, label, data, created_at FROM norm_stats
		 WHERE label = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, label,
	))
}

func (r *StatsRepository) scan(row *sql.Row) (*StatsRecord, error) {
	rec := &StatsRecord{}
	var data string
	if err := row.Scan(&rec.ID, &rec.Label, &data, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	stats, err := datasets.DecodeNormStatsJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode stats %s: %w", rec.ID, err)
	}
	rec.Stats = stats
	return rec, nil
}
