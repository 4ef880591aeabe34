package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Noofbiz/shuttle/trajectory"
)

// TrajectoryRecord is the row metadata of a stored trajectory.
type TrajectoryRecord struct {
	ID        string
	Name      string
	DropFrame int
	LabelXYZ  [trajectory.LabelDim]float32
	NumFrames int
	CreatedAt time.Time
}

// TrajectoryRepository stores trajectories and their frames.
type TrajectoryRepository struct {
	db *sql.DB
}

// Trajectories returns the trajectory repository for this store.
func (s *Store) Trajectories() *TrajectoryRepository {
	return &TrajectoryRepository{db: s.db}
}

// Create inserts t and all of its frames in a single transaction and returns
// the generated ID. Names are unique.
func (r *TrajectoryRepository) Create(t *trajectory.Trajectory) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	tx, err := r.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO trajectories (id, name, drop_frame, land_x, land_y, land_z, num_frames, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.Name, t.DropFrame, t.LabelXYZ[0], t.LabelXYZ[1], t.LabelXYZ[2], t.Len(), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert trajectory %q: %w", t.Name, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO trajectory_frames (trajectory_id, seq, frame_id, data) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, frame := range t.Frames {
		data, err := json.Marshal(frame)
		if err != nil {
			return "", fmt.Errorf("encode frame %d: %w", i, err)
		}
		if _, err := stmt.Exec(id, i, t.FrameIDs[i], string(data)); err != nil {
			return "", fmt.Errorf("insert frame %d of %q: %w", i, t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Get loads the full trajectory with the given ID.
func (r *TrajectoryRepository) Get(id string) (*trajectory.Trajectory, error) {
	rec, err := r.record(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return r.load(rec)
}

// GetByName loads the full trajectory with the given name.
func (r *TrajectoryRepository) GetByName(name string) (*trajectory.Trajectory, error) {
	rec, err := r.record(`WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	return r.load(rec)
}

// List returns the metadata of every stored trajectory ordered by name.
func (r *TrajectoryRepository) List() ([]*TrajectoryRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, name, drop_frame, land_x, land_y, land_z, num_frames, created_at
		 FROM trajectories ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TrajectoryRecord
	for rows.Next() {
		rec := &TrajectoryRecord{}
		if err := scanRecord(rows, rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadAll loads every stored trajectory ordered by name.
func (r *TrajectoryRepository) LoadAll() ([]*trajectory.Trajectory, error) {
	records, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]*trajectory.Trajectory, 0, len(records))
	for _, rec := range records {
		t, err := r.load(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Count returns the number of stored trajectories.
func (r *TrajectoryRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM trajectories`).Scan(&n)
	return n, err
}

// Delete removes a trajectory and its frames.
func (r *TrajectoryRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM trajectories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, rec *TrajectoryRecord) error {
	var x, y, z float64
	if err := s.Scan(&rec.ID, &rec.Name, &rec.DropFrame, &x, &y, &z, &rec.NumFrames, &rec.CreatedAt); err != nil {
		return err
	}
	rec.LabelXYZ = [trajectory.LabelDim]float32{float32(x), float32(y), float32(z)}
	return nil
}

func (r *TrajectoryRepository) record(where string, arg any) (*TrajectoryRecord, error) {
	rec := &TrajectoryRecord{}
	row := r.db.QueryRow(
		`SELECT id, name, drop_frame, land_x, land_y, land_z, num_frames, created_at
		 FROM trajectories `+where, arg,
	)
	if err := scanRecord(row, rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *TrajectoryRepository) load(rec *TrajectoryRecord) (*trajectory.Trajectory, error) {
	rows, err := r.db.Query(
		`SELECT frame_id, data FROM trajectory_frames WHERE trajectory_id = ? ORDER BY seq`,
		rec.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := &trajectory.Trajectory{
		Name:      rec.Name,
		DropFrame: rec.DropFrame,
		LabelXYZ:  rec.LabelXYZ,
		Frames:    make([][]float32, 0, rec.NumFrames),
		FrameIDs:  make([]int, 0, rec.NumFrames),
	}
	for rows.Next() {
		var frameID int
		var data string
		if err := rows.Scan(&frameID, &data); err != nil {
			return nil, err
		}
		var frame []float32
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, fmt.Errorf("decode frame %d of %q: %w", frameID, rec.Name, err)
		}
		t.Frames = append(t.Frames, frame)
		t.FrameIDs = append(t.FrameIDs, frameID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Frames) != rec.NumFrames {
		return nil, fmt.Errorf("trajectory %q: expected %d frames, found %d", rec.Name, rec.NumFrames, len(t.Frames))
	}
	return t, nil
}
