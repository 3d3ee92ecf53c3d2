package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frame is a saved image and the detections reported on it.
type Frame struct {
	ID         string
	Path       string
	Sequence   uint64
	CapturedAt time.Time
	Detections []Detection
}

// Detection is one box reported on a saved frame.
type Detection struct {
	Category   int
	Label      string
	Confidence float64
	X          int
	Y          int
	Width      int
	Height     int
}

// LabelCount is the number of detections recorded for a label.
type LabelCount struct {
	Label string
	Count int
}

// FrameRepository records saved frames.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

// Create inserts a frame and its detections in a single transaction.
// An empty ID is replaced with a new UUID.
func (r *FrameRepository) Create(f *Frame) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO frames (id, path, sequence, captured_at, detection_count)
		 VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Path, int64(f.Sequence), f.CapturedAt, len(f.Detections),
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}

	for _, d := range f.Detections {
		_, err := tx.Exec(
			`INSERT INTO detections (frame_id, category, label, confidence, x, y, width, height)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, d.Category, d.Label, d.Confidence, d.X, d.Y, d.Width, d.Height,
		)
		if err != nil {
			return fmt.Errorf("insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a frame and its detections.
func (r *FrameRepository) GetByID(id string) (*Frame, error) {
	f := &Frame{}
	var seq int64

	err := r.db.QueryRow(
		`SELECT id, path, sequence, captured_at FROM frames WHERE id = ?`,
		id,
	).Scan(&f.ID, &f.Path, &seq, &f.CapturedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.Sequence = uint64(seq)

	dets, err := r.detections(f.ID)
	if err != nil {
		return nil, err
	}
	f.Detections = dets
	return f, nil
}

// List returns the most recent frames, newest first, with their detections.
// A limit of zero or less returns every frame.
func (r *FrameRepository) List(limit int) ([]*Frame, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, path, sequence, captured_at
		 FROM frames ORDER BY captured_at DESC, sequence DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []*Frame
	for rows.Next() {
		f := &Frame{}
		var seq int64
		if err := rows.Scan(&f.ID, &f.Path, &seq, &f.CapturedAt); err != nil {
			return nil, err
		}
		f.Sequence = uint64(seq)
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, f := range frames {
		dets, err := r.detections(f.ID)
		if err != nil {
			return nil, err
		}
		f.Detections = dets
	}
	return frames, nil
}

func (r *FrameRepository) detections(frameID string) ([]Detection, error) {
	rows, err := r.db.Query(
		`SELECT category, label, confidence, x, y, width, height
		 FROM detections WHERE frame_id = ? ORDER BY id`,
		frameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dets := []Detection{}
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.Category, &d.Label, &d.Confidence, &d.X, &d.Y, &d.Width, &d.Height); err != nil {
			return nil, err
		}
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

// Count returns the number of saved frames.
func (r *FrameRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&n)
	return n, err
}

// LabelCounts returns the number of detections per label, most frequent first.
func (r *FrameRepository) LabelCounts() ([]LabelCount, error) {
	rows, err := r.db.Query(
		`SELECT label, COUNT(*) AS n FROM detections GROUP BY label ORDER BY n DESC, label`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []LabelCount
	for rows.Next() {
		var c LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Delete removes a frame record and its detections. The image file is left alone.
func (r *FrameRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM frames WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
