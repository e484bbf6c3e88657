// Package violations records red-light violations: JPEG captures on disk and
// a sqlite log of the metadata. A disk or database failure never suppresses
// the violation event itself; callers emit the event regardless and log the
// storage error.
package violations

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/intersection/internal/security"
)

// DirName is the violation directory created under the per-user app-data
// location.
const DirName = "stms_violations"

// Timestamp formats t in the violation timestamp layout
// YYYY-MM-DD_hh-mm-ss-zzz (millisecond precision).
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%s-%03d", t.Format("2006-01-02_15-04-05"), t.Nanosecond()/1e6)
}

// Record is one emitted violation. Records are written once and never
// mutated.
type Record struct {
	ID        int64
	Approach  int
	Timestamp string
	Reason    string
	ImagePath string
}

// Store owns the violation directory and its metadata database.
type Store struct {
	dir string
	db  *sql.DB
}

// DefaultDir returns the platform per-user violation directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		// Fall back to the working directory like the capture tooling does
		// on stripped-down images with no HOME.
		base, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(base, DirName), nil
}

// NewStore creates dir if needed and opens the metadata database inside it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create violation directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "violations.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open violation database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS violations (
			violation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			approach INTEGER NOT NULL,
			ts TEXT NOT NULL,
			reason TEXT NOT NULL,
			image_path TEXT,
			recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create violations schema: %w", err)
	}

	return &Store{dir: dir, db: db}, nil
}

// Dir returns the violation directory.
func (s *Store) Dir() string { return s.dir }

// Insert appends one violation record to the metadata log.
func (s *Store) Insert(rec Record) error {
	_, err := s.db.Exec(
		"INSERT INTO violations (approach, ts, reason, image_path) VALUES (?, ?, ?, ?)",
		rec.Approach, rec.Timestamp, rec.Reason, rec.ImagePath,
	)
	return err
}

// List returns the most recent violations, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		"SELECT violation_id, approach, ts, reason, COALESCE(image_path, '') FROM violations ORDER BY violation_id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Approach, &rec.Timestamp, &rec.Reason, &rec.ImagePath); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TrackerImagePath returns the capture filename for a tracker-attributed
// violation on an approach: VIO_<ts>_R<approach+1>.jpg.
func (s *Store) TrackerImagePath(approach int, ts string) string {
	return filepath.Join(s.dir, fmt.Sprintf("VIO_%s_R%d.jpg", ts, approach+1))
}

// IRImagePath returns the capture filename for the n-th image of an
// IR-triggered violation: VIO_IR_<ts>_R<approach+1>_IMG<n>.jpg.
func (s *Store) IRImagePath(approach, imageNum int, ts string) string {
	return filepath.Join(s.dir, fmt.Sprintf("VIO_IR_%s_R%d_IMG%d.jpg", ts, approach+1, imageNum))
}

// SaveFrame writes frame as a JPEG at path. Paths outside the violation
// directory are rejected; timestamps feed into filenames, so the boundary is
// enforced here rather than trusted.
func (s *Store) SaveFrame(path string, frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("no frame available for %q", filepath.Base(path))
	}
	if err := security.ValidatePathWithinDirectory(path, s.dir); err != nil {
		return fmt.Errorf("refusing violation image path: %w", err)
	}
	if ok := gocv.IMWrite(path, frame); !ok {
		return fmt.Errorf("failed to write violation image %q", path)
	}
	return nil
}

// Close closes the metadata database.
func (s *Store) Close() error { return s.db.Close() }
