package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Photo is a captured image waiting for (or done with) upload.
type Photo struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	TakenAt    time.Time  `json:"taken_at"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
}

// AddPhoto queues path for upload. Adding a known path returns the existing row.
func (db *DB) AddPhoto(path string, takenAt time.Time) (Photo, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO photos (id, path, taken_at) VALUES (?, ?, ?) ON CONFLICT(path) DO NOTHING`,
		id, path, formatTime(takenAt))
	if err != nil {
		return Photo{}, err
	}
	return db.photoByPath(path)
}

func (db *DB) photoByPath(path string) (Photo, error) {
	row := db.QueryRow(`SELECT id, path, taken_at, uploaded_at, attempts, last_error FROM photos WHERE path = ?`, path)
	return scanPhoto(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(r rowScanner) (Photo, error) {
	var p Photo
	var taken string
	var uploaded sql.NullString
	if err := r.Scan(&p.ID, &p.Path, &taken, &uploaded, &p.Attempts, &p.LastError); err != nil {
		return Photo{}, err
	}
	p.TakenAt = parseTime(taken)
	if uploaded.Valid {
		t := parseTime(uploaded.String)
		p.UploadedAt = &t
	}
	return p, nil
}

// PendingPhotos lists photos not yet uploaded, oldest first.
func (db *DB) PendingPhotos(limit int) ([]Photo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT id, path, taken_at, uploaded_at, attempts, last_error
		FROM photos WHERE uploaded_at IS NULL ORDER BY taken_at, path LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPending returns the number of photos awaiting upload.
func (db *DB) CountPending() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM photos WHERE uploaded_at IS NULL`).Scan(&n)
	return n, err
}

func (db *DB) MarkUploaded(id string, at time.Time) error {
	return db.execOne(`UPDATE photos SET uploaded_at = ?, last_error = '' WHERE id = ?`, formatTime(at), id)
}

func (db *DB) RecordUploadFailure(id string, reason string) error {
	return db.execOne(`UPDATE photos SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
}

// ErrNotFound is returned when an update matched no row.
var ErrNotFound = errors.New("store: not found")

func (db *DB) execOne(q string, args ...any) error {
	res, err := db.Exec(q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var photoExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ImportDir queues image files in dir that the database does not know yet,
// such as photos taken before the database existed. It returns the number
// of new rows.
func (db *DB) ImportDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	added := 0
	for _, e := range entries {
		if e.IsDir() || !photoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		res, err := db.Exec(`INSERT INTO photos (id, path, taken_at) VALUES (?, ?, ?) ON CONFLICT(path) DO NOTHING`,
			uuid.NewString(), path, formatTime(info.ModTime()))
		if err != nil {
			return added, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}
