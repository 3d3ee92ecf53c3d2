// Package persist writes captured frames into a dated directory tree.
package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15-04-05.000000"
)

// WriteFunc writes the current frame to path.
type WriteFunc func(path string) error

// Saver stores frames as <root>/<date>/<time>.jpg.
type Saver struct {
	root string
	log  logs.Log
	now  func() time.Time
}

// NewSaver creates a saver rooted at root.
func NewSaver(log logs.Log, root string) *Saver {
	return &Saver{
		root: root,
		log:  log,
		now:  time.Now,
	}
}

// Root returns the top level image directory.
func (s *Saver) Root() string {
	return s.root
}

// Path returns the directory and file name used for a frame captured at t.
func (s *Saver) Path(t time.Time) (dir, file string) {
	dir = filepath.Join(s.root, t.Format(DateLayout))
	return dir, filepath.Join(dir, t.Format(TimeLayout)+".jpg")
}

// Save writes one frame and returns its path. If the write fails because the day's
// directory does not exist yet, the directory is created and the write is retried once.
// Any other failure, or a failed retry, is returned.
func (s *Saver) Save(write WriteFunc) (string, error) {
	dir, file := s.Path(s.now())

	err := write(file)
	if err == nil {
		return file, nil
	}
	if _, statErr := os.Stat(dir); !errors.Is(statErr, os.ErrNotExist) {
		return "", fmt.Errorf("write %s: %w", file, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	s.log.Infof("Created image directory %v", dir)

	if err := write(file); err != nil {
		return "", fmt.Errorf("write %s after creating directory: %w", file, err)
	}
	return file, nil
}
