package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// DefaultMaxBytes is used when a non-positive size limit is configured.
const DefaultMaxBytes int64 = 10 << 20

// RotatingFileWriter appends to a log file and shifts it to numbered
// backups (path.1, path.2, ...) once the size limit would be exceeded.
type RotatingFileWriter struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	file       *os.File
	size       int64
}

func NewRotatingFileWriter(path string, maxBytes int64, maxBackups int) (*RotatingFileWriter, error) {
	if path == "" {
		return nil, oops.Code("LOG_FILE_INVALID").Errorf("log path is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, oops.Code("LOG_FILE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	w := &RotatingFileWriter{
		path:       path,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
	}
	if err := w.openLocked(os.O_APPEND); err != nil {
		return nil, err
	}

	// A file already over the limit is rotated before the first write.
	if w.size > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	// An empty file always takes the write, so one oversized record cannot
	// trigger rotation forever.
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of the current size.
func (w *RotatingFileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	return w.rotateLocked()
}

func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingFileWriter) openLocked(mode int) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return oops.Code("LOG_FILE_OPEN_FAILED").With("path", w.path).Wrap(err)
	}
	w.file = f
	w.size = 0
	if mode == os.O_APPEND {
		if stat, err := f.Stat(); err == nil {
			w.size = stat.Size()
		}
	}
	return nil
}

func (w *RotatingFileWriter) rotateLocked() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	if w.maxBackups == 0 {
		if err := removeIfExists(w.path); err != nil {
			return err
		}
	} else if err := shiftBackups(w.path, w.maxBackups); err != nil {
		return oops.Code("LOG_ROTATE_FAILED").With("path", w.path).Wrap(err)
	}

	return w.openLocked(os.O_TRUNC)
}

func shiftBackups(base string, maxBackups int) error {
	if err := removeIfExists(backupPath(base, maxBackups)); err != nil {
		return err
	}
	for idx := maxBackups - 1; idx >= 1; idx-- {
		if err := renameIfExists(backupPath(base, idx), backupPath(base, idx+1)); err != nil {
			return err
		}
	}
	return renameIfExists(base, backupPath(base, 1))
}

func renameIfExists(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := removeIfExists(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func backupPath(base string, idx int) string {
	return fmt.Sprintf("%s.%d", base, idx)
}
