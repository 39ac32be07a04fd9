package shell

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

const (
	// EnvHistoryPath overrides the location of the history file.
	EnvHistoryPath = "HISTORY_PATH"
	// DefaultHistoryPath is used when nothing else is configured.
	DefaultHistoryPath = ".history"
)

// History is an append-only log of every line the shell reads.
type History struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewHistory creates a history log stored at path within fs.
func NewHistory(fs afero.Fs, path string) *History {
	return &History{fs: fs, path: path}
}

// Path returns the location of the history file.
func (h *History) Path() string {
	return h.path
}

// Append adds a record for line. The line terminator is not part of line.
func (h *History) Append(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if dir := filepath.Dir(h.path); dir != "." {
		if err := h.fs.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	fd, err := h.fs.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	if _, err := fd.Write([]byte(line + "\n")); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

// ReadAll returns the full contents of the log. A log that was never written
// is empty.
func (h *History) ReadAll() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	contents, err := afero.ReadFile(h.fs, h.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return contents, err
}

// Records returns the log split into its records.
func (h *History) Records() ([]string, error) {
	contents, err := h.ReadAll()
	if err != nil {
		return nil, err
	}

	var records []string
	for _, line := range bytes.SplitAfter(contents, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		records = append(records, string(bytes.TrimSuffix(line, []byte("\n"))))
	}
	return records, nil
}
