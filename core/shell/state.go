package shell

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// State is the mutable state threaded through execution. It is owned by a
// single session and is not safe for concurrent use.
type State struct {
	fs  afero.Fs
	dir string

	// chdir applies directory changes to the host process, it's nil for
	// virtual states.
	chdir func(dir string) error

	history *History

	exitRequested bool
	exitCode      int
}

// NewState creates a virtual state rooted at dir. Changing directory updates
// the state only and is never applied to the host process.
func NewState(fs afero.Fs, dir string, history *History) *State {
	return &State{
		fs:      fs,
		dir:     filepath.Clean(dir),
		history: history,
	}
}

// NewProcessState creates a state that mirrors the host process's working
// directory and changes it on cd.
func NewProcessState(history *History) (*State, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	state := NewState(afero.NewOsFs(), wd, history)
	state.chdir = os.Chdir
	return state, nil
}

// Getwd returns the current working directory.
func (s *State) Getwd() string {
	return s.dir
}

// History returns the history sink.
func (s *State) History() *History {
	return s.history
}

// Resolve makes path absolute relative to the working directory.
func (s *State) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.dir, path)
}

// Chdir changes the working directory. On failure the directory is left
// unchanged and the error wraps one of ErrNoSuchDirectory, ErrNotDirectory or
// ErrPermissionDenied where applicable.
func (s *State) Chdir(path string) error {
	target := s.Resolve(path)

	info, err := s.fs.Stat(target)
	if err != nil {
		return fmt.Errorf("%s: %w", path, classifyPathError(err))
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrNotDirectory)
	}

	if s.chdir != nil {
		if err := s.chdir(target); err != nil {
			return fmt.Errorf("%s: %w", path, classifyPathError(err))
		}
	}

	s.dir = target
	return nil
}

// RequestExit marks the session as finished with the given code.
func (s *State) RequestExit(code int) {
	s.exitRequested = true
	s.exitCode = code
}

// ExitRequested returns the requested exit code and whether exit was
// requested.
func (s *State) ExitRequested() (int, bool) {
	return s.exitCode, s.exitRequested
}

// Fork returns a copy of the state for use by a pipeline stage. Changes to the
// copy never reach the original or the host process.
func (s *State) Fork() *State {
	return &State{
		fs:      s.fs,
		dir:     s.dir,
		history: s.history,
	}
}

func classifyPathError(err error) error {
	switch {
	case os.IsNotExist(err):
		return ErrNoSuchDirectory
	case os.IsPermission(err):
		return ErrPermissionDenied
	default:
		return err
	}
}
