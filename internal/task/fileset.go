package task

import (
	"io/fs"
	"os"
	"path/filepath"

	ierrors "incr/internal/errors"
)

// FileSet is an insertion-ordered set of file paths.
type FileSet struct {
	paths []string
	seen  map[string]bool
}

func NewFileSet(paths ...string) *FileSet {
	s := &FileSet{seen: make(map[string]bool)}
	for _, p := range paths {
		s.add(p)
	}
	return s
}

func (s *FileSet) add(path string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[path] {
		return
	}
	s.seen[path] = true
	s.paths = append(s.paths, path)
}

// AddFile adds a file that must exist.
func (s *FileSet) AddFile(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return ierrors.NotFound("file does not exist: " + path)
		}
		return ierrors.IOError("accessing", path, err)
	}
	s.add(path)
	return nil
}

// AddDirectory adds every regular file below dir. A missing dir adds
// nothing.
func (s *FileSet) AddDirectory(dir string) error {
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return ierrors.IOError("walking", path, err)
		}
		if d.Type().IsRegular() {
			s.add(path)
		}
		return nil
	})
}

// AddPath adds path as a file or, for a directory, as its files.
func (s *FileSet) AddPath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ierrors.IOError("accessing", path, err)
	}

	switch {
	case info.IsDir():
		return s.AddDirectory(path)
	case info.Mode().IsRegular():
		s.add(path)
	}
	return nil
}

func (s *FileSet) Has(path string) bool {
	return s.seen[path]
}

func (s *FileSet) Len() int {
	return len(s.paths)
}

// Paths returns the members in insertion order.
func (s *FileSet) Paths() []string {
	return append([]string(nil), s.paths...)
}
