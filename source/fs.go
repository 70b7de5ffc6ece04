package source

import (
	"os"
	"path/filepath"
)

// FileSystem is the host-provided seam for reading script sources (§6,
// "File system"). Tests substitute an in-memory fake; production code uses
// OS, which is the default.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	// Glob lists files in dir matching pattern (a filepath.Match pattern,
	// not a full glob path).
	Glob(dir, pattern string) ([]string, error)
	Exists(path string) bool
}

type osFileSystem struct{}

func (osFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (osFileSystem) Glob(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// OS is the default FileSystem, backed by the real file system.
var OS FileSystem = osFileSystem{}
