// Package filesystem implements the fs_read and fs_write native tools.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// protected matches paths fs_write refuses to touch, wherever they sit in
// the tree.
var protected = gitignore.CompileIgnoreLines(".git/", ".env", ".env.*")

// FileSystem is the slice of the os package the tools use, so tests can
// swap it out.
type FileSystem interface {
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
}

// OSFileSystem is the FileSystem backed by the real disk.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (os.FileInfo, error)      { return os.Stat(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (OSFileSystem) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// resolve joins path onto root and refuses anything that escapes it.
func resolve(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	root = filepath.Clean(root)
	full := filepath.Clean(filepath.Join(root, path))
	if filepath.IsAbs(path) {
		full = filepath.Clean(path)
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the working directory", path)
	}
	return full, nil
}

// writable rejects protected paths. full must come from resolve.
func writable(root, full, path string) error {
	rel, err := filepath.Rel(filepath.Clean(root), full)
	if err != nil {
		return err
	}
	if protected.MatchesPath(filepath.ToSlash(rel)) {
		return fmt.Errorf("path %s is protected and cannot be written", path)
	}
	return nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
