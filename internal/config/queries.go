package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Queries loads SQL text from files in Dir.
type Queries struct {
	Dir string
}

// Load returns the trimmed contents of name. A missing or empty file is a
// configuration error.
func (q Queries) Load(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty query file name", ErrConfig)
	}
	b, err := os.ReadFile(q.path(name))
	if err != nil {
		return "", fmt.Errorf("%w: query file: %v", ErrConfig, err)
	}
	sql := strings.TrimSpace(string(b))
	if sql == "" {
		return "", fmt.Errorf("%w: query file %s is empty", ErrConfig, name)
	}
	return sql, nil
}

// LoadOptional is Load, except an empty name yields "" and no error.
func (q Queries) LoadOptional(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	return q.Load(name)
}

// Exists reports whether name resolves to a regular file.
func (q Queries) Exists(name string) bool {
	fi, err := os.Stat(q.path(name))
	return err == nil && fi.Mode().IsRegular()
}

func (q Queries) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(q.Dir, name)
}
