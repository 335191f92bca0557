package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MakeDir creates a directory with all parent directories
func MakeDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// MoveFile moves or renames a file
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move file from %s to %s: %w", src, dst, err)
	}
	return nil
}

// SiblingPath returns path with its extension replaced by suffix+ext, e.g.
// SiblingPath("knock.wav", "_taps", ".png") is "knock_taps.png".
func SiblingPath(path, suffix, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + suffix + ext
}

// FileSize returns the size in bytes of the file at path, or 0 if it cannot
// be stat'ed.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
