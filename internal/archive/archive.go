// Package archive moves processed recordings out of the watched tree.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrSourceNotFound is returned when the source file does not exist.
var ErrSourceNotFound = errors.New("source file not found")

// Archiver moves a processed file to long-term storage and returns the
// destination path.
type Archiver interface {
	Archive(ctx context.Context, sourcePath string) (string, error)
}

// DateArchiver stores files under its root in YYYY/MM/DD subdirectories.
// Moves prefer os.Rename and fall back to copy-and-delete when the archive
// lives on another filesystem.
type DateArchiver struct {
	root string
}

// NewDateArchiver creates an archiver rooted at root.
func NewDateArchiver(root string) *DateArchiver {
	return &DateArchiver{root: root}
}

// Archive moves the file at sourcePath into today's archive directory. A
// filename collision gets a HHMMSS suffix. The original is only removed once
// the archived copy is in place.
func (a *DateArchiver) Archive(ctx context.Context, sourcePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSourceNotFound
		}
		return "", err
	}

	now := time.Now()
	dateDir := filepath.Join(a.root, now.Format("2006"), now.Format("01"), now.Format("02"))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	baseName := filepath.Base(sourcePath)
	destPath := filepath.Join(dateDir, baseName)

	if _, err := os.Stat(destPath); err == nil {
		ext := filepath.Ext(baseName)
		nameWithoutExt := baseName[:len(baseName)-len(ext)]
		timestamp := now.Format("150405")
		destPath = filepath.Join(dateDir, fmt.Sprintf("%s-%s%s", nameWithoutExt, timestamp, ext))
	}

	if err := os.Rename(sourcePath, destPath); err != nil {
		// Rename fails across devices, fall back to copy and delete.
		if err := copyAndDelete(sourcePath, destPath, srcInfo.Mode()); err != nil {
			return "", fmt.Errorf("archive file: %w", err)
		}
	}

	return destPath, nil
}

func copyAndDelete(src, dst string, mode os.FileMode) error {
	if err := copyFile(src, dst, mode); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst, preserving the file mode.
func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	// Ensure data is flushed before the original is removed.
	return dstFile.Sync()
}
