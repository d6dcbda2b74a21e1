package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// createFile is swapped in tests.
var createFile = func(name string) (io.WriteCloser, error) { return os.Create(name) }

// LogStorage manages saving step output to files
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveLog writes the output of one step to <base>/<build>/<NN>_<step>.log
// and returns the file path with the SHA-256 of its content.
func (ls *LogStorage) SaveLog(buildID string, index int, stepRef, output string) (string, string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(buildID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%02d_%s.log", index, sanitize(stepRef)))
	f, err := createFile(path)
	if err != nil {
		return "", "", fmt.Errorf("create log file: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), strings.NewReader(output)); err != nil {
		f.Close()
		return "", "", fmt.Errorf("write log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("close log file: %w", err)
	}
	return path, hex.EncodeToString(h.Sum(nil)), nil
}

// Digest returns the SHA-256 hex digest of output.
func Digest(output string) string {
	sum := sha256.Sum256([]byte(output))
	return hex.EncodeToString(sum[:])
}

// DigestFile hashes the content of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitize removes special characters from step names for filenames
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "step"
	}
	return b.String()
}
