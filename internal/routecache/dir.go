package routecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoWritableDir is returned when none of the candidate directories can be written.
var ErrNoWritableDir = errors.New("no writable cache directory")

// ResolveDir returns the first writable directory of: preferred, ./data and
// $TMPDIR/zwift_bot_data. Directories are created when missing.
func ResolveDir(preferred string) (string, error) {
	candidates := []string{preferred, "data", filepath.Join(os.TempDir(), "zwift_bot_data")}
	var errs []error
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if err := writable(dir); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		return dir, nil
	}
	return "", fmt.Errorf("%w: %w", ErrNoWritableDir, errors.Join(errs...))
}

func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return canWrite(dir)
}
