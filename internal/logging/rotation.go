package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RotateIfNeeded rotates path when it has reached maxBytes. A maxBytes of
// zero means unlimited; a missing file is not an error.
func RotateIfNeeded(path string, maxBytes int64, backups int) error {
	if maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < maxBytes {
		return nil
	}
	return rotateFile(path, backups)
}

// rotateFile shifts path.N-1 -> path.N ... path -> path.1, dropping the
// oldest. With no backups the file is truncated in place.
func rotateFile(path string, backups int) error {
	if backups <= 0 {
		return os.Truncate(path, 0)
	}

	_ = os.Remove(fmt.Sprintf("%s.%d", path, backups))
	for i := backups - 1; i >= 1; i-- {
		// Gaps are expected until the first few rotations have happened.
		_ = os.Rename(fmt.Sprintf("%s.%d", path, i), fmt.Sprintf("%s.%d", path, i+1))
	}
	return os.Rename(path, path+".1")
}

// ParseSize parses a human-readable size such as "64KB" or "50MB" into
// bytes. B, KB, MB and GB suffixes are accepted; a bare number is bytes.
// The empty string and "0" mean zero.
func ParseSize(size string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(size))
	if s == "" {
		return 0, nil
	}

	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", size)
	}
	return n * mult, nil
}
