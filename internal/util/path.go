// Package util holds small path and byte-size helpers shared by cfg and
// cmd, mirroring the teacher's internal/util grab-bag package.
package util

import (
	"os"
	"path/filepath"
)

// GetResolvedPath returns the absolute form of p, resolving it against
// the process's current working directory. Empty input resolves to the
// working directory itself.
func GetResolvedPath(p string) (string, error) {
	if p == "" {
		return os.Getwd()
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// BytesToHigherMiBs rounds up a byte count to whole mebibytes.
func BytesToHigherMiBs(b uint64) uint64 {
	const mib = 1 << 20
	return (b + mib - 1) / mib
}
