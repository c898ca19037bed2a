package node

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// shortHash returns the first 16 hex characters of a hash string for logs.
func shortHash(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
