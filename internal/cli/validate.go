package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveOutputPath checks that the parent directory of path exists and
// returns the absolute path. exists reports whether a file is already there.
func ResolveOutputPath(path string) (abs string, exists bool, err error) {
	if path == "" {
		return "", false, fmt.Errorf("output path is required")
	}
	abs, err = filepath.Abs(path)
	if err != nil {
		return "", false, err
	}
	dir := filepath.Dir(abs)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, fmt.Errorf("directory not found: %s", dir)
		}
		return "", false, fmt.Errorf("access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", false, fmt.Errorf("not a directory: %s", dir)
	}
	st, err := os.Stat(abs)
	if err == nil {
		if st.IsDir() {
			return "", false, fmt.Errorf("output path is a directory: %s", abs)
		}
		return abs, true, nil
	}
	return abs, false, nil
}
