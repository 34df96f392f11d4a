package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadKey loads a PEM key file from the configured keys directory. The name
// must be a bare file name; path traversal outside the directory is refused.
func ReadKey(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("key file name is empty")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid key file name: %s", name)
	}

	dir := GetAppConfig().KeysDir
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", name, err)
	}
	return data, nil
}
