package utils

import (
	"os"
	"path/filepath"

	"github.com/PhiFever/devanagari-ocr-server/pkg/version"
)

// GetDataPath returns the path of a file under the project's data directory.
// It walks up from the working directory so tests and binaries started from
// subdirectories find the same data/ folder. Falls back to the relative path.
func GetDataPath(path string) string {
	rel := filepath.Join("data", path)
	dir, err := os.Getwd()
	if err != nil {
		return rel
	}

	for depth := 0; depth < 10; depth++ {
		candidate := filepath.Join(dir, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return rel
}

// GetAppDataPath returns the path to an application data file
func GetAppDataPath(filename string) (string, error) {
	var appDataDir string

	if dir := os.Getenv("OCR_DATA_DIR"); dir != "" {
		appDataDir = dir
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		// Windows
		appDataDir = filepath.Join(appData, version.AppName)
	} else if home := os.Getenv("HOME"); home != "" {
		// Linux/macOS
		appDataDir = filepath.Join(home, ".local", "share", version.AppName)
	} else {
		// Fallback
		appDataDir = version.AppName
	}

	if err := os.MkdirAll(appDataDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(appDataDir, filename), nil
}

// GetTempDir returns the directory used for spooling uploads.
// An empty configured value falls back to the OS temp dir.
func GetTempDir(configured string) (string, error) {
	if configured == "" {
		return os.TempDir(), nil
	}
	if err := os.MkdirAll(configured, 0755); err != nil {
		return "", err
	}
	return configured, nil
}
