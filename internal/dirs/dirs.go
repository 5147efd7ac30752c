// Package dirs resolves per-user locations for configuration, logs and
// downloads.
package dirs

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "tubegrab"

// AppName returns the canonical application name for directory paths.
func AppName() string {
	return appName
}

// ConfigDir returns the app's configuration directory.
// - Linux: $XDG_CONFIG_HOME/tubegrab or ~/.config/tubegrab
// - macOS: ~/Library/Application Support/tubegrab
// - Windows: %AppData%/tubegrab
func ConfigDir() (string, error) {
	return userDir("XDG_CONFIG_HOME", []string{".config"}, []string{"Library", "Application Support"}, os.UserConfigDir)
}

// CacheDir returns the app's cache directory, which also holds the TUI log.
// - Linux: $XDG_CACHE_HOME/tubegrab or ~/.cache/tubegrab
// - macOS: ~/Library/Caches/tubegrab
// - Windows: %LocalAppData%/tubegrab
func CacheDir() (string, error) {
	return userDir("XDG_CACHE_HOME", []string{".cache"}, []string{"Library", "Caches"}, os.UserCacheDir)
}

func userDir(xdgVar string, linux, darwin []string, fallback func() (string, error)) (string, error) {
	switch runtime.GOOS {
	case "darwin", "linux":
		if runtime.GOOS == "linux" {
			if xdg := os.Getenv(xdgVar); xdg != "" {
				return filepath.Join(xdg, AppName()), nil
			}
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		parts := linux
		if runtime.GOOS == "darwin" {
			parts = darwin
		}
		return filepath.Join(append(append([]string{home}, parts...), AppName())...), nil
	default:
		base, err := fallback()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, AppName()), nil
	}
}

// DefaultOutputDir returns ~/Videos/YouTubeDownloads.
func DefaultOutputDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Videos", "YouTubeDownloads"), nil
}

// LogFile returns the path the TUI writes its log to.
func LogFile() (string, error) {
	c, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(c, AppName()+".log"), nil
}

// Ensure creates the directory if it doesn't exist.
func Ensure(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return os.MkdirAll(path, 0o755)
}
