package util

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameRunes bounds sanitized filenames, extension included.
const MaxFilenameRunes = 200

// extensions longer than this are treated as part of the base name
const maxExtRunes = 16

const invalidFilenameChars = `<>:"/\|?*`

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// EnsureDir creates the directory path if it does not exist.
func EnsureDir(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return os.MkdirAll(path, 0o755)
}

// RemoveIfExists deletes the file if present.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// TempSibling returns a hidden path next to path that keeps its extension,
// e.g. "/d/song.m4a" -> "/d/.song.source.m4a".
func TempSibling(path, tag string) string {
	dir, name := filepath.Split(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, "."+stem+"."+tag+ext)
}

// SanitizeFilename makes name safe to use as a single path element:
//   - characters invalid on common filesystems and control characters
//     become "_", runs of them collapse into one
//   - trailing spaces, dots and underscores are trimmed from the base name
//   - Windows device names (CON, NUL, COM1...) get a "_" prefix
//   - the base is truncated so the whole name fits MaxFilenameRunes while
//     the extension is kept intact
func SanitizeFilename(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "." || utf8.RuneCountInString(ext) > maxExtRunes {
		base, ext = name, ""
	}
	if ext != "" {
		ext = "." + strings.Trim(cleanComponent(ext[1:]), "_ ")
		if ext == "." {
			ext = ""
		}
	}

	base = trimBase(cleanComponent(base))
	if reservedNames[strings.ToUpper(base)] {
		base = "_" + base
	}

	limit := MaxFilenameRunes - utf8.RuneCountInString(ext)
	if utf8.RuneCountInString(base) > limit {
		base = trimBase(truncateRunes(base, limit))
	}
	if base == "" {
		base = "untitled"
	}
	return base + ext
}

func cleanComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(invalidFilenameChars, r) {
			pending = true
			continue
		}
		if pending || r == '_' {
			if !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			pending = false
			if r == '_' {
				continue
			}
		}
		b.WriteRune(r)
	}
	if pending && !strings.HasSuffix(b.String(), "_") {
		b.WriteByte('_')
	}
	return b.String()
}

func trimBase(s string) string {
	return strings.TrimRight(strings.TrimLeft(s, " "), " ._")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
