package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// DownloadName is the attachment filename used when none is requested.
const DownloadName = "video"

// SanitizeName strips control characters and replaces anything outside a
// conservative filename alphabet with '_'.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

// AttachmentName builds "<name>.<format>" for downloads, falling back to "video".
func AttachmentName(name string, f Format) string {
	base := strings.TrimSuffix(SanitizeName(name, 100), "."+string(f))
	if strings.Trim(base, ". ") == "" {
		base = DownloadName
	}
	return base + "." + string(f)
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputPath checks a destination file for the export command and
// returns it cleaned. The path must be free of traversal, inside an existing
// directory and not itself a directory.
func ValidateOutputPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("output path is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("output path cannot contain path traversal")
		}
	}
	path = filepath.Clean(path)

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("output directory does not exist")
		}
		return "", fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output directory is not a directory")
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return "", fmt.Errorf("output path is a directory")
	}
	return path, nil
}
