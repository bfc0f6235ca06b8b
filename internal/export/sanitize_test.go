package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName_ControlChars(t *testing.T) {
	got := SanitizeName(" A\nB\rC\tD\x00 ", 100)
	if strings.ContainsAny(got, "\n\r\t\x00") {
		t.Fatalf("sanitize output contains control chars: %q", got)
	}
	if got != "ABCD" {
		t.Fatalf("SanitizeName control char behavior mismatch, got %q", got)
	}
}

func TestSanitizeName_MaxLength(t *testing.T) {
	got := SanitizeName("abcdefghijklmnopqrstuvwxyz", 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected length 10, got %d (%q)", len([]rune(got)), got)
	}
}

func TestSanitizeName_ReplacesDisallowed(t *testing.T) {
	got := SanitizeName("bad<>|\"name", 100)
	if got != "bad____name" {
		t.Fatalf("SanitizeName disallowed replacement mismatch: got %q", got)
	}
}

func TestAttachmentName(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		want   string
	}{
		{"", FormatMP4, "video.mp4"},
		{"holiday cut", FormatWebM, "holiday cut.webm"},
		{"clip.mp4", FormatMP4, "clip.mp4"},
		{"../../etc/passwd", FormatMP4, ".._.._etc_passwd.mp4"},
		{"...", FormatWebM, "video.webm"},
	}
	for _, tt := range tests {
		if got := AttachmentName(tt.name, tt.format); got != tt.want {
			t.Errorf("AttachmentName(%q, %s) = %q, want %q", tt.name, tt.format, got, tt.want)
		}
	}
}

func TestValidateOutputPath_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	got, err := ValidateOutputPath(path)
	if err != nil {
		t.Fatalf("ValidateOutputPath(%q) error = %v, want nil", path, err)
	}
	if got != path {
		t.Errorf("ValidateOutputPath(%q) = %q", path, got)
	}
}

func TestValidateOutputPath_CleansRelative(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, in := range []string{"./final.mp4", "final.mp4", ".//final.mp4"} {
		got, err := ValidateOutputPath(in)
		if err != nil {
			t.Fatalf("ValidateOutputPath(%q) error = %v, want nil", in, err)
		}
		if got != "final.mp4" {
			t.Errorf("ValidateOutputPath(%q) = %q, want final.mp4", in, got)
		}
	}
}

func TestValidateOutputPath_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.mp4")
	if _, err := ValidateOutputPath(path); err == nil {
		t.Fatalf("ValidateOutputPath(%q) expected error for missing directory", path)
	}
}

func TestValidateOutputPath_PathTraversal(t *testing.T) {
	if _, err := ValidateOutputPath("/tmp/../etc/out.mp4"); err == nil {
		t.Fatal("expected traversal error")
	}
}

func TestValidateOutputPath_IsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "out.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateOutputPath(filepath.Join(dir, "out.mp4")); err == nil {
		t.Fatal("expected error for directory destination")
	}
}
