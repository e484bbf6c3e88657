package security

import (
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	if err := ValidatePathWithinDirectory(filepath.Join(dir, "capture.jpg"), dir); err != nil {
		t.Errorf("path inside the directory rejected: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "sub", "capture.jpg"), dir); err != nil {
		t.Errorf("nested path rejected: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(dir, "..", "escape.jpg"), dir); err == nil {
		t.Error("dot-dot escape accepted")
	}
	if err := ValidatePathWithinDirectory("/etc/passwd", dir); err == nil {
		t.Error("absolute path outside the directory accepted")
	}
}

func TestValidatePathSameAsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := ValidatePathWithinDirectory(dir, dir); err != nil {
		t.Errorf("the directory itself rejected: %v", err)
	}
}
