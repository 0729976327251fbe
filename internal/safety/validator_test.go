package safety

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestProtectedPathBlocking verifies protected paths are blocked
func TestProtectedPathBlocking(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"root slash", "/", true},
		{"etc", "/etc", true},
		{"etc subdir", "/etc/ssh", true},
		{"bin", "/bin", true},
		{"usr local", "/usr/local", true},
		{"boot grub", "/boot/grub2", true},
		{"lib64", "/lib64", true},
		{"proc", "/proc/self", true},
		{"dehusk config", "/etc/dehusk", true},
		{"dehusk db file", "/var/lib/dehusk/history.db", true},
		{"tmp allowed", "/tmp", false},
		{"tmp extraction dir", "/tmp/extract/pkg-1.0", false},
		{"var tmp", "/var/tmp", false},
		{"home user", "/home/user/Downloads", false},
	}

	protected := defaultProtected(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsProtectedPath(tt.path, protected)
			if result != tt.expected {
				t.Errorf("IsProtectedPath(%s) = %v, expected %v", tt.path, result, tt.expected)
			}
		})
	}
}

// TestAncestorOfProtectedPath verifies that renaming a parent of a protected
// path is refused even though the parent itself is not listed.
func TestAncestorOfProtectedPath(t *testing.T) {
	protected := defaultProtected(nil)

	tests := []struct {
		path     string
		expected bool
	}{
		{"/var", true},
		{"/var/lib", true},
		{"/var/log", false},
		{"/home", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := containsProtected(tt.path, protected); got != tt.expected {
				t.Errorf("containsProtected(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

// TestAllowedRootEnforcement verifies paths are restricted to allowed roots
func TestAllowedRootEnforcement(t *testing.T) {
	allowed := []string{"/tmp/allowed", "/srv/downloads"}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"inside allowed tmp", "/tmp/allowed/pkg", true},
		{"inside allowed srv", "/srv/downloads/release/v1", true},
		{"allowed root exact", "/tmp/allowed", true},
		{"outside allowed", "/tmp/notallowed/pkg", false},
		{"parent of allowed", "/tmp", false},
		{"completely different", "/home/user/pkg", false},
		{"root", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsWithinAllowedRoots(tt.path, allowed)
			if result != tt.expected {
				t.Errorf("IsWithinAllowedRoots(%s) = %v, expected %v", tt.path, result, tt.expected)
			}
		})
	}
}

// TestPathNormalization verifies paths are normalized correctly
func TestPathNormalization(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"absolute path", "/tmp/pkg", false},
		{"relative path", "pkg", false},
		{"path with dots", "/tmp/./pkg", false},
		{"trailing slash", "/tmp/pkg/", false},
		{"empty path", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NormalizePath(tt.path)
			if tt.expectError {
				if err == nil {
					t.Errorf("NormalizePath(%s) expected error, got nil", tt.path)
				}
				return
			}
			if err != nil {
				t.Errorf("NormalizePath(%s) unexpected error: %v", tt.path, err)
			}
			if !filepath.IsAbs(result) {
				t.Errorf("NormalizePath(%s) = %s, expected absolute path", tt.path, result)
			}
		})
	}
}

// TestTraversalDetection verifies ".." segments are detected
func TestTraversalDetection(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"normal path", "/tmp/pkg", false},
		{"dotdot parent", "/tmp/../etc", true},
		{"dotdot at start", "../etc", true},
		{"dotdot at end", "/tmp/..", true},
		{"single dot ok", "/tmp/./pkg", false},
		{"dots inside name ok", "/tmp/pkg..old", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectTraversal(tt.path)
			if result != tt.expected {
				t.Errorf("DetectTraversal(%s) = %v, expected %v", tt.path, result, tt.expected)
			}
		})
	}
}

// TestSymlinkEscapeDetection verifies symlinked directories resolving outside
// the allowed roots are detected
func TestSymlinkEscapeDetection(t *testing.T) {
	tmpDir := t.TempDir()
	allowedDir := filepath.Join(tmpDir, "allowed")
	outsideDir := filepath.Join(tmpDir, "outside")
	insideDir := filepath.Join(allowedDir, "inside")

	for _, d := range []string{allowedDir, outsideDir, insideDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}

	escaping := filepath.Join(allowedDir, "link_to_outside")
	if err := os.Symlink(outsideDir, escaping); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	safe := filepath.Join(allowedDir, "link_to_inside")
	if err := os.Symlink(insideDir, safe); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	allowed := []string{allowedDir}
	protected := defaultProtected(nil)

	tests := []struct {
		name         string
		path         string
		expectEscape bool
		expectError  bool
	}{
		{"symlink escapes", escaping, true, false},
		{"symlink stays inside", safe, false, false},
		{"plain directory", insideDir, false, false},
		{"nonexistent path", filepath.Join(allowedDir, "nonexistent"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped, err := DetectSymlinkEscape(tt.path, allowed, protected)
			if tt.expectError {
				if err == nil {
					t.Errorf("DetectSymlinkEscape(%s) expected error, got nil", tt.path)
				}
				return
			}
			if err != nil {
				t.Errorf("DetectSymlinkEscape(%s) unexpected error: %v", tt.path, err)
			}
			if escaped != tt.expectEscape {
				t.Errorf("DetectSymlinkEscape(%s) = %v, expected %v", tt.path, escaped, tt.expectEscape)
			}
		})
	}
}

// TestValidateTarget is the integration test for the full safety contract
func TestValidateTarget(t *testing.T) {
	tmpDir := t.TempDir()
	allowedDir := filepath.Join(tmpDir, "allowed")
	outsideDir := filepath.Join(tmpDir, "outside")
	extracted := filepath.Join(allowedDir, "extracted")

	for _, d := range []string{allowedDir, outsideDir, extracted} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}

	link := filepath.Join(allowedDir, "linked")
	if err := os.Symlink(extracted, link); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	validator := NewValidator([]string{allowedDir}, nil)

	tests := []struct {
		name        string
		path        string
		expectError error
	}{
		{"allowed directory", extracted, nil},
		{"missing directory inside root", filepath.Join(allowedDir, "missing"), nil},
		{"outside allowed", outsideDir, ErrOutsideAllowed},
		{"protected /etc", "/etc", ErrProtectedPath},
		{"protected root", "/", ErrProtectedPath},
		{"ancestor of protected", "/var/lib", ErrProtectedPath},
		{"symlink target", link, ErrSymlinkTarget},
		{"traversal attempt", allowedDir + "/../outside", ErrTraversal},
		{"empty path", "", ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateTarget(tt.path)
			if tt.expectError == nil {
				if err != nil {
					t.Errorf("ValidateTarget(%s) unexpected error: %v", tt.path, err)
				}
				return
			}
			if !errors.Is(err, tt.expectError) {
				t.Errorf("ValidateTarget(%s) = %v, expected %v", tt.path, err, tt.expectError)
			}
		})
	}
}

// TestValidateTargetWithoutRoots verifies that an empty allowed list only
// enforces the protected set
func TestValidateTargetWithoutRoots(t *testing.T) {
	validator := NewValidator(nil, []string{"/srv/keep"})

	if err := validator.ValidateTarget(t.TempDir()); err != nil {
		t.Errorf("unexpected error for temp dir: %v", err)
	}
	if err := validator.ValidateTarget("/srv/keep/sub"); !errors.Is(err, ErrProtectedPath) {
		t.Errorf("expected ErrProtectedPath for extra protected path, got %v", err)
	}
}

// TestHasPathPrefix verifies the path prefix checking logic
func TestHasPathPrefix(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		prefix   string
		expected bool
	}{
		{"exact match", "/tmp/allowed", "/tmp/allowed", true},
		{"subdirectory", "/tmp/allowed/sub", "/tmp/allowed", true},
		{"not a prefix", "/tmp/other", "/tmp/allowed", false},
		{"partial match", "/tmp/allowedother", "/tmp/allowed", false},
		{"root prefix only matches root", "/tmp", "/", false},
		{"root itself", "/", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := hasPathPrefix(tt.path, tt.prefix)
			if result != tt.expected {
				t.Errorf("hasPathPrefix(%s, %s) = %v, expected %v", tt.path, tt.prefix, result, tt.expected)
			}
		})
	}
}
