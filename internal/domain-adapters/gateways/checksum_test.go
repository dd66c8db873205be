package gateways

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestVerifyChecksum tests SHA256 checksum verification
func TestVerifyChecksum(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")

	content := []byte("Hello, World! This is a test file for checksum verification.")
	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	verifier := NewChecksumVerifier()

	actualSum, err := verifier.CalculateChecksum(testFile)
	if err != nil {
		t.Fatalf("CalculateChecksum() error = %v", err)
	}

	if len(actualSum) != 64 {
		t.Errorf("CalculateChecksum() returned checksum length = %d, want 64 (SHA256 hex)", len(actualSum))
	}

	t.Run("valid checksum", func(t *testing.T) {
		if err := verifier.VerifyChecksum(context.Background(), testFile, actualSum); err != nil {
			t.Errorf("VerifyChecksum() with valid checksum error = %v", err)
		}
	})

	t.Run("invalid checksum", func(t *testing.T) {
		invalidSum := "0000000000000000000000000000000000000000000000000000000000000000"
		if err := verifier.VerifyChecksum(context.Background(), testFile, invalidSum); err == nil {
			t.Error("VerifyChecksum() with invalid checksum should return error")
		}
	})

	t.Run("non-existent file", func(t *testing.T) {
		if err := verifier.VerifyChecksum(context.Background(), "/nonexistent/file.txt", actualSum); err == nil {
			t.Error("VerifyChecksum() with non-existent file should return error")
		}
	})
}

func TestSumsFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "2024-01-01-by-repository.json"), filepath.Join(dir, "2024-01-01-library.json")}
	for i, f := range files {
		if err := os.WriteFile(f, []byte{byte('a' + i)}, 0600); err != nil {
			t.Fatal(err)
		}
	}

	verifier := NewChecksumVerifier()
	sums := filepath.Join(dir, "2024-01-01-SHA256SUMS")
	if err := verifier.WriteSumsFile(sums, files); err != nil {
		t.Fatalf("WriteSumsFile() error = %v", err)
	}

	verified, err := verifier.VerifySumsFile(context.Background(), sums)
	if err != nil {
		t.Fatalf("VerifySumsFile() error = %v", err)
	}
	if len(verified) != 2 {
		t.Errorf("verified = %v, want 2 files", verified)
	}

	// tampering is detected
	if err := os.WriteFile(files[1], []byte("changed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.VerifySumsFile(context.Background(), sums); err == nil {
		t.Error("VerifySumsFile() should detect a modified file")
	}
}

func TestSumsFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	sums := filepath.Join(dir, "SHA256SUMS")
	if err := os.WriteFile(sums, []byte("abc  ../../etc/passwd\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewChecksumVerifier().VerifySumsFile(context.Background(), sums); err == nil {
		t.Error("VerifySumsFile() should reject malformed lines")
	}
}
