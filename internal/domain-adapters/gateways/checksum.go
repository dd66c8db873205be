package gateways

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// checksumVerifier writes and checks SHA256SUMS lists for report files
type checksumVerifier struct{}

// NewChecksumVerifier creates a new checksum verifier
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewChecksumVerifier() *checksumVerifier {
	return &checksumVerifier{}
}

// CalculateChecksum calculates the SHA256 checksum of a file
func (v *checksumVerifier) CalculateChecksum(filePath string) (string, error) {
	//nolint:gosec // G304: File path is user-provided for checksum calculation
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum verifies a file's SHA256 checksum
func (v *checksumVerifier) VerifyChecksum(_ context.Context, filePath, expectedSum string) error {
	actualSum, err := v.CalculateChecksum(filePath)
	if err != nil {
		return err
	}
	if actualSum != strings.ToLower(expectedSum) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSum, actualSum)
	}
	return nil
}

// WriteSumsFile writes a sha256sum-compatible list of files to sumsPath.
// Files are recorded by base name and must live in the same directory.
func (v *checksumVerifier) WriteSumsFile(sumsPath string, files []string) error {
	var b strings.Builder
	for _, file := range files {
		sum, err := v.CalculateChecksum(file)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", file, err)
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, filepath.Base(file))
	}
	if err := os.WriteFile(sumsPath, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write checksum file: %w", err)
	}
	return nil
}

// VerifySumsFile checks every entry of a sha256sum-compatible list against
// the files next to it and returns the names it verified
func (v *checksumVerifier) VerifySumsFile(ctx context.Context, sumsPath string) ([]string, error) {
	//nolint:gosec // G304: File path is user-provided for checksum verification
	f, err := os.Open(sumsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checksum file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	dir := filepath.Dir(sumsPath)
	var verified []string
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		sum, name, found := strings.Cut(text, "  ")
		if !found || len(sum) != sha256.Size*2 || strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("malformed checksum line %d", line)
		}
		if err := v.VerifyChecksum(ctx, filepath.Join(dir, name), sum); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		verified = append(verified, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksum file: %w", err)
	}
	return verified, nil
}
