package dogu

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

// digestRef is an algo-prefixed expected digest, e.g. "sha256:<hex>".
// Tools that publish integrity data resolve one of these alongside their
// download URL; everything else skips verification.
type digestRef struct {
	Algo string
	Hex  string
}

func parseDigestRef(s string) (digestRef, error) {
	algo, hexPart, ok := strings.Cut(s, ":")
	if !ok || algo == "" || hexPart == "" {
		return digestRef{}, fmt.Errorf("malformed digest reference %q (want algo:hex)", s)
	}
	switch algo {
	case "sha256", "blake3":
	default:
		return digestRef{}, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	return digestRef{Algo: algo, Hex: strings.ToLower(hexPart)}, nil
}

// check if b3sum is installed on system
func hasB3sum() bool {
	_, err := exec.LookPath("b3sum")
	return err == nil
}

func hashFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashFileBlake3(path string) (string, error) {
	// Try system b3sum first
	if hasB3sum() {
		cmd := exec.Command("b3sum", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			fields := strings.Fields(out.String())
			if len(fields) > 0 {
				return fields[0], nil
			}
		}
	}

	// Fallback: internal Go BLAKE3 (32-byte output, no key)
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// verifyArtifact checks path against an expected digest. A mismatch deletes
// the artifact so a later run cannot cache-hit the bad file, and the error
// reports both digests.
func verifyArtifact(path string, want digestRef) error {
	var got string
	var err error
	switch want.Algo {
	case "sha256":
		got, err = hashFileSHA256(path)
	case "blake3":
		got, err = hashFileBlake3(path)
	default:
		return fmt.Errorf("unsupported digest algorithm %q", want.Algo)
	}
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	if !strings.EqualFold(got, want.Hex) {
		os.Remove(path)
		return fmt.Errorf("digest mismatch for %s: expected %s:%s, got %s:%s",
			filepath.Base(path), want.Algo, want.Hex, want.Algo, got)
	}
	debugf("=> Verified %s (%s)\n", filepath.Base(path), want.Algo)
	return nil
}
