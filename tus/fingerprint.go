package tus

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFingerprint identifies file inputs by path, size, modification time
// and endpoint. Other inputs have no stable identity and get no fingerprint.
func DefaultFingerprint(input interface{}, config Config) (string, error) {
	var path string
	switch in := input.(type) {
	case *os.File:
		path = in.Name()
	case string:
		path = strings.TrimPrefix(in, "file://")
	default:
		return "", nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", nil
	}
	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", nil
	}

	h := sha256.New()
	if _, err := fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s", absPath, info.Size(), info.ModTime().UnixNano(), config.Endpoint); err != nil {
		return "", fmt.Errorf("write sha256: %w", err)
	}
	return fmt.Sprintf("tus-%x", h.Sum(nil)), nil
}
