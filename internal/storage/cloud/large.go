package cloud

import (
	"fmt"
	"os"
	"path/filepath"
)

// spillContent writes content to a content-addressed file under
// s.largeDir and returns the path written, when content exceeds
// threshold and spill is configured. A zero threshold or empty largeDir
// disables spill — this stands in for the spec's "optional object store"
// (§4.6), which is a capability no example in the pack talks to directly.
func (s *Store) spillContent(contentHash, content string) (path string, spilled bool, err error) {
	if s.largeDir == "" || s.largeThreshold <= 0 || len(content) <= s.largeThreshold {
		return "", false, nil
	}

	if err := os.MkdirAll(s.largeDir, 0o755); err != nil {
		return "", false, fmt.Errorf("cloud: create large object dir: %w", err)
	}

	path = filepath.Join(s.largeDir, contentHash+".txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("cloud: write large object: %w", err)
	}
	return path, true, nil
}

// readSpilled loads previously spilled content back from disk.
func readSpilled(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cloud: read large object: %w", err)
	}
	return string(b), nil
}
