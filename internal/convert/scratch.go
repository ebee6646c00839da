package convert

import (
	"fmt"
	"os"
	"path/filepath"
)

// scratch is the private working directory for one conversion. It exclusively
// owns the input artifact, any bridge artifact and the output artifact; no
// scratch area outlives its request.
type scratch struct {
	dir string
}

// acquireScratch creates a uniquely named scratch directory under baseDir.
// Creation failure is fatal for the request and is not retried.
func acquireScratch(baseDir string) (*scratch, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch base %s: %w", baseDir, err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "avifconv-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return &scratch{dir: dir}, nil
}

func (s *scratch) path(name string) string {
	return filepath.Join(s.dir, name)
}

// release removes the scratch directory and everything inside it. Safe to
// call more than once; the first call wins.
func (s *scratch) release() {
	if s == nil || s.dir == "" {
		return
	}
	_ = os.RemoveAll(s.dir)
	s.dir = ""
}
