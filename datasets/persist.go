package datasets

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// statsFormatVersion is incremented when the on-disk stats format changes.
const statsFormatVersion = 1

// SaveNormStats writes s to path using encoding/gob. The write is atomic: the
// data goes to a temp file in the same directory which is then renamed over
// path.
func SaveNormStats(path string, s *NormStats) error {
	if path == "" {
		return fmt.Errorf("%w: empty stats path", ErrInvalidArgument)
	}
	if s == nil {
		return fmt.Errorf("%w: nil stats", ErrInvalidArgument)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp stats file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	if err := gob.NewEncoder(tmpFile).Encode(s.wire()); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		log.Printf("warning: sync temp stats file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp stats file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp stats to target: %w", err)
	}
	return nil
}

// LoadNormStats reads statistics written by SaveNormStats.
func LoadNormStats(path string) (*NormStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stats: %w", err)
	}
	defer f.Close()

	var w normStatsWire
	if err := gob.NewDecoder(f).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode stats %s: %w", path, err)
	}
	return fromWire(w)
}
