package trajectory

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// DefaultSuffix is the extension of trajectory files written by the capture
// rig.
const DefaultSuffix = ".txt"

// LoadOptions configures LoadFolder.
type LoadOptions struct {
	ParseOptions

	// Suffix filters directory entries. Empty means DefaultSuffix.
	Suffix string
}

// LoadResult is the outcome of loading a folder: the trajectories that parsed
// and the errors for the files that were skipped.
type LoadResult struct {
	Trajectories []*Trajectory
	Skipped      []error
}

// LoadFolder parses every file in dir whose name ends with the configured
// suffix, in lexical order. A file that fails to parse is logged, recorded in
// Skipped and otherwise ignored; only a failure to read the directory itself
// is returned as an error.
func LoadFolder(dir string, opts LoadOptions) (*LoadResult, error) {
	suffix := opts.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trajectory folder %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	res := &LoadResult{Trajectories: make([]*Trajectory, 0, len(names))}
	for _, name := range names {
		t, err := ParseFile(filepath.Join(dir, name), opts.ParseOptions)
		if err != nil {
			log.Printf("warning: skipping %s: %v", name, err)
			res.Skipped = append(res.Skipped, err)
			continue
		}
		res.Trajectories = append(res.Trajectories, t)
	}

	return res, nil
}

// Err combines the skipped-file errors into one, or returns nil when every
// file parsed. errors.Is and errors.As see through the combination.
func (r *LoadResult) Err() error {
	return multierr.Combine(r.Skipped...)
}
