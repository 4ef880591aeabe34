package datasets

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/shuttle/trajectory"
)

// Entry is one unit of a dataset: a shared, read-only reference to a full
// trajectory plus, for eagerly expanded pools, the window fixed at expansion
// time. Lazy entries leave Fixed nil and get a fresh window on every access.
type Entry struct {
	Trajectory *trajectory.Trajectory
	Fixed      *Window
}

// Eager reports whether the entry carries a pre-selected window.
func (e Entry) Eager() bool {
	return e.Fixed != nil
}

// Expander turns a set of raw trajectories into the pool of entries a
// training dataset enumerates.
type Expander interface {
	Expand(raw []*trajectory.Trajectory, rng *rand.Rand) ([]Entry, error)
}

// Replicate is the primary (lazy) expansion: every trajectory appears Factor
// times, unsliced, and the pool is shuffled. Each replica is windowed
// independently at access time, so replication adds window diversity without
// copying frame data.
type Replicate struct {
	Factor int
}

// Expand implements Expander.
func (r Replicate) Expand(raw []*trajectory.Trajectory, rng *rand.Rand) ([]Entry, error) {
	if err := checkExpandArgs(raw, r.Factor, rng); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw)*r.Factor)
	for _, t := range raw {
		for range r.Factor {
			entries = append(entries, Entry{Trajectory: t})
		}
	}
	shuffleEntries(entries, rng)
	return entries, nil
}

// InteriorWindows is an eager alternative that fixes Factor random windows per
// trajectory at expansion time. Window lengths are drawn from the policy and
// the window may end anywhere in the trajectory; replicas whose drawn length
// exceeds the trajectory are dropped, so the pool may hold fewer than
// Factor*N entries.
type InteriorWindows struct {
	Factor int
	Policy WindowPolicy
}

// Expand implements Expander.
func (iw InteriorWindows) Expand(raw []*trajectory.Trajectory, rng *rand.Rand) ([]Entry, error) {
	if err := checkExpandArgs(raw, iw.Factor, rng); err != nil {
		return nil, err
	}
	if err := iw.Policy.Validate(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw)*iw.Factor)
	for _, t := range raw {
		total := t.Len()
		for range iw.Factor {
			seqLen := iw.Policy.drawLen(rng)
			if seqLen > total {
				continue
			}
			end := seqLen - 1 + rng.Intn(total-seqLen+1)
			entries = append(entries, Entry{
				Trajectory: t,
				Fixed:      &Window{Start: end - seqLen + 1, End: end},
			})
		}
	}
	shuffleEntries(entries, rng)
	return entries, nil
}

// TrailingDownsample is an eager alternative producing exactly one entry per
// trajectory: a trailing window whose length is drawn from the policy and
// clamped to the trajectory length.
type TrailingDownsample struct {
	Policy WindowPolicy
}

// Expand implements Expander.
func (td TrailingDownsample) Expand(raw []*trajectory.Trajectory, rng *rand.Rand) ([]Entry, error) {
	if err := checkExpandArgs(raw, 1, rng); err != nil {
		return nil, err
	}
	if err := td.Policy.Validate(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, t := range raw {
		w := td.Policy.TrainWindow(t.Len(), rng)
		entries = append(entries, Entry{Trajectory: t, Fixed: &w})
	}
	shuffleEntries(entries, rng)
	return entries, nil
}

func checkExpandArgs(raw []*trajectory.Trajectory, factor int, rng *rand.Rand) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: no trajectories to expand", ErrInvalidArgument)
	}
	if factor < 1 {
		return fmt.Errorf("%w: replication factor must be >= 1, got %d", ErrInvalidArgument, factor)
	}
	if rng == nil {
		return fmt.Errorf("%w: expansion needs a random source", ErrInvalidArgument)
	}
	for i, t := range raw {
		if t == nil {
			return fmt.Errorf("%w: trajectory %d is nil", ErrInvalidArgument, i)
		}
	}
	return nil
}

func shuffleEntries(entries []Entry, rng *rand.Rand) {
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}
