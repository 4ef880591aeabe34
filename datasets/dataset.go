// Package datasets turns recorded trajectories into normalized, windowed,
// batched examples for landing-point regression.
//
// Layout and intended usage:
//
//   - A training Dataset expands the raw trajectories into a pool of entries
//     (by default each trajectory replicated NumSubsamples times), estimates the
//     normalization statistics once from that pool and freezes them.
//   - An evaluation Dataset is built from held-out trajectories and the
//     training statistics (NormStats); it never computes its own.
//   - Example(i) windows, slices and normalizes entry i on every call. Train
//     windows are random-length and end at the last recorded frame; eval
//     windows are the trailing MaxLen frames.
//   - Batch / Yield collate examples with left padding and a validity mask and
//     convert them into gomlx tensors.
//
// A Dataset owns its random source and is not safe for concurrent use; use a
// Loader to produce examples from several goroutines.
package datasets

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/shuttle/trajectory"
)

const (
	DefaultMinLen        = 10
	DefaultMaxLen        = 50
	DefaultNumSubsamples = 5
	DefaultBatchSize     = 32
)

// Options configures New. Zero values for MinLen, MaxLen, NumSubsamples and
// BatchSize select the defaults above.
type Options struct {
	MinLen int
	MaxLen int
	Mode   Mode

	// NumSubsamples is the replication factor of the default training
	// expander. Ignored in Eval mode and when Expander is set.
	NumSubsamples int

	// Stats are the frozen training statistics. Required in Eval mode,
	// ignored in Train mode.
	Stats *NormStats

	// Seed drives window draws and shuffling. Zero means time-based.
	Seed int64

	// BatchSize is used by Yield.
	BatchSize int

	// Expander overrides the default Replicate{NumSubsamples} training
	// expansion.
	Expander Expander

	// Noise enables optional label noise in Train mode.
	Noise LabelNoise
}

func (o *Options) applyDefaults() {
	if o.MinLen == 0 {
		o.MinLen = DefaultMinLen
	}
	if o.MaxLen == 0 {
		o.MaxLen = max(DefaultMaxLen, o.MinLen)
	}
	if o.NumSubsamples == 0 {
		o.NumSubsamples = DefaultNumSubsamples
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
}

// Dataset serves windowed, normalized examples over a pool of entries.
type Dataset struct {
	opts     Options
	entries  []Entry
	stats    *NormStats
	accessor Accessor

	// order is the epoch visiting order used by Yield; cursor is the next
	// position in it.
	order  []int
	cursor int

	rng *rand.Rand
}

// New builds a dataset over samples.
//
// In Train mode the samples are expanded and the normalization statistics are
// estimated from the expanded pool. In Eval mode the entries are the samples
// themselves, in order, and opts.Stats must be provided.
func New(samples []*trajectory.Trajectory, opts Options) (*Dataset, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidArgument)
	}
	opts.applyDefaults()
	policy := WindowPolicy{MinLen: opts.MinLen, MaxLen: opts.MaxLen}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	for i, t := range samples {
		if t == nil {
			return nil, fmt.Errorf("%w: sample %d is nil", ErrInvalidArgument, i)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrInvalidArgument, i, err)
		}
	}

	d := &Dataset{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}

	switch opts.Mode {
	case Train:
		if opts.Stats != nil {
			log.Printf("warning: ignoring provided stats for a train dataset; statistics are estimated from the training pool")
		}
		exp := opts.Expander
		if exp == nil {
			exp = Replicate{Factor: opts.NumSubsamples}
		}
		entries, err := exp.Expand(samples, d.rng)
		if err != nil {
			return nil, fmt.Errorf("expand training pool: %w", err)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: expansion produced no entries", ErrInvalidArgument)
		}
		stats, err := EstimateNormStats(entries)
		if err != nil {
			return nil, fmt.Errorf("estimate normalization statistics: %w", err)
		}
		d.entries = entries
		d.stats = stats
	default:
		if opts.Stats == nil {
			return nil, fmt.Errorf("%w: eval datasets require training normalization statistics", ErrInvalidArgument)
		}
		d.entries = make([]Entry, len(samples))
		for i, t := range samples {
			d.entries[i] = Entry{Trajectory: t}
		}
		d.stats = opts.Stats
	}

	d.accessor = Accessor{Policy: policy, Mode: opts.Mode, Stats: d.stats, Noise: opts.Noise}
	d.order = make([]int, len(d.entries))
	for i := range d.order {
		d.order[i] = i
	}
	return d, nil
}

// Len returns the number of entries.
func (d *Dataset) Len() int {
	return len(d.entries)
}

// Mode returns the dataset mode.
func (d *Dataset) Mode() Mode {
	return d.opts.Mode
}

// Entry returns entry i.
func (d *Dataset) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(d.entries) {
		return Entry{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.entries))
	}
	return d.entries[i], nil
}

// Entries returns a copy of the entry list.
func (d *Dataset) Entries() []Entry {
	return append([]Entry(nil), d.entries...)
}

// NormStats returns the frozen statistics: estimated for Train datasets, the
// ones passed in for Eval datasets. Pass them to an Eval dataset's Options.
func (d *Dataset) NormStats() *NormStats {
	return d.stats
}

// Accessor returns the accessor the dataset uses for its entries.
func (d *Dataset) Accessor() Accessor {
	return d.accessor
}

// Example windows and normalizes entry i.
func (d *Dataset) Example(i int) (Example, error) {
	e, err := d.Entry(i)
	if err != nil {
		return Example{}, err
	}
	return d.accessor.Access(e, d.rng)
}

// Batch reads and collates the examples at indices.
func (d *Dataset) Batch(indices []int) (*Batch, error) {
	examples := make([]Example, len(indices))
	for pos, idx := range indices {
		ex, err := d.Example(idx)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", idx, err)
		}
		examples[pos] = ex
	}
	return Collate(examples)
}

// Shuffle reseeds the dataset and shuffles the epoch order used by Yield.
func (d *Dataset) Shuffle(seed int64) {
	d.rng.Seed(seed)
	d.rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
	d.cursor = 0
}

// Name returns the name of the dataset.
func (d *Dataset) Name() string {
	return fmt.Sprintf("TrajectoryDataset(%s)", d.opts.Mode)
}

// Reset restarts the epoch without changing the order.
func (d *Dataset) Reset() {
	d.cursor = 0
}

// Yield returns the next batch of the epoch as gomlx tensors: inputs are
// sequences, lengths and mask; labels are xyz and time. The last batch of an
// epoch may be smaller than BatchSize. At the end of the epoch it returns
// io.EOF; call Reset (or Shuffle) to start the next one.
func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.cursor >= len(d.order) {
		return nil, nil, nil, io.EOF
	}
	end := min(d.cursor+d.opts.BatchSize, len(d.order))
	indices := d.order[d.cursor:end]
	d.cursor = end

	b, err := d.Batch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	t, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return d, t.Inputs(), t.Labels(), nil
}
