package datasets

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/shuttle/trajectory"
)

// DefaultNoiseFraction is the label noise scale used when LabelNoise.Fraction
// is zero: noise std = label std / 5.
const DefaultNoiseFraction = 0.2

// LabelNoise optionally perturbs the raw x and y landing coordinates of
// training examples with Gaussian noise before normalization. Disabled by
// default.
type LabelNoise struct {
	Enabled bool

	// Fraction of the label std used as the noise std for x and y.
	Fraction float32
}

func (n LabelNoise) fraction() float32 {
	if n.Fraction == 0 {
		return DefaultNoiseFraction
	}
	return n.Fraction
}

// Example is one normalized training or evaluation example. It is computed on
// every access and never cached.
type Example struct {
	// Sequence holds Length normalized frames.
	Sequence [][]float32
	Length   int

	// LabelXYZ and LabelTime are normalized with the frozen label statistics.
	LabelXYZ  [trajectory.LabelDim]float32
	LabelTime float32

	// Window is the range of the full trajectory the sequence was cut from.
	Window Window
}

// Accessor turns entries into examples. It holds no mutable state: the result
// depends only on the entry, the frozen statistics and, in Train mode, the
// draws taken from rng. Accessor values are safe for concurrent use as long as
// each goroutine passes its own rng.
type Accessor struct {
	Policy WindowPolicy
	Mode   Mode
	Stats  *NormStats
	Noise  LabelNoise
}

// Access windows, slices and normalizes one entry. Lazy entries get a window
// from the policy according to the mode; eager entries use their fixed window.
func (a Accessor) Access(e Entry, rng *rand.Rand) (Example, error) {
	t := e.Trajectory
	if t == nil {
		return Example{}, fmt.Errorf("%w: entry has no trajectory", ErrInvalidArgument)
	}
	if a.Stats == nil {
		return Example{}, fmt.Errorf("%w: accessor has no normalization statistics", ErrInvalidArgument)
	}
	if t.FeatureWidth() != a.Stats.FeatureDim() {
		return Example{}, fmt.Errorf("%w: trajectory %q has feature width %d, stats expect %d",
			ErrInvalidArgument, t.Name, t.FeatureWidth(), a.Stats.FeatureDim())
	}

	var w Window
	if e.Fixed != nil {
		w = *e.Fixed
		if w.Start < 0 || w.End >= t.Len() || w.Start > w.End {
			return Example{}, fmt.Errorf("%w: fixed window [%d,%d] outside trajectory %q of length %d",
				ErrInvalidArgument, w.Start, w.End, t.Name, t.Len())
		}
	} else {
		var err error
		w, err = a.Policy.Sample(t.Len(), a.Mode, rng)
		if err != nil {
			return Example{}, err
		}
	}

	frames := t.Frames[w.Start : w.End+1]
	seq := make([][]float32, len(frames))
	for i, f := range frames {
		seq[i] = a.Stats.NormalizeFrame(nil, f)
	}

	xyz := t.LabelXYZ
	timeToDrop := t.TimeToDrop(w.End)
	if a.Mode == Train && a.Noise.Enabled {
		if rng == nil {
			return Example{}, fmt.Errorf("%w: label noise needs a random source", ErrInvalidArgument)
		}
		std := a.Stats.LabelStd()
		frac := a.Noise.fraction()
		xyz[0] += float32(rng.NormFloat64()) * std[0] * frac
		xyz[1] += float32(rng.NormFloat64()) * std[1] * frac
	}
	normXYZ, normTime := a.Stats.NormalizeLabel(xyz, timeToDrop)

	return Example{
		Sequence:  seq,
		Length:    len(seq),
		LabelXYZ:  normXYZ,
		LabelTime: normTime,
		Window:    w,
	}, nil
}
