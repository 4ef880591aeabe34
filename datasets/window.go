package datasets

import (
	"fmt"
	"math/rand"
	"strings"
)

// Mode selects how windows are drawn from a trajectory.
type Mode int

const (
	// Train draws a random-length window anchored at the last frame.
	Train Mode = iota
	// Eval takes a fixed-length window anchored at the last frame.
	Eval
)

// ParseMode maps "train" (case-insensitive) to Train and anything else to
// Eval.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "train") {
		return Train
	}
	return Eval
}

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// Window is an inclusive index range [Start, End] into a trajectory's frames.
type Window struct {
	Start int
	End   int
}

// Len returns the number of frames covered by the window.
func (w Window) Len() int {
	return w.End - w.Start + 1
}

// WindowPolicy holds the window length bounds shared by training and
// evaluation.
type WindowPolicy struct {
	MinLen int
	MaxLen int
}

// Validate checks 1 <= MinLen <= MaxLen.
func (p WindowPolicy) Validate() error {
	if p.MinLen < 1 {
		return fmt.Errorf("%w: min_len must be >= 1, got %d", ErrInvalidArgument, p.MinLen)
	}
	if p.MinLen > p.MaxLen {
		return fmt.Errorf("%w: min_len %d > max_len %d", ErrInvalidArgument, p.MinLen, p.MaxLen)
	}
	return nil
}

// drawLen draws a window length uniformly from [MinLen, MaxLen].
func (p WindowPolicy) drawLen(rng *rand.Rand) int {
	return p.MinLen + rng.Intn(p.MaxLen-p.MinLen+1)
}

// TrainWindow draws a window length uniformly from [MinLen, MaxLen], clamps it
// to totalLen and anchors the window at the last frame. A trajectory shorter
// than MinLen yields the whole trajectory.
func (p WindowPolicy) TrainWindow(totalLen int, rng *rand.Rand) Window {
	seqLen := p.drawLen(rng)
	if seqLen > totalLen {
		seqLen = totalLen
	}
	end := totalLen - 1
	return Window{Start: end - seqLen + 1, End: end}
}

// EvalWindow returns the trailing MaxLen frames. When the trajectory is
// shorter than MaxLen the whole trajectory is used.
func (p WindowPolicy) EvalWindow(totalLen int) Window {
	start := totalLen - p.MaxLen
	if start < 0 {
		start = 0
	}
	return Window{Start: start, End: totalLen - 1}
}

// Sample dispatches to TrainWindow or EvalWindow. rng is only consulted in
// Train mode and may be nil in Eval mode.
func (p WindowPolicy) Sample(totalLen int, mode Mode, rng *rand.Rand) (Window, error) {
	if totalLen < 1 {
		return Window{}, fmt.Errorf("%w: cannot window an empty trajectory", ErrInvalidArgument)
	}
	if mode == Train {
		if rng == nil {
			return Window{}, fmt.Errorf("%w: train windows need a random source", ErrInvalidArgument)
		}
		return p.TrainWindow(totalLen, rng), nil
	}
	return p.EvalWindow(totalLen), nil
}
