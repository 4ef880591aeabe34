// Package trajectory holds recorded pose trajectories and the parser that
// reads them from the per-event text files produced by the capture rig.
//
// A Trajectory is the full recording for one event: every observed frame of
// the player's pose (21 joints x 3 coordinates = 63 floats per frame), the
// frame ids the rig assigned to them, the frame at which the shuttle landed,
// and the landing coordinates. Trajectories are immutable once parsed and are
// shared read-only by everything downstream (expanders, accessors, loaders).
package trajectory

import (
	"errors"
	"fmt"
)

const (
	// FeatureDim is the number of floats recorded per frame.
	FeatureDim = 63

	// LabelDim is the number of landing coordinates (x, y, z).
	LabelDim = 3
)

// Trajectory is a full recorded sequence of per-frame pose vectors for one
// event, plus its landing ground truth.
type Trajectory struct {
	// Name identifies the source (usually the file base name). Informational.
	Name string

	// Frames holds one FeatureDim vector per observed frame.
	Frames [][]float32

	// FrameIDs holds the rig frame index of each entry of Frames. Strictly
	// increasing.
	FrameIDs []int

	// DropFrame is the frame index at which the shuttle landed. It is expected
	// to be >= the last frame id but that is not enforced.
	DropFrame int

	// LabelXYZ is the landing point.
	LabelXYZ [LabelDim]float32
}

// Len returns the number of recorded frames.
func (t *Trajectory) Len() int {
	return len(t.Frames)
}

// LastFrameID returns the id of the last recorded frame.
func (t *Trajectory) LastFrameID() int {
	return t.FrameIDs[len(t.FrameIDs)-1]
}

// TimeToDrop returns the number of frames between the frame at index end and
// the landing frame. It may be zero or negative for inconsistent recordings.
func (t *Trajectory) TimeToDrop(end int) float32 {
	return float32(t.DropFrame - t.FrameIDs[end])
}

// Validate checks the structural invariants of a trajectory: at least two
// frames, one frame id per frame, strictly increasing frame ids, and a
// consistent feature width.
func (t *Trajectory) Validate() error {
	if t == nil {
		return errors.New("trajectory is nil")
	}
	if len(t.Frames) < 2 {
		return fmt.Errorf("trajectory %q has %d frames, need at least 2", t.Name, len(t.Frames))
	}
	if len(t.Frames) != len(t.FrameIDs) {
		return fmt.Errorf("trajectory %q has %d frames but %d frame ids", t.Name, len(t.Frames), len(t.FrameIDs))
	}
	width := len(t.Frames[0])
	for i, f := range t.Frames {
		if len(f) != width {
			return fmt.Errorf("trajectory %q frame %d has width %d, expected %d", t.Name, i, len(f), width)
		}
	}
	for i := 1; i < len(t.FrameIDs); i++ {
		if t.FrameIDs[i] <= t.FrameIDs[i-1] {
			return fmt.Errorf("trajectory %q frame ids not strictly increasing at %d (%d after %d)",
				t.Name, i, t.FrameIDs[i], t.FrameIDs[i-1])
		}
	}
	return nil
}

// FeatureWidth returns the per-frame vector width (FeatureDim for parsed
// files).
func (t *Trajectory) FeatureWidth() int {
	if len(t.Frames) == 0 {
		return 0
	}
	return len(t.Frames[0])
}
