package datasets

import (
	"math"
	"testing"

	"github.com/Noofbiz/shuttle/trajectory"
)

// makeTrajectory builds a trajectory with n frames whose ids start at firstID.
// Frame i, dimension d holds seed + i + d/10 so every frame is distinct.
func makeTrajectory(name string, n, firstID, drop int, xyz [3]float32, seed float32) *trajectory.Trajectory {
	t := &trajectory.Trajectory{
		Name:      name,
		DropFrame: drop,
		LabelXYZ:  xyz,
	}
	for i := range n {
		f := make([]float32, trajectory.FeatureDim)
		for d := range f {
			f[d] = seed + float32(i) + float32(d)/10
		}
		t.Frames = append(t.Frames, f)
		t.FrameIDs = append(t.FrameIDs, firstID+i)
	}
	return t
}

// makePool builds count trajectories with lengths cycling between minLen and
// minLen+spread.
func makePool(count, minLen, spread int) []*trajectory.Trajectory {
	pool := make([]*trajectory.Trajectory, count)
	for i := range pool {
		n := minLen + i%(spread+1)
		pool[i] = makeTrajectory("t", n, 0, n+3+i, [3]float32{float32(100 + i), float32(50 - i), float32(i % 3)}, float32(i))
	}
	return pool
}

// unitStats returns statistics that leave features untouched.
func unitStats(t *testing.T, labelMean, labelStd []float32) *NormStats {
	t.Helper()
	fm := make([]float32, trajectory.FeatureDim)
	fs := make([]float32, trajectory.FeatureDim)
	for i := range fs {
		fs[i] = 1
	}
	s, err := NewNormStats(fm, fs, labelMean, labelStd)
	if err != nil {
		t.Fatalf("NewNormStats failed: %v", err)
	}
	return s
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
