package datasets

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAccess_EvalEndToEnd(t *testing.T) {
	tr := makeTrajectory("e2e", 20, 0, 25, [3]float32{100, 50, 0}, 0)
	stats := unitStats(t, []float32{10, 20, 0, 4}, []float32{2, 5, 1, 2})
	acc := Accessor{Policy: WindowPolicy{MinLen: 5, MaxLen: 10}, Mode: Eval, Stats: stats}

	ex, err := acc.Access(Entry{Trajectory: tr}, nil)
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if ex.Window != (Window{Start: 10, End: 19}) {
		t.Fatalf("unexpected window %+v", ex.Window)
	}
	if ex.Length != 10 || len(ex.Sequence) != 10 {
		t.Fatalf("unexpected length %d/%d", ex.Length, len(ex.Sequence))
	}
	// raw time label 25 - 19 = 6, normalized (6-4)/2
	if ex.LabelTime != 1 {
		t.Fatalf("expected normalized time 1, got %v", ex.LabelTime)
	}
	if diff := cmp.Diff([3]float32{45, 6, 0}, ex.LabelXYZ); diff != "" {
		t.Fatalf("label mismatch (-want +got):\n%s", diff)
	}
	// unit stats: sequence equals the raw frames 10..19
	if diff := cmp.Diff(tr.Frames[10:20], ex.Sequence); diff != "" {
		t.Fatalf("sequence mismatch (-want +got):\n%s", diff)
	}
	// the trajectory itself must not be modified by normalization
	if tr.Frames[10][0] != 10 {
		t.Fatalf("trajectory mutated: %v", tr.Frames[10][0])
	}
}

func TestAccess_NormalizesFeatures(t *testing.T) {
	tr := makeTrajectory("norm", 6, 0, 8, [3]float32{}, 1)
	fm := make([]float32, 63)
	fs := make([]float32, 63)
	for i := range fm {
		fm[i] = 1
		fs[i] = 2
	}
	stats, err := NewNormStats(fm, fs, []float32{0, 0, 0, 0}, []float32{1, 1, 1, 1})
	if err != nil {
		t.Fatalf("NewNormStats failed: %v", err)
	}
	acc := Accessor{Policy: WindowPolicy{MinLen: 2, MaxLen: 3}, Mode: Eval, Stats: stats}
	ex, err := acc.Access(Entry{Trajectory: tr}, nil)
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	for i, f := range ex.Sequence {
		raw := tr.Frames[ex.Window.Start+i]
		for d := range f {
			want := (raw[d] - 1) / 2
			if f[d] != want {
				t.Fatalf("frame %d dim %d: got %v want %v", i, d, f[d], want)
			}
		}
	}
	if ex.LabelTime != 8-5 {
		t.Fatalf("expected raw time 3 with identity label stats, got %v", ex.LabelTime)
	}
}

func TestAccess_TrainWindowsAreAnchored(t *testing.T) {
	tr := makeTrajectory("train", 30, 100, 140, [3]float32{1, 2, 3}, 0)
	stats := unitStats(t, []float32{0, 0, 0, 0}, []float32{1, 1, 1, 1})
	acc := Accessor{Policy: WindowPolicy{MinLen: 5, MaxLen: 15}, Mode: Train, Stats: stats}
	rng := rand.New(rand.NewSource(8))
	for range 100 {
		ex, err := acc.Access(Entry{Trajectory: tr}, rng)
		if err != nil {
			t.Fatalf("Access failed: %v", err)
		}
		if ex.Window.End != 29 || ex.Length < 5 || ex.Length > 15 {
			t.Fatalf("unexpected window %+v", ex.Window)
		}
		// the last frame id is always 129, so time to drop is always 11
		if ex.LabelTime != 11 {
			t.Fatalf("expected time 11, got %v", ex.LabelTime)
		}
	}
}

func TestAccess_EagerEntryUsesFixedWindow(t *testing.T) {
	tr := makeTrajectory("eager", 20, 0, 30, [3]float32{}, 0)
	stats := unitStats(t, []float32{0, 0, 0, 0}, []float32{1, 1, 1, 1})
	acc := Accessor{Policy: WindowPolicy{MinLen: 5, MaxLen: 10}, Mode: Train, Stats: stats}

	ex, err := acc.Access(Entry{Trajectory: tr, Fixed: &Window{Start: 3, End: 8}}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if ex.Window != (Window{Start: 3, End: 8}) || ex.Length != 6 {
		t.Fatalf("fixed window not honoured: %+v", ex.Window)
	}
	if ex.LabelTime != 30-8 {
		t.Fatalf("expected time 22, got %v", ex.LabelTime)
	}

	_, err = acc.Access(Entry{Trajectory: tr, Fixed: &Window{Start: 15, End: 20}}, nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for out-of-range fixed window, got %v", err)
	}
}

func TestAccess_LabelNoise(t *testing.T) {
	tr := makeTrajectory("noise", 12, 0, 20, [3]float32{10, 20, 30}, 0)
	stats := unitStats(t, []float32{0, 0, 0, 0}, []float32{5, 5, 5, 1})
	entry := Entry{Trajectory: tr, Fixed: &Window{Start: 2, End: 11}}
	policy := WindowPolicy{MinLen: 5, MaxLen: 10}
	noise := LabelNoise{Enabled: true}

	clean, err := Accessor{Policy: policy, Mode: Train, Stats: stats}.Access(entry, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	noisy, err := Accessor{Policy: policy, Mode: Train, Stats: stats, Noise: noise}.Access(entry, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if noisy.LabelXYZ[0] == clean.LabelXYZ[0] && noisy.LabelXYZ[1] == clean.LabelXYZ[1] {
		t.Fatalf("expected noise on x or y, got %v", noisy.LabelXYZ)
	}
	if noisy.LabelXYZ[2] != clean.LabelXYZ[2] || noisy.LabelTime != clean.LabelTime {
		t.Fatalf("noise must only touch x and y: clean=%v noisy=%v", clean, noisy)
	}

	evalEx, err := Accessor{Policy: policy, Mode: Eval, Stats: stats, Noise: noise}.Access(Entry{Trajectory: tr}, nil)
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if evalEx.LabelXYZ != [3]float32{2, 4, 6} {
		t.Fatalf("eval mode must ignore noise, got %v", evalEx.LabelXYZ)
	}
}

func TestAccess_Errors(t *testing.T) {
	tr := makeTrajectory("err", 5, 0, 8, [3]float32{}, 0)
	policy := WindowPolicy{MinLen: 2, MaxLen: 3}
	if _, err := (Accessor{Policy: policy, Mode: Eval}).Access(Entry{Trajectory: tr}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected error without stats, got %v", err)
	}
	narrow, err := NewNormStats([]float32{0}, []float32{1}, []float32{0, 0, 0, 0}, []float32{1, 1, 1, 1})
	if err != nil {
		t.Fatalf("NewNormStats failed: %v", err)
	}
	if _, err := (Accessor{Policy: policy, Mode: Eval, Stats: narrow}).Access(Entry{Trajectory: tr}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected error for feature width mismatch, got %v", err)
	}
}
