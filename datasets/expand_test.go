package datasets

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/Noofbiz/shuttle/trajectory"
)

func TestReplicate_CountsAndCoverage(t *testing.T) {
	pool := makePool(10, 12, 5)
	entries, err := Replicate{Factor: 4}.Expand(pool, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(entries) != 40 {
		t.Fatalf("expected 40 entries, got %d", len(entries))
	}
	counts := make(map[*trajectory.Trajectory]int)
	for _, e := range entries {
		if e.Eager() {
			t.Fatalf("replicated entries must be lazy")
		}
		counts[e.Trajectory]++
	}
	for i, tr := range pool {
		if counts[tr] != 4 {
			t.Fatalf("trajectory %d replicated %d times, want 4", i, counts[tr])
		}
	}
}

func TestReplicate_ShuffleIsSeeded(t *testing.T) {
	pool := makePool(10, 12, 5)
	a, _ := Replicate{Factor: 3}.Expand(pool, rand.New(rand.NewSource(99)))
	b, _ := Replicate{Factor: 3}.Expand(pool, rand.New(rand.NewSource(99)))
	c, _ := Replicate{Factor: 3}.Expand(pool, rand.New(rand.NewSource(100)))
	same, differs := true, false
	for i := range a {
		if a[i].Trajectory != b[i].Trajectory {
			same = false
		}
		if a[i].Trajectory != c[i].Trajectory {
			differs = true
		}
	}
	if !same {
		t.Fatalf("same seed produced different orders")
	}
	if !differs {
		t.Fatalf("different seeds produced identical orders")
	}
}

func TestReplicate_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := (Replicate{Factor: 2}).Expand(nil, rng); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty input, got %v", err)
	}
	if _, err := (Replicate{Factor: 0}).Expand(makePool(2, 5, 0), rng); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero factor, got %v", err)
	}
	if _, err := (Replicate{Factor: 1}).Expand(makePool(2, 5, 0), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil rng, got %v", err)
	}
}

func TestInteriorWindows(t *testing.T) {
	short := makeTrajectory("short", 4, 0, 10, [3]float32{}, 0)
	long := makeTrajectory("long", 30, 0, 40, [3]float32{}, 1)
	policy := WindowPolicy{MinLen: 5, MaxLen: 10}

	entries, err := InteriorWindows{Factor: 50, Policy: policy}.Expand(
		[]*trajectory.Trajectory{short, long}, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("expected only the long trajectory's 50 replicas, got %d", len(entries))
	}
	interior := false
	for _, e := range entries {
		if e.Trajectory != long || !e.Eager() {
			t.Fatalf("unexpected entry %+v", e)
		}
		w := *e.Fixed
		if w.Start < 0 || w.End > long.Len()-1 || w.Len() < policy.MinLen || w.Len() > policy.MaxLen {
			t.Fatalf("window %+v violates policy", w)
		}
		if w.End != long.Len()-1 {
			interior = true
		}
	}
	if !interior {
		t.Fatalf("expected at least one interior window")
	}
}

func TestTrailingDownsample(t *testing.T) {
	pool := makePool(6, 8, 10)
	policy := WindowPolicy{MinLen: 5, MaxLen: 12}
	entries, err := TrailingDownsample{Policy: policy}.Expand(pool, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(entries) != len(pool) {
		t.Fatalf("expected one entry per trajectory, got %d", len(entries))
	}
	for _, e := range entries {
		w := *e.Fixed
		total := e.Trajectory.Len()
		if w.End != total-1 {
			t.Fatalf("window %+v not trailing for length %d", w, total)
		}
		if w.Len() > min(policy.MaxLen, total) || w.Len() < min(policy.MinLen, total) {
			t.Fatalf("window %+v length outside policy for total %d", w, total)
		}
	}
}
