package datasets

import (
	"errors"
	"math/rand"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"train": Train, "TRAIN": Train, " train ": Train, "test": Eval, "val": Eval, "": Eval}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Fatalf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTrainWindow_AnchoredAndInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := WindowPolicy{MinLen: 3, MaxLen: 12}
	seen := make(map[int]bool)
	for totalLen := 2; totalLen <= 20; totalLen++ {
		for range 200 {
			w, err := p.Sample(totalLen, Train, rng)
			if err != nil {
				t.Fatalf("Sample failed: %v", err)
			}
			if w.Start < 0 || w.Start > w.End || w.End > totalLen-1 {
				t.Fatalf("window %+v out of bounds for length %d", w, totalLen)
			}
			if w.End != totalLen-1 {
				t.Fatalf("window %+v not anchored at the last frame of %d", w, totalLen)
			}
			if w.Len() > p.MaxLen || (totalLen >= p.MinLen && w.Len() < p.MinLen) {
				t.Fatalf("window length %d outside policy for total %d", w.Len(), totalLen)
			}
			if totalLen == 20 {
				seen[w.Len()] = true
			}
		}
	}
	for l := p.MinLen; l <= p.MaxLen; l++ {
		if !seen[l] {
			t.Fatalf("length %d never drawn", l)
		}
	}
}

func TestTrainWindow_ShortTrajectoryUsesWholeRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := WindowPolicy{MinLen: 10, MaxLen: 50}

	// exactly MinLen frames
	for range 50 {
		w, err := p.Sample(10, Train, rng)
		if err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
		if w != (Window{Start: 0, End: 9}) {
			t.Fatalf("expected whole trajectory, got %+v", w)
		}
	}

	// shorter than MinLen
	w := p.TrainWindow(4, rng)
	if w != (Window{Start: 0, End: 3}) {
		t.Fatalf("expected whole trajectory, got %+v", w)
	}
}

func TestEvalWindow(t *testing.T) {
	p := WindowPolicy{MinLen: 5, MaxLen: 10}
	w, err := p.Sample(20, Eval, nil)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if w != (Window{Start: 10, End: 19}) {
		t.Fatalf("unexpected eval window %+v", w)
	}

	// shorter than MaxLen degrades to the whole trajectory
	if w := p.EvalWindow(6); w != (Window{Start: 0, End: 5}) {
		t.Fatalf("unexpected short eval window %+v", w)
	}
}

func TestWindowPolicy_Validate(t *testing.T) {
	bad := []WindowPolicy{{MinLen: 0, MaxLen: 5}, {MinLen: 6, MaxLen: 5}, {MinLen: -1, MaxLen: -1}}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", p, err)
		}
	}
	if err := (WindowPolicy{MinLen: 5, MaxLen: 5}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSample_Errors(t *testing.T) {
	p := WindowPolicy{MinLen: 1, MaxLen: 3}
	if _, err := p.Sample(0, Eval, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected error for empty trajectory, got %v", err)
	}
	if _, err := p.Sample(5, Train, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected error for missing rng, got %v", err)
	}
}
