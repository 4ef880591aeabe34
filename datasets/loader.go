package datasets

import (
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Loader produces batches from a Dataset with a pool of workers. Only the
// accessor step runs in parallel: workers share the dataset's entries and
// frozen statistics read-only, and each worker owns a random source seeded
// from (Seed, epoch, batch, worker), so a run is reproducible for a fixed
// Seed and Workers and no two workers draw correlated windows.
type Loader struct {
	DS *Dataset

	BatchSize int
	// Workers is the pool size. Zero means runtime.NumCPU().
	Workers int
	Seed    int64
	// DropLast skips the final short batch of an epoch.
	DropLast bool
	// Shuffle visits entries in a fresh random order every epoch.
	Shuffle bool

	// ProgressInterval controls how often Epoch logs progress. Zero disables
	// progress logging.
	ProgressInterval time.Duration
}

// NewLoader creates a loader with the dataset's batch size and one worker per
// CPU.
func NewLoader(ds *Dataset, seed int64) (*Loader, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: dataset cannot be nil", ErrInvalidArgument)
	}
	return &Loader{
		DS:        ds,
		BatchSize: ds.opts.BatchSize,
		Seed:      seed,
		Shuffle:   ds.Mode() == Train,
	}, nil
}

func (l *Loader) workers(n int) int {
	w := l.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	return max(w, 1)
}

// Order returns the entry visiting order for an epoch.
func (l *Loader) Order(epoch int) []int {
	n := l.DS.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		rng := rand.New(rand.NewSource(mixSeed(l.Seed, int64(epoch), -1, -1)))
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// Epoch collates every batch of one epoch and hands them to fn in order. It
// stops at the first error from a worker or from fn.
func (l *Loader) Epoch(epoch int, fn func(batchNo int, b *Batch) error) error {
	if l.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidArgument, l.BatchSize)
	}
	order := l.Order(epoch)
	total := len(order) / l.BatchSize
	if !l.DropLast && len(order)%l.BatchSize != 0 {
		total++
	}

	var done int64
	if l.ProgressInterval > 0 {
		ticker := time.NewTicker(l.ProgressInterval)
		stopProgress := make(chan struct{})
		defer func() {
			close(stopProgress)
		}()
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					d := atomic.LoadInt64(&done)
					log.Printf("[Loader] epoch %d progress: %d/%d batches", epoch, d, total)
				case <-stopProgress:
					return
				}
			}
		}()
	}

	for batchNo := range total {
		start := batchNo * l.BatchSize
		end := min(start+l.BatchSize, len(order))
		examples, err := l.Examples(epoch, batchNo, order[start:end])
		if err != nil {
			return err
		}
		b, err := Collate(examples)
		if err != nil {
			return fmt.Errorf("collate batch %d: %w", batchNo, err)
		}
		if err := fn(batchNo, b); err != nil {
			return err
		}
		atomic.AddInt64(&done, 1)
	}
	return nil
}

// Examples computes the examples for indices in parallel. Worker w handles
// positions w, w+W, w+2W, ... with its own random source, and writes each
// result to its position so the output order matches indices.
func (l *Loader) Examples(epoch, batchNo int, indices []int) ([]Example, error) {
	n := len(indices)
	out := make([]Example, n)
	if n == 0 {
		return out, nil
	}
	workers := l.workers(n)
	acc := l.DS.Accessor()

	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := range workers {
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(mixSeed(l.Seed, int64(epoch), int64(batchNo), int64(w))))
			for pos := w; pos < n; pos += workers {
				idx := indices[pos]
				e, err := l.DS.Entry(idx)
				if err != nil {
					errCh <- err
					return
				}
				ex, err := acc.Access(e, rng)
				if err != nil {
					errCh <- fmt.Errorf("example %d: %w", idx, err)
					return
				}
				out[pos] = ex
			}
		}()
	}
	wg.Wait()
	close(errCh)

	// If any worker reported an error, return the first one.
	if err, ok := <-errCh; ok {
		return nil, err
	}
	return out, nil
}

// mixSeed derives an independent seed from a base seed and a coordinate using
// the splitmix64 finalizer.
func mixSeed(seed int64, parts ...int64) int64 {
	z := uint64(seed)
	for _, p := range parts {
		z += 0x9e3779b97f4a7c15 + uint64(p)
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
	}
	return int64(z)
}
