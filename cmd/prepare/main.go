// Command prepare loads recorded shuttle trajectories, builds the training and
// evaluation datasets, freezes the normalization statistics and runs the
// batch loader over them. With -eval-stats or -eval-stats-label it instead
// evaluates every trajectory with statistics frozen by an earlier run.
// Optionally it mirrors trajectories and statistics to SQLite, exports
// evaluation windows to Parquet and writes diagnostic plots.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/Noofbiz/shuttle/config"
	"github.com/Noofbiz/shuttle/datasets"
	"github.com/Noofbiz/shuttle/export"
	"github.com/Noofbiz/shuttle/report"
	"github.com/Noofbiz/shuttle/store"
	"github.com/Noofbiz/shuttle/trajectory"
)

func main() {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	flags := config.NewFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := flags.Resolve(fs)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if flags.PrintEffective {
		data, err := cfg.JSON()
		if err != nil {
			log.Fatalf("failed to encode config: %v", err)
		}
		fmt.Println(string(data))
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	if _, err := run(cfg); err != nil {
		log.Fatalf("prepare failed: %v", err)
	}
}

// summary is what a run produced, returned for tests.
type summary struct {
	Seed          int64
	Train         int
	Eval          int
	Batches       int
	Stats         *datasets.NormStats
	StatsID       string
	Written       []string
	ParquetRows   int
	WindowLengths report.Summary
	TimesToDrop   report.Summary
}

func run(cfg *config.Config) (*summary, error) {
	seed := cfg.Training.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Printf("Using seed %d", seed)
	out := &summary{Seed: seed}

	var db *store.Store
	if cfg.Output.DBPath != "" {
		var err error
		db, err = store.New(cfg.Output.DBPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
	}

	samples, err := loadSamples(cfg, db)
	if err != nil {
		return nil, err
	}
	if cfg.EvalOnly() {
		return runEvalOnly(cfg, db, samples, seed, out)
	}

	trainSamples, evalSamples := split(samples, cfg.Data.EvalFraction, seed)
	out.Train, out.Eval = len(trainSamples), len(evalSamples)
	log.Printf("Split: %d train, %d eval trajectories", len(trainSamples), len(evalSamples))

	expander, err := newExpander(cfg)
	if err != nil {
		return nil, err
	}
	noise := datasets.LabelNoise{Enabled: cfg.Training.LabelNoise, Fraction: float32(cfg.Training.NoiseFraction)}
	trainDS, err := datasets.New(trainSamples, datasets.Options{
		MinLen:        cfg.Window.MinLen,
		MaxLen:        cfg.Window.MaxLen,
		Mode:          datasets.Train,
		NumSubsamples: cfg.Training.NumSubsamples,
		Seed:          seed,
		BatchSize:     cfg.Training.BatchSize,
		Expander:      expander,
		Noise:         noise,
	})
	if err != nil {
		return nil, fmt.Errorf("build train dataset: %w", err)
	}
	stats := trainDS.NormStats()
	out.Stats = stats
	log.Printf("Train dataset: %s with %d entries", trainDS.Name(), trainDS.Len())
	logStats(stats)

	if err := datasets.SaveNormStats(cfg.Output.StatsPath, stats); err != nil {
		return nil, err
	}
	log.Printf("Wrote normalization stats to %s", cfg.Output.StatsPath)
	if cfg.Output.StatsJSONPath != "" {
		data, err := stats.MarshalJSON()
		if err != nil {
			return nil, err
		}
		if err := writeFile(cfg.Output.StatsJSONPath, data); err != nil {
			return nil, err
		}
		log.Printf("Wrote normalization stats JSON to %s", cfg.Output.StatsJSONPath)
	}
	if db != nil {
		id, err := db.Stats().Save(cfg.Output.StatsLabel, stats)
		if err != nil {
			return nil, fmt.Errorf("store stats: %w", err)
		}
		out.StatsID = id
		log.Printf("Stored normalization stats %s under label %q", id, cfg.Output.StatsLabel)
	}

	loader, err := datasets.NewLoader(trainDS, seed)
	if err != nil {
		return nil, err
	}
	loader.BatchSize = cfg.Training.BatchSize
	loader.Workers = cfg.Loader.Workers
	loader.DropLast = cfg.Loader.DropLast
	loader.ProgressInterval = cfg.ProgressInterval()
	for epoch := range cfg.Training.Epochs {
		n, err := runEpoch(loader, epoch)
		if err != nil {
			return nil, fmt.Errorf("train epoch %d: %w", epoch, err)
		}
		out.Batches += n
	}

	exportDS := trainDS
	if len(evalSamples) > 0 {
		exportDS, err = evaluate(cfg, evalSamples, stats, seed)
		if err != nil {
			return nil, err
		}
	}
	if err := writeOutputs(cfg, exportDS, samples, seed, out); err != nil {
		return nil, err
	}
	return out, nil
}

// runEvalOnly evaluates every sample with statistics frozen by an earlier
// run. Nothing is trained and no statistics are written.
func runEvalOnly(cfg *config.Config, db *store.Store, samples []*trajectory.Trajectory, seed int64, out *summary) (*summary, error) {
	stats, err := frozenStats(cfg, db)
	if err != nil {
		return nil, err
	}
	out.Stats = stats
	out.Eval = len(samples)
	logStats(stats)

	evalDS, err := evaluate(cfg, samples, stats, seed)
	if err != nil {
		return nil, err
	}
	if err := writeOutputs(cfg, evalDS, samples, seed, out); err != nil {
		return nil, err
	}
	return out, nil
}

// frozenStats reads the statistics named by the eval section, either from a
// gob file or as the latest record under a label in the database.
func frozenStats(cfg *config.Config, db *store.Store) (*datasets.NormStats, error) {
	if cfg.Eval.StatsPath != "" {
		stats, err := datasets.LoadNormStats(cfg.Eval.StatsPath)
		if err != nil {
			return nil, fmt.Errorf("load frozen stats: %w", err)
		}
		log.Printf("Loaded normalization stats from %s", cfg.Eval.StatsPath)
		return stats, nil
	}
	if db == nil {
		return nil, errors.New("eval stats label set without a database")
	}
	rec, err := db.Stats().Latest(cfg.Eval.StatsLabel)
	if err != nil {
		return nil, fmt.Errorf("load stats %q from %s: %w", cfg.Eval.StatsLabel, db.Path(), err)
	}
	log.Printf("Loaded normalization stats %s (label %q, stored %s)", rec.ID, rec.Label, rec.CreatedAt.Format(time.RFC3339))
	return rec.Stats, nil
}

// evaluate builds the eval dataset over samples with stats and drains one
// loader epoch over it.
func evaluate(cfg *config.Config, samples []*trajectory.Trajectory, stats *datasets.NormStats, seed int64) (*datasets.Dataset, error) {
	evalDS, err := datasets.New(samples, datasets.Options{
		MinLen:    cfg.Window.MinLen,
		MaxLen:    cfg.Window.MaxLen,
		Mode:      datasets.Eval,
		Stats:     stats,
		Seed:      seed,
		BatchSize: cfg.Training.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("build eval dataset: %w", err)
	}
	log.Printf("Eval dataset: %s with %d entries", evalDS.Name(), evalDS.Len())
	evalLoader, err := datasets.NewLoader(evalDS, seed)
	if err != nil {
		return nil, err
	}
	evalLoader.BatchSize = cfg.Training.BatchSize
	evalLoader.Workers = cfg.Loader.Workers
	if _, err := runEpoch(evalLoader, 0); err != nil {
		return nil, fmt.Errorf("eval epoch: %w", err)
	}
	return evalDS, nil
}

// writeOutputs materializes the windows of ds and writes the parquet export
// and the plots, whichever are configured.
func writeOutputs(cfg *config.Config, ds *datasets.Dataset, samples []*trajectory.Trajectory, seed int64, out *summary) error {
	if cfg.Output.ParquetPath == "" && cfg.Output.PlotsDir == "" {
		return nil
	}
	rows, err := export.Rows(ds, rand.New(rand.NewSource(seed)))
	if err != nil {
		return fmt.Errorf("materialize windows: %w", err)
	}
	if cfg.Output.ParquetPath != "" {
		if err := export.WriteFile(cfg.Output.ParquetPath, rows); err != nil {
			return err
		}
		out.ParquetRows = len(rows)
		log.Printf("Wrote %d %s windows to %s", len(rows), ds.Mode(), cfg.Output.ParquetPath)
	}
	if cfg.Output.PlotsDir == "" {
		return nil
	}
	lengths := make([]float64, len(rows))
	times := make([]float64, len(rows))
	for i, r := range rows {
		lengths[i] = float64(r.Length)
		times[i] = float64(r.RawTime)
	}
	out.WindowLengths = report.Summarize(lengths)
	out.TimesToDrop = report.Summarize(times)
	log.Printf("[%s] window lengths: %s", ds.Mode(), out.WindowLengths)
	log.Printf("[%s] raw time to drop: %s", ds.Mode(), out.TimesToDrop)

	written, err := report.WriteAll(cfg.Output.PlotsDir, samples, rows)
	out.Written = written
	if err != nil {
		return fmt.Errorf("write plots: %w", err)
	}
	for _, p := range written {
		log.Printf("Wrote plot %s", p)
	}
	return nil
}

// loadSamples reads the data folder, or the database when no folder is
// configured. With both configured, newly seen trajectories are copied into
// the database.
func loadSamples(cfg *config.Config, db *store.Store) ([]*trajectory.Trajectory, error) {
	if cfg.Data.Dir == "" {
		if db == nil {
			return nil, errors.New("no data folder and no database configured")
		}
		samples, err := db.Trajectories().LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load trajectories from %s: %w", db.Path(), err)
		}
		log.Printf("Loaded %d trajectories from %s", len(samples), db.Path())
		return samples, nil
	}

	res, err := trajectory.LoadFolder(cfg.Data.Dir, trajectory.LoadOptions{
		ParseOptions: trajectory.ParseOptions{StrictWidth: cfg.Data.StrictWidth},
		Suffix:       cfg.Data.Suffix,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d trajectories from %s (%d skipped)", len(res.Trajectories), cfg.Data.Dir, len(res.Skipped))
	if err := res.Err(); err != nil {
		log.Printf("warning: skipped files: %v", err)
	}
	if len(res.Trajectories) == 0 {
		return nil, fmt.Errorf("no usable trajectories in %s", cfg.Data.Dir)
	}

	if db != nil {
		repo := db.Trajectories()
		added := 0
		for _, t := range res.Trajectories {
			if _, err := repo.GetByName(t.Name); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			if _, err := repo.Create(t); err != nil {
				return nil, fmt.Errorf("store trajectory %q: %w", t.Name, err)
			}
			added++
		}
		log.Printf("Stored %d new trajectories in %s", added, db.Path())
	}
	return res.Trajectories, nil
}

// split shuffles a copy of samples with seed and holds out
// round(len*evalFraction) of them for evaluation, keeping at least one
// training trajectory.
func split(samples []*trajectory.Trajectory, evalFraction float64, seed int64) (train, eval []*trajectory.Trajectory) {
	shuffled := append([]*trajectory.Trajectory(nil), samples...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	nEval := int(math.Round(float64(len(shuffled)) * evalFraction))
	nEval = min(nEval, len(shuffled)-1)
	nEval = max(nEval, 0)
	return shuffled[nEval:], shuffled[:nEval]
}

func newExpander(cfg *config.Config) (datasets.Expander, error) {
	policy := datasets.WindowPolicy{MinLen: cfg.Window.MinLen, MaxLen: cfg.Window.MaxLen}
	switch cfg.Training.Expander {
	case config.ExpanderReplicate:
		return datasets.Replicate{Factor: cfg.Training.NumSubsamples}, nil
	case config.ExpanderInterior:
		return datasets.InteriorWindows{Factor: cfg.Training.NumSubsamples, Policy: policy}, nil
	case config.ExpanderTrailing:
		return datasets.TrailingDownsample{Policy: policy}, nil
	}
	return nil, fmt.Errorf("unknown expander %q", cfg.Training.Expander)
}

// runEpoch drains one loader epoch and logs the tensor shapes of the first
// batch.
func runEpoch(l *datasets.Loader, epoch int) (int, error) {
	start := time.Now()
	batches := 0
	err := l.Epoch(epoch, func(batchNo int, b *datasets.Batch) error {
		batches++
		if batchNo != 0 {
			return nil
		}
		t, err := b.ToGomlxTensors()
		if err != nil {
			return err
		}
		log.Printf("[%s] epoch %d first batch: sequences %v, lengths %v, mask %v, xyz %v, time %v",
			l.DS.Mode(), epoch,
			t.Sequences.Shape().Dimensions, t.Lengths.Shape().Dimensions, t.Mask.Shape().Dimensions,
			t.LabelsXYZ.Shape().Dimensions, t.LabelsTime.Shape().Dimensions)
		return nil
	})
	if err != nil {
		return batches, err
	}
	log.Printf("[%s] epoch %d: %d batches in %s", l.DS.Mode(), epoch, batches, time.Since(start).Round(time.Millisecond))
	return batches, nil
}

func logStats(s *datasets.NormStats) {
	fm, fs, _, _ := s.Arrays()
	lm, ls := s.LabelMean(), s.LabelStd()
	log.Printf("Label mean [x y z t]: %v", lm)
	log.Printf("Label std  [x y z t]: %v", ls)
	log.Printf("Feature mean (first 3 of %d): %v", len(fm), fm[:min(3, len(fm))])
	log.Printf("Feature std  (first 3 of %d): %v", len(fs), fs[:min(3, len(fs))])
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
