// Package config holds the settings of the prepare pipeline. Values come from
// built-in defaults, optionally overlaid by a JSON file, and finally by
// command-line flags that were set explicitly.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// defaultConfigJSON is the built-in configuration. A file passed with -config
// only needs to name the keys it changes.
const defaultConfigJSON = `{
  "data": {
    "dir": "data",
    "suffix": ".txt",
    "strict_width": false,
    "eval_fraction": 0.2
  },
  "window": {
    "min_len": 10,
    "max_len": 50
  },
  "training": {
    "expander": "replicate",
    "num_subsamples": 5,
    "batch_size": 32,
    "seed": 0,
    "epochs": 1,
    "label_noise": false,
    "noise_fraction": 0.2
  },
  "loader": {
    "workers": 0,
    "drop_last": false,
    "progress_interval_seconds": 3
  },
  "output": {
    "stats_path": "output/norm_stats.gob",
    "stats_json_path": "",
    "stats_label": "default",
    "db_path": "",
    "parquet_path": "",
    "plots_dir": ""
  },
  "eval": {
    "stats_path": "",
    "stats_label": ""
  }
}
`

// Expander names accepted in training.expander.
const (
	ExpanderReplicate = "replicate"
	ExpanderInterior  = "interior"
	ExpanderTrailing  = "trailing"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

type Data struct {
	Dir          string  `json:"dir"`
	Suffix       string  `json:"suffix"`
	StrictWidth  bool    `json:"strict_width"`
	EvalFraction float64 `json:"eval_fraction"`
}

type Window struct {
	MinLen int `json:"min_len"`
	MaxLen int `json:"max_len"`
}

type Training struct {
	Expander      string  `json:"expander"`
	NumSubsamples int     `json:"num_subsamples"`
	BatchSize     int     `json:"batch_size"`
	Seed          int64   `json:"seed"`
	Epochs        int     `json:"epochs"`
	LabelNoise    bool    `json:"label_noise"`
	NoiseFraction float64 `json:"noise_fraction"`
}

type Loader struct {
	Workers                 int  `json:"workers"`
	DropLast                bool `json:"drop_last"`
	ProgressIntervalSeconds int  `json:"progress_interval_seconds"`
}

// Output paths. Empty paths disable the corresponding output, except
// StatsPath which is always written.
type Output struct {
	StatsPath     string `json:"stats_path"`
	StatsJSONPath string `json:"stats_json_path"`
	StatsLabel    string `json:"stats_label"`
	DBPath        string `json:"db_path"`
	ParquetPath   string `json:"parquet_path"`
	PlotsDir      string `json:"plots_dir"`
}

// Eval selects previously frozen statistics. Setting either field switches
// the run to evaluation only: every loaded trajectory is evaluated with those
// statistics and no training dataset is built. StatsLabel reads the latest
// statistics stored under that label in output.db_path.
type Eval struct {
	StatsPath  string `json:"stats_path"`
	StatsLabel string `json:"stats_label"`
}

// Config is the full pipeline configuration.
type Config struct {
	Data     Data     `json:"data"`
	Window   Window   `json:"window"`
	Training Training `json:"training"`
	Loader   Loader   `json:"loader"`
	Output   Output   `json:"output"`
	Eval     Eval     `json:"eval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	if err := json.Unmarshal([]byte(defaultConfigJSON), &c); err != nil {
		panic(fmt.Sprintf("config: bad built-in defaults: %v", err))
	}
	return &c
}

// Load reads path and overlays it onto the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	if c.Data.Dir == "" && c.Output.DBPath == "" {
		problems = append(problems, "data.dir or output.db_path must be set")
	}
	if c.Data.EvalFraction < 0 || c.Data.EvalFraction >= 1 {
		problems = append(problems, fmt.Sprintf("data.eval_fraction must be in [0, 1), got %v", c.Data.EvalFraction))
	}
	if c.Window.MinLen < 1 {
		problems = append(problems, fmt.Sprintf("window.min_len must be >= 1, got %d", c.Window.MinLen))
	}
	if c.Window.MaxLen < c.Window.MinLen {
		problems = append(problems, fmt.Sprintf("window.max_len (%d) must be >= window.min_len (%d)", c.Window.MaxLen, c.Window.MinLen))
	}
	switch c.Training.Expander {
	case ExpanderReplicate, ExpanderInterior, ExpanderTrailing:
	default:
		problems = append(problems, fmt.Sprintf("training.expander must be one of %s, %s, %s; got %q",
			ExpanderReplicate, ExpanderInterior, ExpanderTrailing, c.Training.Expander))
	}
	if c.Training.NumSubsamples < 1 {
		problems = append(problems, fmt.Sprintf("training.num_subsamples must be >= 1, got %d", c.Training.NumSubsamples))
	}
	if c.Training.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("training.batch_size must be >= 1, got %d", c.Training.BatchSize))
	}
	if c.Training.Epochs < 0 {
		problems = append(problems, fmt.Sprintf("training.epochs must be >= 0, got %d", c.Training.Epochs))
	}
	if c.Training.NoiseFraction < 0 {
		problems = append(problems, fmt.Sprintf("training.noise_fraction must be >= 0, got %v", c.Training.NoiseFraction))
	}
	if c.Loader.Workers < 0 {
		problems = append(problems, fmt.Sprintf("loader.workers must be >= 0, got %d", c.Loader.Workers))
	}
	if c.Loader.ProgressIntervalSeconds < 0 {
		problems = append(problems, fmt.Sprintf("loader.progress_interval_seconds must be >= 0, got %d", c.Loader.ProgressIntervalSeconds))
	}
	if c.Output.StatsPath == "" {
		problems = append(problems, "output.stats_path must be set")
	}
	if c.Eval.StatsPath != "" && c.Eval.StatsLabel != "" {
		problems = append(problems, "eval.stats_path and eval.stats_label are mutually exclusive")
	}
	if c.Eval.StatsLabel != "" && c.Output.DBPath == "" {
		problems = append(problems, "eval.stats_label requires output.db_path")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// EvalOnly reports whether the run evaluates with frozen statistics instead of
// training.
func (c *Config) EvalOnly() bool {
	return c.Eval.StatsPath != "" || c.Eval.StatsLabel != ""
}

// ProgressInterval returns the loader progress interval as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Loader.ProgressIntervalSeconds) * time.Second
}

// JSON returns the indented JSON form of c.
func (c *Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Flags binds command-line flags for every setting. After the flag set is
// parsed, Apply copies the explicitly set flags onto a config, so flags win
// over JSON and JSON wins over defaults.
type Flags struct {
	// Path is the -config file, empty when not given.
	Path string
	// PrintEffective asks the caller to print the merged config and exit.
	PrintEffective bool

	values Config
	apply  map[string]func(dst *Config)
}

// NewFlags registers the settings flags on fs.
func NewFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{apply: map[string]func(*Config){}}
	v := &f.values
	d := Default()

	fs.StringVar(&f.Path, "config", "", "JSON config file overlaid onto the defaults")
	fs.BoolVar(&f.PrintEffective, "print-effective-config", false, "print the merged config as JSON and exit")

	f.str(fs, "data", d.Data.Dir, "folder of trajectory files", &v.Data.Dir, func(c *Config) { c.Data.Dir = v.Data.Dir })
	f.str(fs, "suffix", d.Data.Suffix, "trajectory file suffix", &v.Data.Suffix, func(c *Config) { c.Data.Suffix = v.Data.Suffix })
	f.boolean(fs, "strict-width", d.Data.StrictWidth, "reject rows wider than the feature width", &v.Data.StrictWidth, func(c *Config) { c.Data.StrictWidth = v.Data.StrictWidth })
	f.float(fs, "eval-fraction", d.Data.EvalFraction, "fraction of trajectories held out for evaluation", &v.Data.EvalFraction, func(c *Config) { c.Data.EvalFraction = v.Data.EvalFraction })

	f.integer(fs, "min-len", d.Window.MinLen, "minimum training window length", &v.Window.MinLen, func(c *Config) { c.Window.MinLen = v.Window.MinLen })
	f.integer(fs, "max-len", d.Window.MaxLen, "maximum window length", &v.Window.MaxLen, func(c *Config) { c.Window.MaxLen = v.Window.MaxLen })

	f.str(fs, "expander", d.Training.Expander, "training pool expander: replicate, interior or trailing", &v.Training.Expander, func(c *Config) { c.Training.Expander = v.Training.Expander })
	f.integer(fs, "num-subsamples", d.Training.NumSubsamples, "training replication factor", &v.Training.NumSubsamples, func(c *Config) { c.Training.NumSubsamples = v.Training.NumSubsamples })
	f.integer(fs, "batch-size", d.Training.BatchSize, "batch size", &v.Training.BatchSize, func(c *Config) { c.Training.BatchSize = v.Training.BatchSize })
	fs.Int64Var(&v.Training.Seed, "seed", d.Training.Seed, "random seed (0 = time based)")
	f.apply["seed"] = func(c *Config) { c.Training.Seed = v.Training.Seed }
	f.integer(fs, "epochs", d.Training.Epochs, "loader epochs to run", &v.Training.Epochs, func(c *Config) { c.Training.Epochs = v.Training.Epochs })
	f.boolean(fs, "label-noise", d.Training.LabelNoise, "add gaussian noise to training landing x/y", &v.Training.LabelNoise, func(c *Config) { c.Training.LabelNoise = v.Training.LabelNoise })
	f.float(fs, "noise-fraction", d.Training.NoiseFraction, "label noise std as a fraction of the label std", &v.Training.NoiseFraction, func(c *Config) { c.Training.NoiseFraction = v.Training.NoiseFraction })

	f.integer(fs, "workers", d.Loader.Workers, "loader workers (0 = NumCPU)", &v.Loader.Workers, func(c *Config) { c.Loader.Workers = v.Loader.Workers })
	f.boolean(fs, "drop-last", d.Loader.DropLast, "drop the final short batch", &v.Loader.DropLast, func(c *Config) { c.Loader.DropLast = v.Loader.DropLast })
	f.integer(fs, "progress-interval", d.Loader.ProgressIntervalSeconds, "seconds between loader progress logs (0 = off)", &v.Loader.ProgressIntervalSeconds, func(c *Config) { c.Loader.ProgressIntervalSeconds = v.Loader.ProgressIntervalSeconds })

	f.str(fs, "stats", d.Output.StatsPath, "output path of the gob normalization stats", &v.Output.StatsPath, func(c *Config) { c.Output.StatsPath = v.Output.StatsPath })
	f.str(fs, "stats-json", d.Output.StatsJSONPath, "optional JSON copy of the normalization stats", &v.Output.StatsJSONPath, func(c *Config) { c.Output.StatsJSONPath = v.Output.StatsJSONPath })
	f.str(fs, "stats-label", d.Output.StatsLabel, "label the stats are stored under in the database", &v.Output.StatsLabel, func(c *Config) { c.Output.StatsLabel = v.Output.StatsLabel })
	f.str(fs, "db", d.Output.DBPath, "optional sqlite database for trajectories and stats", &v.Output.DBPath, func(c *Config) { c.Output.DBPath = v.Output.DBPath })
	f.str(fs, "parquet", d.Output.ParquetPath, "optional parquet export of evaluation windows", &v.Output.ParquetPath, func(c *Config) { c.Output.ParquetPath = v.Output.ParquetPath })
	f.str(fs, "plots", d.Output.PlotsDir, "optional directory for diagnostic plots", &v.Output.PlotsDir, func(c *Config) { c.Output.PlotsDir = v.Output.PlotsDir })

	f.str(fs, "eval-stats", d.Eval.StatsPath, "evaluate only, with the gob normalization stats at this path", &v.Eval.StatsPath, func(c *Config) { c.Eval.StatsPath = v.Eval.StatsPath })
	f.str(fs, "eval-stats-label", d.Eval.StatsLabel, "evaluate only, with the latest stats stored under this label in -db", &v.Eval.StatsLabel, func(c *Config) { c.Eval.StatsLabel = v.Eval.StatsLabel })

	return f
}

func (f *Flags) str(fs *flag.FlagSet, name, def, usage string, p *string, apply func(*Config)) {
	fs.StringVar(p, name, def, usage)
	f.apply[name] = apply
}

func (f *Flags) integer(fs *flag.FlagSet, name string, def int, usage string, p *int, apply func(*Config)) {
	fs.IntVar(p, name, def, usage)
	f.apply[name] = apply
}

func (f *Flags) float(fs *flag.FlagSet, name string, def float64, usage string, p *float64, apply func(*Config)) {
	fs.Float64Var(p, name, def, usage)
	f.apply[name] = apply
}

func (f *Flags) boolean(fs *flag.FlagSet, name string, def bool, usage string, p *bool, apply func(*Config)) {
	fs.BoolVar(p, name, def, usage)
	f.apply[name] = apply
}

// Apply copies every flag that was set on fs onto c.
func (f *Flags) Apply(fs *flag.FlagSet, c *Config) {
	fs.Visit(func(fl *flag.Flag) {
		if apply, ok := f.apply[fl.Name]; ok {
			apply(c)
		}
	})
}

// Resolve builds the effective config: defaults, then the -config file if
// any, then explicitly set flags. fs must already be parsed.
func (f *Flags) Resolve(fs *flag.FlagSet) (*Config, error) {
	c := Default()
	if f.Path != "" {
		var err error
		c, err = Load(f.Path)
		if err != nil {
			return nil, err
		}
	}
	f.Apply(fs, c)
	return c, nil
}
