package datasets

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/shuttle/trajectory"
)

const (
	// StdEpsilon is added to every standard deviation so normalization never
	// divides by zero.
	StdEpsilon = 1e-6

	// LabelStatsDim is the number of label dimensions: x, y, z, time to drop.
	LabelStatsDim = trajectory.LabelDim + 1
)

// NormStats is the frozen set of normalization statistics computed from a
// training pool. It is immutable: accessors return copies, and the same value
// is shared by every dataset (train or eval) that must reproduce the training
// scaling.
type NormStats struct {
	featureMean []float32
	featureStd  []float32
	labelMean   [LabelStatsDim]float32
	labelStd    [LabelStatsDim]float32
}

// NewNormStats builds a NormStats from the four arrays returned by Arrays (or
// persisted elsewhere). All four are required; a missing or inconsistent array
// is ErrInvalidArgument, as is any non-positive or non-finite std.
func NewNormStats(featureMean, featureStd, labelMean, labelStd []float32) (*NormStats, error) {
	switch {
	case len(featureMean) == 0:
		return nil, fmt.Errorf("%w: feature mean is missing", ErrInvalidArgument)
	case len(featureStd) == 0:
		return nil, fmt.Errorf("%w: feature std is missing", ErrInvalidArgument)
	case len(labelMean) == 0:
		return nil, fmt.Errorf("%w: label mean is missing", ErrInvalidArgument)
	case len(labelStd) == 0:
		return nil, fmt.Errorf("%w: label std is missing", ErrInvalidArgument)
	}
	if len(featureMean) != len(featureStd) {
		return nil, fmt.Errorf("%w: feature mean has %d dims, std has %d", ErrInvalidArgument, len(featureMean), len(featureStd))
	}
	if len(labelMean) != LabelStatsDim || len(labelStd) != LabelStatsDim {
		return nil, fmt.Errorf("%w: label stats need %d dims, got mean=%d std=%d",
			ErrInvalidArgument, LabelStatsDim, len(labelMean), len(labelStd))
	}
	if err := checkStd("feature", featureStd); err != nil {
		return nil, err
	}
	if err := checkStd("label", labelStd); err != nil {
		return nil, err
	}

	s := &NormStats{
		featureMean: append([]float32(nil), featureMean...),
		featureStd:  append([]float32(nil), featureStd...),
	}
	copy(s.labelMean[:], labelMean)
	copy(s.labelStd[:], labelStd)
	return s, nil
}

func checkStd(kind string, std []float32) error {
	for i, v := range std {
		if !(v > 0) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: %s std[%d] = %v must be positive and finite", ErrInvalidArgument, kind, i, v)
		}
	}
	return nil
}

func checkMean(kind string, mean []float32) error {
	for i, v := range mean {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: %s mean[%d] = %v is not finite", ErrInvalidArgument, kind, i, v)
		}
	}
	return nil
}

// EstimateNormStats computes the statistics over a training pool. Feature
// statistics cover every frame of every entry's full trajectory (not the
// entry's window); label statistics cover one [x, y, z, drop - last frame id]
// vector per entry, again taken from the full trajectory. Standard deviations
// are population deviations plus StdEpsilon.
// Neither part depends on windows, so replicating the pool leaves the values
// unchanged.
func EstimateNormStats(entries []Entry) (*NormStats, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: cannot estimate statistics from zero entries", ErrInvalidArgument)
	}

	width := entries[0].Trajectory.FeatureWidth()
	if width == 0 {
		return nil, fmt.Errorf("%w: first entry has no frames", ErrInvalidArgument)
	}
	totalFrames := 0
	for i, e := range entries {
		if e.Trajectory.FeatureWidth() != width {
			return nil, fmt.Errorf("%w: entry %d has feature width %d, expected %d",
				ErrInvalidArgument, i, e.Trajectory.FeatureWidth(), width)
		}
		totalFrames += e.Trajectory.Len()
	}

	// Column-major copy so each dimension can be handed to gonum as one slice.
	columns := make([][]float64, width)
	for d := range columns {
		columns[d] = make([]float64, 0, totalFrames)
	}
	labels := make([][]float64, LabelStatsDim)
	for d := range labels {
		labels[d] = make([]float64, len(entries))
	}
	for i, e := range entries {
		t := e.Trajectory
		for _, frame := range t.Frames {
			for d, v := range frame {
				columns[d] = append(columns[d], float64(v))
			}
		}
		for d := range trajectory.LabelDim {
			labels[d][i] = float64(t.LabelXYZ[d])
		}
		labels[trajectory.LabelDim][i] = float64(t.DropFrame - t.LastFrameID())
	}

	s := &NormStats{
		featureMean: make([]float32, width),
		featureStd:  make([]float32, width),
	}
	for d, col := range columns {
		mean, std := stat.PopMeanStdDev(col, nil)
		s.featureMean[d] = float32(mean)
		s.featureStd[d] = float32(std + StdEpsilon)
	}
	for d, col := range labels {
		mean, std := stat.PopMeanStdDev(col, nil)
		s.labelMean[d] = float32(mean)
		s.labelStd[d] = float32(std + StdEpsilon)
	}
	if err := checkMean("feature", s.featureMean); err != nil {
		return nil, err
	}
	if err := checkMean("label", s.labelMean[:]); err != nil {
		return nil, err
	}
	if err := checkStd("feature", s.featureStd); err != nil {
		return nil, err
	}
	if err := checkStd("label", s.labelStd[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// FeatureDim returns the per-frame width the statistics were computed for.
func (s *NormStats) FeatureDim() int {
	return len(s.featureMean)
}

// Arrays returns copies of feature mean, feature std, label mean and label std,
// in that order. Pass them to NewNormStats to rebuild an equal value.
func (s *NormStats) Arrays() (featureMean, featureStd, labelMean, labelStd []float32) {
	return append([]float32(nil), s.featureMean...),
		append([]float32(nil), s.featureStd...),
		append([]float32(nil), s.labelMean[:]...),
		append([]float32(nil), s.labelStd[:]...)
}

// LabelMean returns the label means [x, y, z, time].
func (s *NormStats) LabelMean() [LabelStatsDim]float32 { return s.labelMean }

// LabelStd returns the label standard deviations [x, y, z, time].
func (s *NormStats) LabelStd() [LabelStatsDim]float32 { return s.labelStd }

// NormalizeFrame writes (src - mean) / std into dst and returns it. dst is
// allocated when nil or too short.
func (s *NormStats) NormalizeFrame(dst, src []float32) []float32 {
	dst = ensureLen(dst, len(src))
	for i, v := range src {
		dst[i] = (v - s.featureMean[i]) / s.featureStd[i]
	}
	return dst
}

// DenormalizeFrame is the inverse of NormalizeFrame.
func (s *NormStats) DenormalizeFrame(dst, src []float32) []float32 {
	dst = ensureLen(dst, len(src))
	for i, v := range src {
		dst[i] = v*s.featureStd[i] + s.featureMean[i]
	}
	return dst
}

// NormalizeLabel scales a raw landing point and time to drop.
func (s *NormStats) NormalizeLabel(xyz [trajectory.LabelDim]float32, timeToDrop float32) ([trajectory.LabelDim]float32, float32) {
	var out [trajectory.LabelDim]float32
	for d := range out {
		out[d] = (xyz[d] - s.labelMean[d]) / s.labelStd[d]
	}
	const td = trajectory.LabelDim
	return out, (timeToDrop - s.labelMean[td]) / s.labelStd[td]
}

// DenormalizeLabel maps normalized labels back to physical units.
func (s *NormStats) DenormalizeLabel(xyz [trajectory.LabelDim]float32, timeToDrop float32) ([trajectory.LabelDim]float32, float32) {
	var out [trajectory.LabelDim]float32
	for d := range out {
		out[d] = xyz[d]*s.labelStd[d] + s.labelMean[d]
	}
	const td = trajectory.LabelDim
	return out, timeToDrop*s.labelStd[td] + s.labelMean[td]
}

// Equal reports whether two statistics are identical.
func (s *NormStats) Equal(o *NormStats) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.featureMean) != len(o.featureMean) {
		return false
	}
	for i := range s.featureMean {
		if s.featureMean[i] != o.featureMean[i] || s.featureStd[i] != o.featureStd[i] {
			return false
		}
	}
	return s.labelMean == o.labelMean && s.labelStd == o.labelStd
}

// normStatsWire is the serialized form shared by JSON and gob encodings.
type normStatsWire struct {
	Version     int       `json:"version"`
	FeatureMean []float32 `json:"feature_mean"`
	FeatureStd  []float32 `json:"feature_std"`
	LabelMean   []float32 `json:"label_mean"`
	LabelStd    []float32 `json:"label_std"`
}

func (s *NormStats) wire() normStatsWire {
	fm, fs, lm, ls := s.Arrays()
	return normStatsWire{Version: statsFormatVersion, FeatureMean: fm, FeatureStd: fs, LabelMean: lm, LabelStd: ls}
}

func fromWire(w normStatsWire) (*NormStats, error) {
	if w.Version != statsFormatVersion {
		return nil, fmt.Errorf("unsupported stats format version %d (want %d)", w.Version, statsFormatVersion)
	}
	return NewNormStats(w.FeatureMean, w.FeatureStd, w.LabelMean, w.LabelStd)
}

// MarshalJSON implements json.Marshaler.
func (s *NormStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

// DecodeNormStatsJSON parses the output of MarshalJSON.
func DecodeNormStatsJSON(data []byte) (*NormStats, error) {
	var w normStatsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode stats json: %w", err)
	}
	return fromWire(w)
}

func ensureLen(dst []float32, n int) []float32 {
	if cap(dst) < n {
		return make([]float32, n)
	}
	return dst[:n]
}
