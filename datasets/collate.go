package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/shuttle/trajectory"
)

// Batch stores a collated batch in flat contiguous buffers. Sequences are
// left-padded with zero frames to the longest example, so real frames always
// end at the last time step, and Mask marks which time steps are real.
type Batch struct {
	// Sequences is laid out [Size][MaxLen][Features].
	Sequences []float32
	// Lengths holds the number of real frames of each example.
	Lengths []int32
	// Mask is laid out [Size][MaxLen]; false for padding, true for real frames.
	Mask []bool
	// LabelsXYZ is laid out [Size][3].
	LabelsXYZ []float32
	// LabelsTime holds one normalized time to drop per example.
	LabelsTime []float32

	Size     int
	MaxLen   int
	Features int
}

// Collate left-pads and stacks examples into a Batch. All examples must share
// the same feature width; an empty input is an error.
func Collate(examples []Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: cannot collate an empty batch", ErrInvalidArgument)
	}

	features := 0
	maxLen := 0
	for i, ex := range examples {
		if ex.Length != len(ex.Sequence) {
			return nil, fmt.Errorf("%w: example %d reports length %d but has %d frames",
				ErrInvalidArgument, i, ex.Length, len(ex.Sequence))
		}
		if ex.Length == 0 {
			return nil, fmt.Errorf("%w: example %d is empty", ErrInvalidArgument, i)
		}
		if i == 0 {
			features = len(ex.Sequence[0])
		}
		for j, frame := range ex.Sequence {
			if len(frame) != features {
				return nil, fmt.Errorf("%w: example %d frame %d has width %d, expected %d",
					ErrInvalidArgument, i, j, len(frame), features)
			}
		}
		maxLen = max(maxLen, ex.Length)
	}

	b := &Batch{
		Sequences:  make([]float32, len(examples)*maxLen*features),
		Lengths:    make([]int32, len(examples)),
		Mask:       make([]bool, len(examples)*maxLen),
		LabelsXYZ:  make([]float32, len(examples)*trajectory.LabelDim),
		LabelsTime: make([]float32, len(examples)),
		Size:       len(examples),
		MaxLen:     maxLen,
		Features:   features,
	}

	for i, ex := range examples {
		pad := maxLen - ex.Length
		rowBase := i * maxLen
		for j, frame := range ex.Sequence {
			copy(b.Sequences[(rowBase+pad+j)*features:], frame)
		}
		for j := pad; j < maxLen; j++ {
			b.Mask[rowBase+j] = true
		}
		b.Lengths[i] = int32(ex.Length)
		copy(b.LabelsXYZ[i*trajectory.LabelDim:], ex.LabelXYZ[:])
		b.LabelsTime[i] = ex.LabelTime
	}

	return b, nil
}

// Sequence returns the padded [MaxLen][Features] block of example i. The
// returned slices alias the batch buffer.
func (b *Batch) Sequence(i int) [][]float32 {
	out := make([][]float32, b.MaxLen)
	base := i * b.MaxLen * b.Features
	for j := range out {
		out[j] = b.Sequences[base+j*b.Features : base+(j+1)*b.Features]
	}
	return out
}

// MaskRow returns the mask of example i, aliasing the batch buffer.
func (b *Batch) MaskRow(i int) []bool {
	return b.Mask[i*b.MaxLen : (i+1)*b.MaxLen]
}

// LabelXYZ returns the normalized landing point of example i.
func (b *Batch) LabelXYZ(i int) []float32 {
	return b.LabelsXYZ[i*trajectory.LabelDim : (i+1)*trajectory.LabelDim]
}

// Tensors is the gomlx view of a Batch.
type Tensors struct {
	Sequences  *tensors.Tensor // float32 [B, MaxLen, F]
	Lengths    *tensors.Tensor // int32 [B]
	Mask       *tensors.Tensor // bool [B, MaxLen]
	LabelsXYZ  *tensors.Tensor // float32 [B, 3]
	LabelsTime *tensors.Tensor // float32 [B]
}

// ToGomlxTensors converts the batch into gomlx tensors.
func (b *Batch) ToGomlxTensors() (*Tensors, error) {
	if b.Size == 0 || b.MaxLen == 0 || b.Features == 0 {
		return nil, fmt.Errorf("%w: cannot convert an empty batch", ErrInvalidArgument)
	}

	seqs := make([][][]float32, b.Size)
	mask := make([][]bool, b.Size)
	xyz := make([][]float32, b.Size)
	for i := range b.Size {
		seqs[i] = b.Sequence(i)
		mask[i] = b.MaskRow(i)
		xyz[i] = b.LabelXYZ(i)
	}

	return &Tensors{
		Sequences:  tensors.FromAnyValue(seqs),
		Lengths:    tensors.FromAnyValue(b.Lengths),
		Mask:       tensors.FromAnyValue(mask),
		LabelsXYZ:  tensors.FromAnyValue(xyz),
		LabelsTime: tensors.FromAnyValue(b.LabelsTime),
	}, nil
}

// Inputs returns the model inputs in the order sequences, lengths, mask.
func (t *Tensors) Inputs() []*tensors.Tensor {
	return []*tensors.Tensor{t.Sequences, t.Lengths, t.Mask}
}

// Labels returns the regression targets in the order xyz, time.
func (t *Tensors) Labels() []*tensors.Tensor {
	return []*tensors.Tensor{t.LabelsXYZ, t.LabelsTime}
}
