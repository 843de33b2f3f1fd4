// Package model implements the training algorithms available to training
// jobs. Each variant is a deterministic black box: given the same seed,
// chunk count, epoch budget, and dataset ordering it produces the same state
// and the same per-epoch loss history.
package model

import (
	"fmt"
	"math"
	"math/rand"
)

// Variant names a training algorithm.
type Variant string

const (
	// RadiusVariance fits per-chunk arrival centers and scores the variance
	// of the radius (distance of each observation from its chunk center).
	RadiusVariance Variant = "radius_variance"
)

// ParseVariant validates a model variant name.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case RadiusVariance:
		return Variant(s), nil
	}
	return "", fmt.Errorf("unrecognized model variant %q", s)
}

// Learning rate for the center updates. Fixed: it is part of what makes a
// variant reproducible across implementations.
const learningRate = 0.3

// State is the trainable model state, serializable for persistence.
type State struct {
	Variant    Variant   `json:"variant"`
	ChunkCount int       `json:"chunk_count"`
	Seed       int64     `json:"seed"`
	Centers    []float64 `json:"centers"` // one per chunk
}

// Trainer runs one epoch at a time so callers control cancellation at epoch
// boundaries and can record per-epoch metrics.
type Trainer struct {
	state  State
	chunks [][]float64
}

// NewTrainer prepares a trainer over the dataset values. The seed is the sole
// source of randomness; values are partitioned into chunkCount contiguous
// chunks in dataset order.
func NewTrainer(variant Variant, values []float64, chunkCount int, seed int64) (*Trainer, error) {
	if _, err := ParseVariant(string(variant)); err != nil {
		return nil, err
	}
	if chunkCount < 1 {
		return nil, fmt.Errorf("chunk count must be >= 1, got %d", chunkCount)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty dataset")
	}
	if chunkCount > len(values) {
		return nil, fmt.Errorf("chunk count %d exceeds dataset size %d", chunkCount, len(values))
	}

	chunks := partition(values, chunkCount)

	rng := rand.New(rand.NewSource(seed))
	scale := maxAbs(values)
	if scale == 0 {
		scale = 1
	}
	centers := make([]float64, chunkCount)
	for i := range centers {
		centers[i] = rng.Float64() * scale
	}

	return &Trainer{
		state: State{
			Variant:    variant,
			ChunkCount: chunkCount,
			Seed:       seed,
			Centers:    centers,
		},
		chunks: chunks,
	}, nil
}

// Epoch runs one full training pass and returns its loss. The loss is the
// mean squared radius over all observations; centers move toward their chunk
// means by the fixed learning rate, so the loss is non-increasing in the
// limit and fully determined by the inputs.
func (t *Trainer) Epoch() (float64, error) {
	var sumSq float64
	var n int

	for i, chunk := range t.chunks {
		center := t.state.Centers[i]

		var mean float64
		for _, v := range chunk {
			r := v - center
			sumSq += r * r
			mean += v
		}
		mean /= float64(len(chunk))
		n += len(chunk)

		t.state.Centers[i] = center + learningRate*(mean-center)
	}

	loss := sumSq / float64(n)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("training diverged: non-finite loss")
	}
	return loss, nil
}

// State returns a copy of the current model state.
func (t *Trainer) State() State {
	s := t.state
	s.Centers = append([]float64(nil), t.state.Centers...)
	return s
}

// partition splits values into n contiguous chunks, sizes differing by at
// most one, preserving dataset order.
func partition(values []float64, n int) [][]float64 {
	chunks := make([][]float64, 0, n)
	size := len(values) / n
	rem := len(values) % n

	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, values[start:end])
		start = end
	}
	return chunks
}

func maxAbs(values []float64) float64 {
	var m float64
	for _, v := range values {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
