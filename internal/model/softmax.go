package model

import (
	"fmt"
	"math"
)

// Softmax converts raw logits into probabilities. The max logit is subtracted
// first so large values do not overflow.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Argmax returns the index of the largest value. Ties go to the lowest index.
func Argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// NewResult normalises logits and builds a Result over classes.
func NewResult(classes []string, logits []float32) (*Result, error) {
	if len(logits) != len(classes) {
		return nil, fmt.Errorf("model returned %d scores for %d classes", len(logits), len(classes))
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("non-finite score %v for class %q", v, classes[i])
		}
	}

	probs := Softmax(logits)
	predictions := make(Predictions, len(classes))
	for i, label := range classes {
		predictions[i] = Score{Label: label, Probability: probs[i]}
	}

	top := Argmax(probs)
	return &Result{
		Predictions:    predictions,
		TopClass:       classes[top],
		TopProbability: probs[top],
	}, nil
}
