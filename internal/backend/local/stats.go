package local

import (
	"context"
	"math"
	"time"
)

// meanStd returns the mean and population standard deviation of values.
// Both are computed on values divided by their largest magnitude, so any
// finite input yields a finite mean and deviation.
func meanStd(values []float64) (float64, float64) {
	scale := maxAbs(values)
	if scale == 0 {
		return 0, 0
	}
	mean, std := scaledMeanStd(values, scale)
	return mean * scale, std * scale
}

// scaledMeanStd returns the mean and deviation of values/scale.
func scaledMeanStd(values []float64, scale float64) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v / scale
	}
	mean := sum / n
	var sq float64
	for _, v := range values {
		d := v/scale - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

func maxAbs(values []float64) float64 {
	var m float64
	for _, v := range values {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// zScores standardizes values. A zero deviation only centers them.
func zScores(values []float64) (out []float64, mean, std float64) {
	out = make([]float64, len(values))
	scale := maxAbs(values)
	if scale == 0 {
		return out, 0, 0
	}
	m, s := scaledMeanStd(values, scale)
	for i, v := range values {
		if s == 0 {
			out[i] = (v/scale - m) * scale
			continue
		}
		out[i] = (v/scale - m) / s
	}
	return out, m * scale, s * scale
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
