package optimizer

import (
	"math"
	"sort"

	"booner/internal/types"
)

const epsilon = 1e-9

// Bounds constrain a weight vector: every weight in [Min, Max], sum == Total.
type Bounds struct {
	Min   float64
	Max   float64
	Total float64
}

func DefaultBounds() Bounds {
	return Bounds{Min: 5, Max: 60, Total: 100}
}

// feasible reports whether n pillars can satisfy the bounds at all.
func (b Bounds) feasible(n int) bool {
	return n > 0 && float64(n)*b.Min <= b.Total+epsilon && float64(n)*b.Max >= b.Total-epsilon
}

// NormalizeContributions scales contributions to sum to 1 over the pillars
// present in weights. Negative and unknown entries are dropped.
func NormalizeContributions(weights types.PillarWeights, contrib map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	sum := 0.0
	for name := range weights {
		if v := contrib[name]; v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
			sum += v
		}
	}
	if sum <= 0 {
		return map[string]float64{}
	}
	for k, v := range out {
		out[k] = v / sum
	}
	return out
}

// Apply runs one update step: w_i += rate * outcome * c_i, clamp, renormalize.
func Apply(weights types.PillarWeights, contrib map[string]float64, outcome, rate float64, b Bounds) types.PillarWeights {
	c := NormalizeContributions(weights, contrib)
	next := weights.Clone()
	for _, name := range next.Names() {
		next[name] = clamp(next[name]+rate*outcome*c[name], b.Min, b.Max)
	}
	return Renormalize(next, b)
}

// Renormalize rescales w to sum to b.Total while keeping every weight inside
// [b.Min, b.Max]. Pillars pinned at a bound are frozen and the remainder is
// spread over the free pillars in proportion to their current weight.
func Renormalize(w types.PillarWeights, b Bounds) types.PillarWeights {
	names := w.Names()
	if !b.feasible(len(names)) {
		return types.EqualWeights(names, b.Total)
	}
	out := make(types.PillarWeights, len(names))
	for _, n := range names {
		v := w[n]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = b.Min
		}
		out[n] = clamp(v, b.Min, b.Max)
	}
	frozen := make(map[string]bool, len(names))
	for iter := 0; iter <= len(names); iter++ {
		fixedSum, freeSum := 0.0, 0.0
		var free []string
		for _, n := range names {
			if frozen[n] {
				fixedSum += out[n]
				continue
			}
			free = append(free, n)
			freeSum += out[n]
		}
		if len(free) == 0 {
			break
		}
		remaining := b.Total - fixedSum
		for _, n := range free {
			if freeSum <= epsilon {
				out[n] = remaining / float64(len(free))
			} else {
				out[n] *= remaining / freeSum
			}
		}
		changed := false
		for _, n := range free {
			switch {
			case out[n] < b.Min-epsilon:
				out[n], frozen[n], changed = b.Min, true, true
			case out[n] > b.Max+epsilon:
				out[n], frozen[n], changed = b.Max, true, true
			}
		}
		if !changed {
			break
		}
	}
	settleResidual(out, b)
	return out
}

// settleResidual pushes any rounding residue onto pillars with slack, largest slack first.
func settleResidual(w types.PillarWeights, b Bounds) {
	residual := b.Total - w.Sum()
	if math.Abs(residual) <= epsilon {
		return
	}
	names := w.Names()
	sort.SliceStable(names, func(i, j int) bool {
		return slack(w[names[i]], residual, b) > slack(w[names[j]], residual, b)
	})
	for _, n := range names {
		if math.Abs(residual) <= epsilon {
			return
		}
		room := slack(w[n], residual, b)
		step := math.Min(room, math.Abs(residual))
		if residual > 0 {
			w[n] += step
			residual -= step
		} else {
			w[n] -= step
			residual += step
		}
	}
}

func slack(v, residual float64, b Bounds) float64 {
	if residual > 0 {
		return b.Max - v
	}
	return v - b.Min
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
