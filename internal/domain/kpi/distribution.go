package kpi

import (
	"math"
	"sort"
)

// SumTolerance is the allowed deviation of a group's proportions from 1.0
const SumTolerance = 1e-9

// Distribution maps a group key to category proportions. Every present group sums to 1.
type Distribution map[string]map[string]float64

// Groups returns the group keys in sorted order
func (d Distribution) Groups() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Categories returns the union of category names across groups, sorted
func (d Distribution) Categories() []string {
	seen := make(map[string]struct{})
	for _, cats := range d {
		for c := range cats {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Balanced reports whether every group sums to 1 within SumTolerance
func (d Distribution) Balanced() bool {
	for _, cats := range d {
		var sum float64
		for _, p := range cats {
			sum += p
		}
		if math.Abs(sum-1) > SumTolerance {
			return false
		}
	}
	return true
}
