// Package decay computes exponentially time-weighted averages.
package decay

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Defaults for the rolling recompute.
const (
	DefaultFactor     = 0.9
	DefaultMaxSamples = 20
)

// Sample is one historical measurement for a single n-gram.
type Sample struct {
	At    time.Time
	Value float64
}

// Average returns the decaying average of the most recent maxSamples samples.
// Each kept sample is weighted by factor^days, where days is the fractional
// number of days between the sample and the newest kept sample. Empty input
// yields 0; a single sample yields its own value.
func Average(samples []Sample, factor float64, maxSamples int) float64 {
	if len(samples) == 0 {
		return 0
	}
	if factor <= 0 || factor > 1 {
		factor = DefaultFactor
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}

	kept := make([]Sample, len(samples))
	copy(kept, samples)
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].At.After(kept[j].At)
	})
	if len(kept) > maxSamples {
		kept = kept[:maxSamples]
	}

	newest := kept[0].At
	values := make([]float64, len(kept))
	weights := make([]float64, len(kept))
	for i, s := range kept {
		days := newest.Sub(s.At).Hours() / 24
		values[i] = s.Value
		weights[i] = math.Pow(factor, days)
	}
	return stat.Mean(values, weights)
}
