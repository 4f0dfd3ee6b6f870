// Package util contains misc internal utilities.
package util

import "math"

// Clamp limits a value to the range [low, high].  NaN is returned as low.
func Clamp(input, low, high float64) float64 {
	if math.IsNaN(input) {
		return low
	}
	return math.Max(low, math.Min(input, high))
}
