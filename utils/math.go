package utils

import "golang.org/x/exp/constraints"

// Clamp returns min if value is lesser than min, max if value is greater them max or value if the input value is
// between min and max.
func Clamp[T constraints.Ordered](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// FloorDiv scales v by num/den and floors the result toward negative infinity.
func FloorDiv(v float64, num, den int) int {
	scaled := v * float64(num) / float64(den)
	i := int(scaled)
	if float64(i) > scaled {
		i--
	}
	return i
}
