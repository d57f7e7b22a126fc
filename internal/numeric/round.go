// Package numeric is the single quantization point for every score the
// engine persists or compares: urgency, retailer signals and composites.
package numeric

import "math"

// ScorePlaces is the number of decimal places scores are stored with.
const ScorePlaces = 4

// Round rounds x half away from zero to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}

// Round4 quantizes a score to ScorePlaces decimals.
func Round4(x float64) float64 {
	return Round(x, ScorePlaces)
}

// Percent returns part/whole as a percentage with one decimal, or 0 when
// whole is zero.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return Round(float64(part)/float64(whole)*100, 1)
}
