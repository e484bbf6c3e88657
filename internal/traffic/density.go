package traffic

// ClassifyDensity maps a vehicle count to its density bucket. The mapping is
// pure: identical counts always yield identical buckets.
func ClassifyDensity(count int) Density {
	switch {
	case count < 3:
		return DensityOff
	case count <= 4:
		return DensityLow
	case count <= 6:
		return DensityMedium
	case count <= 9:
		return DensityHigh
	default:
		return DensityVeryHigh
	}
}

// Durations holds the green-phase duration in seconds for each density
// bucket, indexed by Density.
type Durations [5]int

// DefaultDurations returns the stock green timings.
func DefaultDurations() Durations {
	return Durations{
		DensityOff:      5,
		DensityLow:      8,
		DensityMedium:   12,
		DensityHigh:     18,
		DensityVeryHigh: 25,
	}
}

// DefaultYellowSeconds is the fixed yellow sub-phase duration, independent of
// density.
const DefaultYellowSeconds = 3
