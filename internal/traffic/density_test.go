package traffic

import "testing"

func TestClassifyDensityBoundaries(t *testing.T) {
	cases := []struct {
		count int
		want  Density
	}{
		{0, DensityOff},
		{2, DensityOff},
		{3, DensityLow},
		{4, DensityLow},
		{5, DensityMedium},
		{6, DensityMedium},
		{7, DensityHigh},
		{9, DensityHigh},
		{10, DensityVeryHigh},
		{42, DensityVeryHigh},
	}

	for _, tc := range cases {
		if got := ClassifyDensity(tc.count); got != tc.want {
			t.Errorf("ClassifyDensity(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}

func TestClassifyDensityPure(t *testing.T) {
	// identical counts must always yield identical buckets
	for count := 0; count < 20; count++ {
		first := ClassifyDensity(count)
		for i := 0; i < 3; i++ {
			if got := ClassifyDensity(count); got != first {
				t.Fatalf("ClassifyDensity(%d) not pure: %v then %v", count, first, got)
			}
		}
	}
}

func TestDefaultDurations(t *testing.T) {
	d := DefaultDurations()
	want := Durations{5, 8, 12, 18, 25}
	if d != want {
		t.Errorf("DefaultDurations() = %v, want %v", d, want)
	}
}
