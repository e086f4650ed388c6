package drive

import (
	"math"
	"testing"
)

func TestShortestAngle(t *testing.T) {
	tests := []struct {
		target, current float64
		want            float64
	}{
		{146, 0, 146},
		{-89, 146, 125},
		{170, -170, -20},
		{-170, 170, 20},
		{0, 0, 0},
		{90, 450, 0},
		{180, 0, 180},
		{0, 720 + 45, -45},
		{45, -315, 0},
	}
	for _, tt := range tests {
		got := ShortestAngle(tt.target, tt.current)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ShortestAngle(%v, %v) = %v, want %v", tt.target, tt.current, got, tt.want)
		}
	}
}

func TestShortestAngleRangeAndAntisymmetry(t *testing.T) {
	for target := -1080.0; target <= 1080; target += 37.5 {
		for current := -1080.0; current <= 1080; current += 41.25 {
			d := ShortestAngle(target, current)
			if d < -180 || d > 180 {
				t.Fatalf("ShortestAngle(%v, %v) = %v out of range", target, current, d)
			}
			back := ShortestAngle(current, target)
			// Exactly opposite headings may come out as 180 both ways.
			if math.Abs(math.Abs(d)-180) < 1e-9 {
				continue
			}
			if math.Abs(d+back) > 1e-9 {
				t.Fatalf("not antisymmetric: (%v, %v) -> %v, swapped -> %v", target, current, d, back)
			}
		}
	}
}
