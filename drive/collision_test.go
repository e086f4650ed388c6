package drive

import "testing"

func TestCollisionDetector(t *testing.T) {
	cfg := CollisionConfig{CurrentLimit: 60, VelocityDrop: 0.6, MinVelocity: 500}
	cruise := [4]float64{2000, 2000, -2000, -2000}
	calm := [4]float64{10, 10, 10, 10}

	tests := []struct {
		name    string
		samples [][2][4]float64 // velocity, current
		want    bool
	}{
		{
			name:    "steady cruise",
			samples: [][2][4]float64{{cruise, calm}, {cruise, calm}, {cruise, calm}},
		},
		{
			name:    "current spike",
			samples: [][2][4]float64{{cruise, calm}, {cruise, {10, 61, 10, 10}}},
			want:    true,
		},
		{
			name:    "sudden stop",
			samples: [][2][4]float64{{cruise, calm}, {{2000, 2000, -2000, -100}, calm}},
			want:    true,
		},
		{
			name:    "slow wheels ignored",
			samples: [][2][4]float64{{{400, 400, 400, 400}, calm}, {{0, 0, 0, 0}, calm}},
		},
		{
			name:    "first sample has nothing to compare",
			samples: [][2][4]float64{{{0, 0, 0, 0}, calm}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCollisionDetector(cfg)
			var got bool
			for _, s := range tt.samples {
				got = d.Observe(s[0], s[1])
			}
			if got != tt.want {
				t.Fatalf("Observe = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollisionDetectorLatchesUntilReset(t *testing.T) {
	d := NewCollisionDetector(CollisionConfig{CurrentLimit: 60})
	d.Observe([4]float64{}, [4]float64{100})
	d.Observe([4]float64{}, [4]float64{})
	if !d.Tripped() {
		t.Fatal("latch released without Reset")
	}
	d.Reset()
	if d.Tripped() {
		t.Fatal("still tripped after Reset")
	}
	d.Trip()
	if !d.Tripped() {
		t.Fatal("Trip did not latch")
	}
}
