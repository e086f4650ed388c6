package drive

import "math"

// Trapezoid is a velocity/acceleration limited move from start to target.
// Time is in seconds; positions in rotations; velocities in RPM.
type Trapezoid struct {
	start, target float64
	dir           float64
	accel         float64 // rotations/s^2
	peak          float64 // rotations/s
	tAccel        float64
	tCruise       float64
}

// NewTrapezoid plans a move. A profile without positive velocity and
// acceleration limits degenerates into a step to target.
func NewTrapezoid(p Profile, start, target float64) *Trapezoid {
	t := &Trapezoid{start: start, target: target, dir: 1}
	dist := target - start
	if dist < 0 {
		t.dir = -1
		dist = -dist
	}
	vmax := p.MaxVelocity / 60
	a := p.MaxAccel / 60
	if vmax <= 0 || a <= 0 || dist == 0 {
		return t
	}
	t.accel = a

	tAccel := vmax / a
	dAccel := 0.5 * a * tAccel * tAccel
	if 2*dAccel >= dist {
		// Never reaches cruise speed.
		tAccel = math.Sqrt(dist / a)
		t.tAccel = tAccel
		t.peak = a * tAccel
		return t
	}
	t.tAccel = tAccel
	t.peak = vmax
	t.tCruise = (dist - 2*dAccel) / vmax
	return t
}

// Duration is the planned time to reach the target.
func (t *Trapezoid) Duration() float64 {
	return 2*t.tAccel + t.tCruise
}

func (t *Trapezoid) Target() float64 { return t.target }

// Sample returns the planned position and velocity at elapsed seconds.
func (t *Trapezoid) Sample(elapsed float64) (pos, rpm float64) {
	if t.accel == 0 || elapsed >= t.Duration() {
		return t.target, 0
	}
	if elapsed <= 0 {
		return t.start, 0
	}

	var p, v float64
	dAccel := 0.5 * t.accel * t.tAccel * t.tAccel
	switch {
	case elapsed < t.tAccel:
		p = 0.5 * t.accel * elapsed * elapsed
		v = t.accel * elapsed
	case elapsed < t.tAccel+t.tCruise:
		p = dAccel + t.peak*(elapsed-t.tAccel)
		v = t.peak
	default:
		rem := t.Duration() - elapsed
		total := 2*dAccel + t.peak*t.tCruise
		p = total - 0.5*t.accel*rem*rem
		v = t.accel * rem
	}
	return t.start + t.dir*p, t.dir * v * 60
}

// Shift moves the whole plan by delta rotations, used when encoders are re-zeroed mid-move.
func (t *Trapezoid) Shift(delta float64) {
	t.start += delta
	t.target += delta
}
