package drive

import "math"

// ShortestAngle returns the signed rotation in degrees that takes current onto
// target. Both are reduced with the IEEE remainder before subtracting, then
// corrected by one turn so the result lies in [-180, 180].
func ShortestAngle(target, current float64) float64 {
	d := math.Remainder(target, 360) - math.Remainder(current, 360)
	if d > 180 {
		return d - 360
	} else if d < -180 {
		return d + 360
	}
	return d
}
