package drive

import "math"

// CollisionConfig sets the stall/impact thresholds. A zero threshold disables that check.
type CollisionConfig struct {
	CurrentLimit float64 `mapstructure:"current_limit" yaml:"current_limit"` // amps on any wheel
	VelocityDrop float64 `mapstructure:"velocity_drop" yaml:"velocity_drop"` // fraction of speed lost in one sample
	MinVelocity  float64 `mapstructure:"min_velocity" yaml:"min_velocity"`   // RPM below which drops are ignored
}

// CollisionDetector latches when a wheel draws too much current or loses
// most of its speed between two consecutive samples.
type CollisionDetector struct {
	cfg     CollisionConfig
	prev    [len(Wheels)]float64
	primed  bool
	tripped bool
}

func NewCollisionDetector(cfg CollisionConfig) *CollisionDetector {
	return &CollisionDetector{cfg: cfg}
}

// Observe feeds one sample of wheel velocities (RPM) and currents (amps) and
// returns the latched flag.
func (c *CollisionDetector) Observe(velocity, current [len(Wheels)]float64) bool {
	for i := range velocity {
		if c.cfg.CurrentLimit > 0 && current[i] > c.cfg.CurrentLimit {
			c.tripped = true
		}
		if c.primed && c.cfg.VelocityDrop > 0 {
			before, now := math.Abs(c.prev[i]), math.Abs(velocity[i])
			if before >= c.cfg.MinVelocity && before > 0 && now < before*(1-c.cfg.VelocityDrop) {
				c.tripped = true
			}
		}
	}
	c.prev = velocity
	c.primed = true
	return c.tripped
}

func (c *CollisionDetector) Tripped() bool { return c.tripped }

// Trip latches the flag directly.
func (c *CollisionDetector) Trip() { c.tripped = true }

// Reset clears the latch and forgets the previous sample.
func (c *CollisionDetector) Reset() {
	c.tripped = false
	c.primed = false
}
