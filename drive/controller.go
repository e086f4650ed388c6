package drive

import (
	"fmt"
	"math"

	"drivetrain-core/telemetry"
	"drivetrain-core/utils"
)

// Config holds the drivetrain constants. Everything here is fixed at construction.
type Config struct {
	Gains   Gains   `mapstructure:"gains" yaml:"gains"`
	Profile Profile `mapstructure:"profile" yaml:"profile"`

	// MaxRPM bounds every velocity setpoint.
	MaxRPM float64 `mapstructure:"max_rpm" yaml:"max_rpm"`

	// Manual drive zeroes all wheels while |turn| <= TurnDeadband and
	// |forward| <= ForwardDeadband. The bands are deliberately unequal.
	TurnDeadband    float64 `mapstructure:"turn_deadband" yaml:"turn_deadband"`
	ForwardDeadband float64 `mapstructure:"forward_deadband" yaml:"forward_deadband"`

	// PointTolerance is how far short of the target, in rotations, a position move counts as reached.
	PointTolerance float64 `mapstructure:"point_tolerance" yaml:"point_tolerance"`

	// UltrasonicScale converts the raw ultrasonic reading to inches.
	UltrasonicScale float64 `mapstructure:"ultrasonic_scale" yaml:"ultrasonic_scale"`
}

// DefaultConfig returns the tuned constants of the competition robot.
func DefaultConfig() Config {
	return Config{
		Gains: Gains{
			P:         4e-4,
			FF:        0.000156,
			MinOutput: -1,
			MaxOutput: 1,
		},
		Profile: Profile{
			MaxVelocity: 4000,
			MaxAccel:    1500,
		},
		MaxRPM:          5700,
		TurnDeadband:    0.5,
		ForwardDeadband: 0.01,
		PointTolerance:  1,
		UltrasonicScale: 0.125,
	}
}

func (c Config) Validate() error {
	if err := c.Gains.Validate(); err != nil {
		return err
	}
	if c.MaxRPM <= 0 {
		return fmt.Errorf("max_rpm must be positive, got %g", c.MaxRPM)
	}
	if c.PointTolerance < 0 {
		return fmt.Errorf("point_tolerance must be non-negative, got %g", c.PointTolerance)
	}
	return nil
}

// Mode is the last kind of command the controller issued.
type Mode int

const (
	ModeIdle Mode = iota
	ModeManual
	ModeTurn
	ModePosition
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeTurn:
		return "turn"
	case ModePosition:
		return "position"
	default:
		return "unknown"
	}
}

// Controller turns manual and autonomous intents into per-wheel setpoints.
// It is the drivetrain resource: tasks that command it must require it.
type Controller struct {
	hw   Hardware
	cfg  Config
	log  *utils.Logger
	sink telemetry.Sink

	mode        Mode
	left, right float64 // last setpoints sent to each pair
}

// NewController configures every wheel loop, calibrates the gyro and zeroes
// the encoders before returning.
func NewController(hw Hardware, cfg Config, log *utils.Logger, sink telemetry.Sink) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = telemetry.Discard
	}
	c := &Controller{hw: hw, cfg: cfg, log: log.With("subsystem", "drivetrain"), sink: sink}

	for _, w := range Wheels {
		if err := hw.ConfigureLoop(w, cfg.Gains, cfg.Profile); err != nil {
			return nil, fmt.Errorf("configure %s loop: %w", w, err)
		}
	}
	c.ResetGyro()
	c.ResetEncoders()
	c.log.Info("drivetrain ready: kP=%g kFF=%g maxVel=%g maxAccel=%g",
		cfg.Gains.P, cfg.Gains.FF, cfg.Profile.MaxVelocity, cfg.Profile.MaxAccel)
	return c, nil
}

func (c *Controller) Name() string { return "drivetrain" }

func (c *Controller) Config() Config { return c.cfg }

func (c *Controller) Mode() Mode { return c.mode }

// Setpoints returns the last left and right pair setpoints.
func (c *Controller) Setpoints() (left, right float64) { return c.left, c.right }

// SetPointLeft mixes the scaled turn and forward axes for the left pair.
func SetPointLeft(turn, forward, scaleX, scaleY float64) float64 {
	return turn*scaleX + forward*scaleY
}

// SetPointRight mixes the scaled axes for the mirrored right pair.
func SetPointRight(turn, forward, scaleX, scaleY float64) float64 {
	return -(-turn*scaleX + forward*scaleY)
}

// ManualDrive issues velocity setpoints from shaped joystick axes. Inside the
// deadband every wheel is switched to zero output instead.
func (c *Controller) ManualDrive(turn, forward, scaleX, scaleY float64) {
	if math.Abs(turn) <= c.cfg.TurnDeadband && math.Abs(forward) <= c.cfg.ForwardDeadband {
		c.Stop()
		return
	}
	c.setVelocity(SetPointLeft(turn, forward, scaleX, scaleY), SetPointRight(turn, forward, scaleX, scaleY))
	c.mode = ModeManual
}

// Arcade issues raw velocity setpoints in RPM with no deadband.
func (c *Controller) Arcade(turnRPM, forwardRPM float64) {
	c.setVelocity(SetPointLeft(turnRPM, forwardRPM, 1, 1), SetPointRight(turnRPM, forwardRPM, 1, 1))
	c.mode = ModeManual
}

// Turn spins in place at rate RPM; positive turns clockwise.
func (c *Controller) Turn(rate float64) {
	c.setVelocity(SetPointLeft(rate, 0, 1, 1), SetPointRight(rate, 0, 1, 1))
	c.mode = ModeTurn
}

func (c *Controller) setVelocity(left, right float64) {
	left = clamp(left, -c.cfg.MaxRPM, c.cfg.MaxRPM)
	right = clamp(right, -c.cfg.MaxRPM, c.cfg.MaxRPM)
	for _, w := range Left.Wheels() {
		c.hw.SetVelocity(w, left)
	}
	for _, w := range Right.Wheels() {
		c.hw.SetVelocity(w, right)
	}
	c.left, c.right = left, right
}

// AutoDrive issues one profiled position move of displacement rotations.
func (c *Controller) AutoDrive(displacement float64) {
	for _, w := range Left.Wheels() {
		c.hw.SetPosition(w, displacement, c.cfg.Profile)
	}
	for _, w := range Right.Wheels() {
		c.hw.SetPosition(w, -displacement, c.cfg.Profile)
	}
	c.left, c.right = displacement, -displacement
	c.mode = ModePosition
	c.log.Debug("auto drive %.3f rotations", displacement)
}

// Stop switches every wheel to zero output.
func (c *Controller) Stop() {
	for _, w := range Wheels {
		c.hw.SetOutput(w, 0)
	}
	c.left, c.right = 0, 0
	c.mode = ModeIdle
}

// AngleError is the signed shortest rotation in degrees from the current heading to target.
func (c *Controller) AngleError(target float64) float64 {
	return ShortestAngle(target, c.hw.GyroHeading())
}

// Distance is the ultrasonic range in inches.
func (c *Controller) Distance() float64 {
	return c.hw.UltrasonicRaw() * c.cfg.UltrasonicScale
}

// DistanceError is how much farther than the measured range the target lies.
func (c *Controller) DistanceError(target float64) float64 {
	return target - c.Distance()
}

// Position is the left front encoder, the wheel used to judge position moves.
func (c *Controller) Position() float64 {
	return c.hw.EncoderPosition(LeftFront)
}

// AtPoint reports whether the encoders have covered displacement within tolerance.
func (c *Controller) AtPoint(displacement float64) bool {
	return math.Abs(c.Position()) >= math.Abs(displacement)-c.cfg.PointTolerance
}

// PointReached checks AtPoint and, when it holds, zeroes the encoders before
// returning true. Callers rely on the reset: the next position move starts
// from zero. It is the only predicate in the package with a side effect.
func (c *Controller) PointReached(displacement float64) bool {
	if !c.AtPoint(displacement) {
		return false
	}
	c.ResetEncoders()
	return true
}

func (c *Controller) ResetEncoders() {
	for _, w := range Wheels {
		c.hw.ResetEncoder(w)
	}
}

// ResetGyro runs a calibration pass and zeroes the heading.
func (c *Controller) ResetGyro() {
	c.hw.CalibrateAndResetGyro()
}

func (c *Controller) CollisionDetected() bool { return c.hw.CollisionDetected() }

func (c *Controller) ClearCollision() { c.hw.ClearCollision() }

// Periodic publishes drivetrain diagnostics once per tick.
func (c *Controller) Periodic() {
	c.sink.PutNumber("Ultrasonic", c.Distance())
	c.sink.PutNumber("Position", c.hw.EncoderPosition(LeftBack))
	c.sink.PutNumber("Velocity", c.hw.EncoderVelocity(LeftBack))
	c.sink.PutNumber("Process Variable", c.hw.EncoderVelocity(LeftBack))
	c.sink.PutNumber("Output", c.hw.AppliedOutput(LeftBack))
	c.sink.PutNumber("Heading", c.hw.GyroHeading())
	c.sink.PutNumber("Setpoint Left", c.left)
	c.sink.PutNumber("Setpoint Right", c.right)
	c.sink.PutBool("Collision Detected?", c.hw.CollisionDetected())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
