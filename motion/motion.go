// Package motion holds the single-purpose drivetrain tasks that autonomous
// programs are built from.
package motion

import (
	"math"
	"time"

	"github.com/felixge/pidctrl"

	"drivetrain-core/command"
)

// Drivetrain is the part of the drive controller the primitives use.
type Drivetrain interface {
	command.Resource
	AutoDrive(displacement float64)
	PointReached(displacement float64) bool
	ResetEncoders()
	AngleError(target float64) float64
	DistanceError(target float64) float64
	Turn(rate float64)
	Arcade(turnRPM, forwardRPM float64)
	Stop()
}

// DriveDistance issues one profiled move and polls until the encoders report
// it covered. The drive controller zeroes the encoders on arrival.
type DriveDistance struct {
	command.Base
	dt           Drivetrain
	displacement float64

	reached bool
}

// NewDriveDistance drives displacement rotations; negative backs up.
func NewDriveDistance(dt Drivetrain, displacement float64) *DriveDistance {
	return &DriveDistance{
		Base:         command.NewBase("drive distance", dt),
		dt:           dt,
		displacement: displacement,
	}
}

func (d *DriveDistance) Displacement() float64 { return d.displacement }

func (d *DriveDistance) Initialize() {
	d.reached = false
	// A previous turn or a timed-out move leaves the encoders off zero.
	d.dt.ResetEncoders()
	d.dt.AutoDrive(d.displacement)
}

func (d *DriveDistance) Execute() {
	if !d.reached {
		d.reached = d.dt.PointReached(d.displacement)
	}
}

func (d *DriveDistance) IsFinished() bool {
	return d.reached
}

func (d *DriveDistance) End(bool) {
	d.dt.Stop()
}

// Reached reports whether the last run arrived at its target.
func (d *DriveDistance) Reached() bool { return d.reached }

// TurnGains tunes the heading loop. Output is a turn rate in RPM.
type TurnGains struct {
	P         float64 `mapstructure:"p" yaml:"p"`
	I         float64 `mapstructure:"i" yaml:"i"`
	D         float64 `mapstructure:"d" yaml:"d"`
	MaxRate   float64 `mapstructure:"max_rate" yaml:"max_rate"`
	MinRate   float64 `mapstructure:"min_rate" yaml:"min_rate"`
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"` // degrees
}

func DefaultTurnGains() TurnGains {
	return TurnGains{P: 15, MaxRate: 1500, MinRate: 150, Tolerance: 2}
}

// TurnToAngle spins in place until the gyro heading is within tolerance of an
// absolute target heading.
type TurnToAngle struct {
	command.Base
	dt     Drivetrain
	target float64
	gains  TurnGains
	period time.Duration

	loop    *pidctrl.PIDController
	lastErr float64
}

func NewTurnToAngle(dt Drivetrain, target float64, gains TurnGains, period time.Duration) *TurnToAngle {
	return &TurnToAngle{
		Base:   command.NewBase("turn to angle", dt),
		dt:     dt,
		target: target,
		gains:  gains,
		period: period,
	}
}

func (t *TurnToAngle) Target() float64 { return t.target }

func (t *TurnToAngle) Initialize() {
	t.loop = pidctrl.NewPIDController(t.gains.P, t.gains.I, t.gains.D).
		SetOutputLimits(-t.gains.MaxRate, t.gains.MaxRate).
		Set(0)
	t.lastErr = t.dt.AngleError(t.target)
}

func (t *TurnToAngle) Execute() {
	t.lastErr = t.dt.AngleError(t.target)
	// The loop drives the negated error toward zero, so a positive error turns clockwise.
	rate := t.loop.UpdateDuration(-t.lastErr, t.period)
	if math.Abs(rate) < t.gains.MinRate {
		rate = math.Copysign(t.gains.MinRate, t.lastErr)
	}
	t.dt.Turn(rate)
}

func (t *TurnToAngle) IsFinished() bool {
	return math.Abs(t.dt.AngleError(t.target)) < t.gains.Tolerance
}

func (t *TurnToAngle) End(bool) {
	t.dt.Stop()
}

// HoldDistance drives forward or back until the ultrasonic range is within
// tolerance of target inches.
type HoldDistance struct {
	command.Base
	dt        Drivetrain
	target    float64
	gain      float64 // RPM per inch of error
	maxRate   float64
	tolerance float64
}

func NewHoldDistance(dt Drivetrain, target, gain, maxRate, tolerance float64) *HoldDistance {
	return &HoldDistance{
		Base:      command.NewBase("hold distance", dt),
		dt:        dt,
		target:    target,
		gain:      gain,
		maxRate:   maxRate,
		tolerance: tolerance,
	}
}

func (h *HoldDistance) Execute() {
	// Positive error: the obstacle is closer than wanted, so back away.
	rate := -h.gain * h.dt.DistanceError(h.target)
	rate = math.Max(-h.maxRate, math.Min(h.maxRate, rate))
	h.dt.Arcade(0, rate)
}

func (h *HoldDistance) IsFinished() bool {
	return math.Abs(h.dt.DistanceError(h.target)) < h.tolerance
}

func (h *HoldDistance) End(bool) {
	h.dt.Stop()
}
