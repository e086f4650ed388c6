// Package drive implements the closed-loop drivetrain controller and the
// actuator/sensor facade it drives.
//
// Positions are in motor rotations, velocities in RPM, headings in degrees
// (clockwise positive, continuous rather than wrapped). The left and right
// wheel pairs are mechanically mirrored: driving forward turns the left pair
// positive and the right pair negative.
package drive

import (
	"errors"
	"fmt"
)

type Wheel int

const (
	LeftFront Wheel = iota
	LeftBack
	RightFront
	RightBack
)

// Wheels lists every wheel in CAN map order.
var Wheels = [...]Wheel{LeftFront, LeftBack, RightFront, RightBack}

func (w Wheel) String() string {
	switch w {
	case LeftFront:
		return "LF"
	case LeftBack:
		return "LB"
	case RightFront:
		return "RF"
	case RightBack:
		return "RB"
	default:
		return fmt.Sprintf("Wheel(%d)", int(w))
	}
}

func (w Wheel) Pair() Pair {
	if w == LeftFront || w == LeftBack {
		return Left
	}
	return Right
}

type Pair int

const (
	Left Pair = iota
	Right
)

func (p Pair) String() string {
	if p == Left {
		return "left"
	}
	return "right"
}

func (p Pair) Wheels() [2]Wheel {
	if p == Left {
		return [2]Wheel{LeftFront, LeftBack}
	}
	return [2]Wheel{RightFront, RightBack}
}

var ErrInvalidGains = errors.New("invalid loop gains")

// Gains configures one wheel's closed loop. Fixed at controller construction.
type Gains struct {
	P         float64 `mapstructure:"p" yaml:"p"`
	I         float64 `mapstructure:"i" yaml:"i"`
	D         float64 `mapstructure:"d" yaml:"d"`
	IZone     float64 `mapstructure:"izone" yaml:"izone"`
	FF        float64 `mapstructure:"ff" yaml:"ff"`
	MinOutput float64 `mapstructure:"min_output" yaml:"min_output"`
	MaxOutput float64 `mapstructure:"max_output" yaml:"max_output"`
}

func (g Gains) Validate() error {
	if g.MinOutput >= g.MaxOutput {
		return fmt.Errorf("%w: output range [%g, %g] is empty", ErrInvalidGains, g.MinOutput, g.MaxOutput)
	}
	if g.MinOutput < -1 || g.MaxOutput > 1 {
		return fmt.Errorf("%w: output range [%g, %g] exceeds [-1, 1]", ErrInvalidGains, g.MinOutput, g.MaxOutput)
	}
	if g.P < 0 || g.I < 0 || g.D < 0 || g.FF < 0 {
		return fmt.Errorf("%w: gains must be non-negative", ErrInvalidGains)
	}
	return nil
}

// Profile limits a motion-profiled position move.
type Profile struct {
	MaxVelocity  float64 `mapstructure:"max_velocity" yaml:"max_velocity"`   // RPM
	MinVelocity  float64 `mapstructure:"min_velocity" yaml:"min_velocity"`   // RPM
	MaxAccel     float64 `mapstructure:"max_accel" yaml:"max_accel"`         // RPM per second
	AllowedError float64 `mapstructure:"allowed_error" yaml:"allowed_error"` // rotations
}

// Hardware is the actuator/sensor facade for the drivetrain. Setters never
// fail from the caller's point of view: implementations log transport errors
// and keep going so the control loop never halts.
type Hardware interface {
	// ConfigureLoop pushes gains and the position profile into a wheel's controller.
	ConfigureLoop(w Wheel, g Gains, p Profile) error

	SetOutput(w Wheel, duty float64)
	SetVelocity(w Wheel, rpm float64)
	SetPosition(w Wheel, rotations float64, p Profile)

	EncoderPosition(w Wheel) float64
	EncoderVelocity(w Wheel) float64
	AppliedOutput(w Wheel) float64
	ResetEncoder(w Wheel)

	GyroHeading() float64
	CalibrateAndResetGyro()
	UltrasonicRaw() float64

	// CollisionDetected reports a latched stall or impact.
	CollisionDetected() bool
	ClearCollision()
}
