package robot

import (
	"errors"
	"fmt"
	"math"
	"time"

	"drivetrain-core/command"
	"drivetrain-core/motion"
	"drivetrain-core/transit"
)

var (
	ErrUnknownAuto = errors.New("unknown autonomous routine")
	ErrAutoLocked  = errors.New("autonomous selection is locked while autonomous runs")
)

// StepKind names an autonomous step.
type StepKind string

const (
	StepDrive StepKind = "drive" // Value in inches, negative backs up
	StepTurn  StepKind = "turn"  // Value is an absolute heading in degrees
	StepHold  StepKind = "hold"  // Value is the ultrasonic range to hold, in inches
	StepDump  StepKind = "dump"  // Value is how long to run the transit, in seconds
)

type AutoStep struct {
	Kind  StepKind `mapstructure:"kind" yaml:"kind"`
	Value float64  `mapstructure:"value" yaml:"value"`
}

// AutoDef describes one routine on the autonomous menu.
type AutoDef struct {
	Name  string     `mapstructure:"name" yaml:"name"`
	Steps []AutoStep `mapstructure:"steps" yaml:"steps"`
}

// DefaultAutos is the competition menu. The first entry is the default choice.
func DefaultAutos() []AutoDef {
	return []AutoDef{
		{
			Name: "Two Ball Auto",
			Steps: []AutoStep{
				{StepDrive, -23.125},
				{StepTurn, 146},
				{StepDrive, 69},
				{StepTurn, -89},
				{StepDrive, 107.1875},
				{StepTurn, 40},
				{StepDrive, 100.44},
				{StepTurn, 2},
				{StepDrive, 5},
			},
		},
		{
			Name: "One Ball Auto",
			Steps: []AutoStep{
				{StepDump, 1},
				{StepDrive, -80},
			},
		},
	}
}

func validateAutos(defs []AutoDef) error {
	if len(defs) == 0 {
		return errors.New("autonomous menu is empty")
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return errors.New("autonomous routine without a name")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate autonomous routine %q", d.Name)
		}
		seen[d.Name] = true
		for i, st := range d.Steps {
			switch st.Kind {
			case StepDrive, StepTurn, StepHold:
			case StepDump:
				if st.Value <= 0 {
					return fmt.Errorf("%s step %d: dump duration must be positive", d.Name, i)
				}
			default:
				return fmt.Errorf("%s step %d: unknown kind %q", d.Name, i, st.Kind)
			}
		}
	}
	return nil
}

// InchesToRotations converts a straight-line distance into motor rotations
// through the gearbox and wheel.
func (c Config) InchesToRotations(inches float64) float64 {
	return c.GearRatio * inches / (math.Pi * c.WheelDiameter)
}

func ticksFor(d, period time.Duration) int {
	if d <= 0 || period <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(period)))
}

// buildAuto turns a menu entry into a sequence. Every routine starts by
// clearing the collision latch, and a collision ends the move in progress and
// the rest of the routine.
func (c *Container) buildAuto(def AutoDef) *command.Sequence {
	timeout := ticksFor(c.cfg.StepTimeout, c.cfg.Period)
	steps := []command.Task{
		command.Instant("clear collision", c.drive.ClearCollision),
	}
	for _, st := range def.Steps {
		var step command.Task
		switch st.Kind {
		case StepDrive:
			move := motion.NewDriveDistance(c.drive, c.cfg.InchesToRotations(st.Value))
			step = command.WithTimeout(command.Until(move, c.drive.CollisionDetected), timeout)
		case StepTurn:
			step = command.WithTimeout(motion.NewTurnToAngle(c.drive, st.Value, c.cfg.Turn, c.cfg.Period), timeout)
		case StepHold:
			h := c.cfg.Hold
			step = command.WithTimeout(motion.NewHoldDistance(c.drive, st.Value, h.Gain, h.MaxRate, h.Tolerance), timeout)
		case StepDump:
			dur := time.Duration(st.Value * float64(time.Second))
			step = command.WithTimeout(transit.Dump(c.transit, c.cfg.TransitSpeed), ticksFor(dur, c.cfg.Period))
		}
		steps = append(steps, step)
	}

	seq := command.NewSequence(def.Name, c.log, steps...).AbortWhen(c.drive.CollisionDetected)
	// The operator may not run the transit while a routine is in control.
	seq.AddRequirements(c.drive, c.transit)
	return seq
}
