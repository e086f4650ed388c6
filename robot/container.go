// Package robot wires the subsystems, operator controls and autonomous menu
// together and exposes the mode hooks the control loop calls.
package robot

import (
	"errors"
	"fmt"
	"time"

	"drivetrain-core/command"
	"drivetrain-core/drive"
	"drivetrain-core/input"
	"drivetrain-core/motion"
	"drivetrain-core/telemetry"
	"drivetrain-core/transit"
	"drivetrain-core/utils"
)

// Buttons assigns joystick buttons, numbered from 1. Zero leaves a binding unassigned.
type Buttons struct {
	Inverse  int `mapstructure:"inverse" yaml:"inverse"`
	Turn45   int `mapstructure:"turn_45" yaml:"turn_45"`
	Turn90   int `mapstructure:"turn_90" yaml:"turn_90"`
	Turn180  int `mapstructure:"turn_180" yaml:"turn_180"`
	ZeroGyro int `mapstructure:"zero_gyro" yaml:"zero_gyro"`
	Dump     int `mapstructure:"dump" yaml:"dump"`     // operator stick
	Intake   int `mapstructure:"intake" yaml:"intake"` // operator stick
}

// HoldGains tunes the ultrasonic hold-distance step.
type HoldGains struct {
	Gain      float64 `mapstructure:"gain" yaml:"gain"`         // RPM per inch
	MaxRate   float64 `mapstructure:"max_rate" yaml:"max_rate"` // RPM
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
}

type Config struct {
	Period time.Duration `mapstructure:"-" yaml:"-"`

	Drive   drive.Config     `mapstructure:"drive" yaml:"drive"`
	Mapping input.Mapping    `mapstructure:"mapping" yaml:"mapping"`
	Turn    motion.TurnGains `mapstructure:"turn" yaml:"turn"`
	Hold    HoldGains        `mapstructure:"hold" yaml:"hold"`
	Buttons Buttons          `mapstructure:"buttons" yaml:"buttons"`

	// TurnScale and ForwardScale convert shaped stick axes to RPM.
	TurnScale    float64 `mapstructure:"turn_scale" yaml:"turn_scale"`
	ForwardScale float64 `mapstructure:"forward_scale" yaml:"forward_scale"`

	GearRatio     float64 `mapstructure:"gear_ratio" yaml:"gear_ratio"`
	WheelDiameter float64 `mapstructure:"wheel_diameter" yaml:"wheel_diameter"` // inches

	TransitSpeed float64       `mapstructure:"transit_speed" yaml:"transit_speed"`
	StepTimeout  time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`

	Autos []AutoDef `mapstructure:"autos" yaml:"autos"`
}

func DefaultConfig() Config {
	return Config{
		Period:  20 * time.Millisecond,
		Drive:   drive.DefaultConfig(),
		Mapping: input.Mapping{ScaleX: 0.4, ScaleY: 0.4},
		Turn:    motion.DefaultTurnGains(),
		Hold:    HoldGains{Gain: 40, MaxRate: 1500, Tolerance: 2},
		Buttons: Buttons{
			Inverse:  2,
			Turn45:   3,
			Turn90:   4,
			Turn180:  5,
			ZeroGyro: 6,
			Dump:     1,
			Intake:   2,
		},
		TurnScale:     2000,
		ForwardScale:  4000,
		GearRatio:     8.41,
		WheelDiameter: 6,
		TransitSpeed:  0.6,
		StepTimeout:   5 * time.Second,
		Autos:         DefaultAutos(),
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.New("loop period must be positive")
	}
	if err := c.Drive.Validate(); err != nil {
		return fmt.Errorf("drive: %w", err)
	}
	if c.GearRatio <= 0 || c.WheelDiameter <= 0 {
		return errors.New("gear_ratio and wheel_diameter must be positive")
	}
	if c.Turn.Tolerance <= 0 {
		return errors.New("turn tolerance must be positive")
	}
	return validateAutos(c.Autos)
}

// Container owns the scheduler and everything it runs.
type Container struct {
	cfg  Config
	log  *utils.Logger
	sink telemetry.Sink

	sched   *command.Scheduler
	drive   *drive.Controller
	transit *transit.Transit

	driver   *input.Joystick
	operator *input.Joystick

	autos    map[string]*command.Sequence
	order    []string
	selected string
	locked   bool
	running  command.Task
}

// NewContainer builds the subsystems on hw and motor and binds the controls.
// The scheduler starts disabled.
func NewContainer(cfg Config, hw drive.Hardware, motor transit.Motor, driver, operator input.Device, sink telemetry.Sink, log *utils.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("robot config: %w", err)
	}
	if sink == nil {
		sink = telemetry.Discard
	}

	dt, err := drive.NewController(hw, cfg.Drive, log, sink)
	if err != nil {
		return nil, fmt.Errorf("drivetrain: %w", err)
	}

	c := &Container{
		cfg:      cfg,
		log:      log.With("component", "robot"),
		sink:     sink,
		sched:    command.NewScheduler(log),
		drive:    dt,
		transit:  transit.New(motor, sink, log),
		driver:   input.NewJoystick(driver),
		operator: input.NewJoystick(operator),
		autos:    make(map[string]*command.Sequence, len(cfg.Autos)),
	}
	c.sched.RegisterSubsystem(c.drive, c.transit)
	c.sched.SetEnabled(false)

	manual := command.Run("manual drive", func() {
		turn, forward := c.cfg.Mapping.Manual(c.driver)
		c.drive.ManualDrive(turn, forward, c.cfg.TurnScale, c.cfg.ForwardScale)
	}, c.drive)
	if err := c.sched.RegisterDefault(c.drive, manual); err != nil {
		return nil, err
	}
	c.bindButtons()

	for _, def := range cfg.Autos {
		c.autos[def.Name] = c.buildAuto(def)
		c.order = append(c.order, def.Name)
	}
	c.selected = c.order[0]
	return c, nil
}

func (c *Container) bindButtons() {
	b := c.cfg.Buttons
	if b.Inverse > 0 {
		inverse := command.Run("inverse drive", func() {
			turn, forward := c.cfg.Mapping.Inverse(c.driver)
			c.drive.ManualDrive(turn, forward, c.cfg.TurnScale, c.cfg.ForwardScale)
		}, c.drive)
		c.sched.Bind(command.NewTrigger(c.driver.ButtonFunc(b.Inverse)).WhileHeld(inverse))
	}
	for _, bt := range []struct {
		button int
		angle  float64
	}{
		{b.Turn45, 45},
		{b.Turn90, 90},
		{b.Turn180, 180},
	} {
		if bt.button <= 0 {
			continue
		}
		turn := motion.NewTurnToAngle(c.drive, bt.angle, c.cfg.Turn, c.cfg.Period)
		c.sched.Bind(command.NewTrigger(c.driver.ButtonFunc(bt.button)).WhileHeld(turn))
	}
	if b.ZeroGyro > 0 {
		zero := command.Instant("zero gyro", c.drive.ResetGyro, c.drive)
		c.sched.Bind(command.NewTrigger(c.driver.ButtonFunc(b.ZeroGyro)).OnTrue(zero))
	}
	if b.Dump > 0 {
		dump := transit.Dump(c.transit, c.cfg.TransitSpeed)
		c.sched.Bind(command.NewTrigger(c.operator.ButtonFunc(b.Dump)).WhileHeld(dump))
	}
	if b.Intake > 0 {
		intake := transit.Intake(c.transit, c.cfg.TransitSpeed)
		c.sched.Bind(command.NewTrigger(c.operator.ButtonFunc(b.Intake)).WhileHeld(intake))
	}
}

func (c *Container) Scheduler() *command.Scheduler { return c.sched }

func (c *Container) Drive() *drive.Controller { return c.drive }

func (c *Container) Transit() *transit.Transit { return c.transit }

// AutonomousNames lists the menu in display order; the first is the default.
func (c *Container) AutonomousNames() []string {
	return append([]string(nil), c.order...)
}

// SelectAutonomous picks the routine AutonomousInit will run.
func (c *Container) SelectAutonomous(name string) error {
	if c.locked {
		return ErrAutoLocked
	}
	if _, ok := c.autos[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAuto, name)
	}
	if name != c.selected {
		c.log.Info("autonomous selected: %s", name)
		c.selected = name
	}
	return nil
}

// SelectedAutonomous returns the routine AutonomousInit would run.
func (c *Container) SelectedAutonomous() command.Task {
	return c.autos[c.selected]
}

func (c *Container) SelectedName() string { return c.selected }

// AutonomousInit enables the scheduler and starts the selected routine. The
// selection stays locked until teleop or disabled.
func (c *Container) AutonomousInit() {
	c.sched.SetEnabled(true)
	c.locked = true
	auto := c.SelectedAutonomous()
	if err := c.sched.Schedule(auto); err != nil {
		c.log.Error("start %s: %v", c.selected, err)
		return
	}
	c.running = auto
	run, _ := c.sched.RunID(auto)
	c.log.Info("autonomous started: %s run=%s", c.selected, run)
}

// TeleopInit stops any autonomous routine and hands the drivetrain back to
// the sticks.
func (c *Container) TeleopInit() {
	c.sched.SetEnabled(true)
	c.cancelAuto()
	c.locked = false
	c.log.Info("teleop enabled")
}

// DisabledInit cancels everything and zeroes the outputs.
func (c *Container) DisabledInit() {
	c.cancelAuto()
	c.sched.SetEnabled(false)
	c.drive.Stop()
	c.transit.Stop()
	c.locked = false
	c.log.Info("disabled")
}

func (c *Container) cancelAuto() {
	if c.running != nil {
		c.sched.Cancel(c.running)
		c.running = nil
	}
}

// Periodic publishes the stick positions and runs one scheduler tick.
func (c *Container) Periodic() {
	c.sink.PutNumber("Driver X", c.driver.X())
	c.sink.PutNumber("Driver Y", c.driver.Y())
	c.sink.PutBool("Enabled", c.sched.Enabled())
	c.sched.Tick()
}
