package robot

import (
	"errors"
	"math"
	"testing"
	"time"

	"drivetrain-core/drive"
	"drivetrain-core/input"
	"drivetrain-core/sim"
	"drivetrain-core/telemetry"
	"drivetrain-core/utils"
)

type bench struct {
	c        *Container
	sim      *sim.Drivetrain
	motor    *sim.Motor
	driver   *input.Pad
	operator *input.Pad
	table    *telemetry.Table
}

func newBench(t *testing.T) *bench {
	t.Helper()
	b := &bench{
		sim:      sim.NewDrivetrain(sim.DefaultConfig()),
		motor:    &sim.Motor{},
		driver:   input.NewPad(),
		operator: input.NewPad(),
		table:    telemetry.NewTable(),
	}
	c, err := NewContainer(DefaultConfig(), b.sim, b.motor, b.driver, b.operator, b.table, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}
	b.c = c
	return b
}

func (b *bench) tick(n int) {
	for i := 0; i < n; i++ {
		b.sim.Step(20 * time.Millisecond)
		b.c.Periodic()
	}
}

func TestAutonomousMenu(t *testing.T) {
	b := newBench(t)
	names := b.c.AutonomousNames()
	if len(names) != 2 || names[0] != "Two Ball Auto" || names[1] != "One Ball Auto" {
		t.Fatalf("names = %v", names)
	}
	if b.c.SelectedName() != "Two Ball Auto" {
		t.Fatalf("default = %q", b.c.SelectedName())
	}
	if err := b.c.SelectAutonomous("Three Ball Auto"); !errors.Is(err, ErrUnknownAuto) {
		t.Fatalf("unknown: %v", err)
	}
	if err := b.c.SelectAutonomous("One Ball Auto"); err != nil {
		t.Fatal(err)
	}
	if got := b.c.SelectedAutonomous(); got == nil || b.c.SelectedName() != "One Ball Auto" {
		t.Fatalf("selected %q", b.c.SelectedName())
	}
}

func TestSelectionLockedDuringAutonomous(t *testing.T) {
	b := newBench(t)
	b.c.AutonomousInit()
	if err := b.c.SelectAutonomous("One Ball Auto"); !errors.Is(err, ErrAutoLocked) {
		t.Fatalf("err = %v, want ErrAutoLocked", err)
	}
	b.c.TeleopInit()
	if err := b.c.SelectAutonomous("One Ball Auto"); err != nil {
		t.Fatalf("after teleop: %v", err)
	}
}

func TestStartsDisabledAndIgnoresControls(t *testing.T) {
	b := newBench(t)
	b.operator.Update(input.PadState{Buttons: []bool{true}})
	b.driver.Update(input.PadState{Axes: []float64{0, -1}})
	b.tick(3)

	if len(b.motor.History) != 0 {
		t.Fatalf("transit driven while disabled: %v", b.motor.History)
	}
	if l, r := b.c.Drive().Setpoints(); l != 0 || r != 0 {
		t.Fatalf("drive setpoints %v %v while disabled", l, r)
	}
	if v, ok := b.table.Bool("Enabled"); !ok || v {
		t.Fatalf("Enabled = %v, %v", v, ok)
	}
	if v, _ := b.table.Number("Driver Y"); v != -1 {
		t.Fatalf("Driver Y = %v", v)
	}
}

func TestOneBallAuto(t *testing.T) {
	b := newBench(t)
	if err := b.c.SelectAutonomous("One Ball Auto"); err != nil {
		t.Fatal(err)
	}
	auto := b.c.SelectedAutonomous()
	b.c.AutonomousInit()
	if !b.c.Scheduler().IsScheduled(auto) {
		t.Fatal("routine not scheduled")
	}

	b.tick(2)
	if b.motor.Duty != -0.6 {
		t.Fatalf("transit duty = %v during dump", b.motor.Duty)
	}

	for i := 0; i < 600 && b.c.Scheduler().IsScheduled(auto); i++ {
		b.tick(1)
	}
	if b.c.Scheduler().IsScheduled(auto) {
		t.Fatal("routine still running")
	}
	if b.motor.Duty != 0 {
		t.Fatalf("transit left at %v", b.motor.Duty)
	}
}

func TestDisabledInitStopsRoutine(t *testing.T) {
	b := newBench(t)
	auto := b.c.SelectedAutonomous()
	b.c.AutonomousInit()
	b.tick(10)
	if b.c.Drive().Mode() != drive.ModePosition {
		t.Fatalf("mode = %s, want position move", b.c.Drive().Mode())
	}

	b.c.DisabledInit()
	if b.c.Scheduler().IsScheduled(auto) || b.c.Scheduler().Enabled() {
		t.Fatal("still running after disable")
	}
	if b.c.Drive().Mode() != drive.ModeIdle {
		t.Fatalf("mode = %s after disable", b.c.Drive().Mode())
	}
	if err := b.c.SelectAutonomous("One Ball Auto"); err != nil {
		t.Fatalf("selection still locked: %v", err)
	}
}

func TestTeleopControls(t *testing.T) {
	b := newBench(t)
	b.c.TeleopInit()

	// Stick pushed away drives forward: mirrored wheel sides.
	b.driver.Update(input.PadState{Axes: []float64{0, -1}})
	b.tick(1)
	l, r := b.c.Drive().Setpoints()
	if l <= 0 || l != -r {
		t.Fatalf("forward setpoints %v %v", l, r)
	}

	// Holding inverse turns a sideways stick into reverse driving.
	b.driver.Update(input.PadState{Axes: []float64{1, 0}, Buttons: []bool{false, true}})
	b.tick(1)
	l, r = b.c.Drive().Setpoints()
	if l >= 0 || l != -r {
		t.Fatalf("inverse setpoints %v %v", l, r)
	}

	b.operator.Update(input.PadState{Buttons: []bool{true}})
	b.tick(1)
	if b.motor.Duty != -0.6 {
		t.Fatalf("dump duty = %v", b.motor.Duty)
	}
	b.operator.Update(input.PadState{})
	b.tick(1)
	if b.motor.Duty != 0 {
		t.Fatalf("duty after release = %v", b.motor.Duty)
	}
}

func TestIntakeButton(t *testing.T) {
	b := newBench(t)
	b.c.TeleopInit()
	b.operator.Update(input.PadState{Buttons: []bool{false, true}})
	b.tick(1)
	if b.motor.Duty != 0.6 {
		t.Fatalf("intake duty = %v", b.motor.Duty)
	}
	b.operator.Update(input.PadState{})
	b.tick(1)
	if b.motor.Duty != 0 {
		t.Fatalf("duty after release = %v", b.motor.Duty)
	}
}

func TestZeroGyroButton(t *testing.T) {
	b := newBench(t)
	b.c.TeleopInit()
	b.sim.SetHeading(37)
	b.tick(1)
	if e := b.c.Drive().AngleError(0); math.Abs(e+37) > 1e-9 {
		t.Fatalf("error before zeroing = %v", e)
	}
	b.driver.Update(input.PadState{Buttons: []bool{false, false, false, false, false, true}})
	b.tick(1)
	if e := b.c.Drive().AngleError(0); e != 0 {
		t.Fatalf("error after zeroing = %v", e)
	}
}

func TestTurnButton(t *testing.T) {
	b := newBench(t)
	b.c.TeleopInit()
	b.driver.Update(input.PadState{Buttons: []bool{false, false, false, true}})
	for i := 0; i < 500 && math.Abs(b.c.Drive().AngleError(90)) >= DefaultConfig().Turn.Tolerance; i++ {
		b.tick(1)
	}
	if e := b.c.Drive().AngleError(90); math.Abs(e) >= DefaultConfig().Turn.Tolerance {
		t.Fatalf("heading error %v while holding turn 90", e)
	}
}

func TestInchesToRotations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.InchesToRotations(math.Pi * cfg.WheelDiameter); math.Abs(got-cfg.GearRatio) > 1e-12 {
		t.Fatalf("one wheel turn = %v rotations, want %v", got, cfg.GearRatio)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"no period", func(c *Config) { c.Period = 0 }},
		{"no autos", func(c *Config) { c.Autos = nil }},
		{"bad gear", func(c *Config) { c.GearRatio = 0 }},
		{"bad step", func(c *Config) { c.Autos = []AutoDef{{Name: "x", Steps: []AutoStep{{Kind: "spin"}}}} }},
		{"zero dump", func(c *Config) { c.Autos = []AutoDef{{Name: "x", Steps: []AutoStep{{Kind: StepDump}}}} }},
		{"duplicate", func(c *Config) { c.Autos = append(c.Autos, c.Autos[0]) }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.edit(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: accepted", tt.name)
		}
	}
}

func TestTicksFor(t *testing.T) {
	if n := ticksFor(time.Second, 20*time.Millisecond); n != 50 {
		t.Fatalf("ticksFor(1s) = %d", n)
	}
	if n := ticksFor(30*time.Millisecond, 20*time.Millisecond); n != 2 {
		t.Fatalf("ticksFor(30ms) = %d", n)
	}
	if n := ticksFor(0, 20*time.Millisecond); n != 0 {
		t.Fatalf("ticksFor(0) = %d", n)
	}
}
