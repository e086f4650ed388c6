package transit

import (
	"testing"

	"drivetrain-core/command"
	"drivetrain-core/sim"
	"drivetrain-core/telemetry"
	"drivetrain-core/utils"
)

func TestDumpRunsOutwardAndStops(t *testing.T) {
	motor := &sim.Motor{}
	table := telemetry.NewTable()
	tr := New(motor, table, utils.Discard())
	s := command.NewScheduler(utils.Discard())
	s.RegisterSubsystem(tr)

	dump := Dump(tr, 0.6)
	if err := s.Schedule(dump); err != nil {
		t.Fatal(err)
	}
	s.Tick()
	if motor.Duty != -0.6 || tr.Duty() != -0.6 {
		t.Fatalf("duty = %v, want -0.6", motor.Duty)
	}
	s.Tick()
	if v, ok := table.Number("Transit Output"); !ok || v != -0.6 {
		t.Errorf("Transit Output = %v, %v", v, ok)
	}

	s.Cancel(dump)
	if motor.Duty != 0 {
		t.Fatalf("duty after cancel = %v", motor.Duty)
	}
}

func TestIntakeSharesTheTransit(t *testing.T) {
	motor := &sim.Motor{}
	tr := New(motor, nil, utils.Discard())
	s := command.NewScheduler(utils.Discard())

	intake := Intake(tr, 0.5)
	_ = s.Schedule(intake)
	s.Tick()
	if motor.Duty != 0.5 {
		t.Fatalf("intake duty = %v", motor.Duty)
	}

	dump := Dump(tr, 0.6)
	_ = s.Schedule(dump)
	if s.IsScheduled(intake) {
		t.Fatal("intake not interrupted by dump")
	}
	s.Tick()
	if motor.Duty != -0.6 {
		t.Fatalf("dump duty = %v", motor.Duty)
	}
	if tr.Name() != "transit" {
		t.Fatalf("Name = %q", tr.Name())
	}
}
