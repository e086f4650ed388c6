// Package transit drives the ball transit motor that intakes and dumps cargo.
package transit

import (
	"drivetrain-core/command"
	"drivetrain-core/telemetry"
	"drivetrain-core/utils"
)

// Motor is an open-loop motor output in [-1, 1].
type Motor interface {
	Set(duty float64)
}

// Transit is the ball transit subsystem.
type Transit struct {
	motor Motor
	sink  telemetry.Sink
	log   *utils.Logger
	duty  float64
}

func New(motor Motor, sink telemetry.Sink, log *utils.Logger) *Transit {
	if sink == nil {
		sink = telemetry.Discard
	}
	return &Transit{motor: motor, sink: sink, log: log.With("subsystem", "transit")}
}

func (t *Transit) Name() string { return "transit" }

func (t *Transit) Run(duty float64) {
	t.duty = duty
	t.motor.Set(duty)
}

func (t *Transit) Stop() { t.Run(0) }

func (t *Transit) Duty() float64 { return t.duty }

func (t *Transit) Periodic() {
	t.sink.PutNumber("Transit Output", t.duty)
}

// Dump runs the transit outward for as long as the task is scheduled.
func Dump(t *Transit, speed float64) command.Task {
	return command.StartEnd("dump ball",
		func() {
			t.log.Debug("dumping at %.2f", speed)
			t.Run(-speed)
		},
		t.Stop,
		t)
}

// Intake pulls cargo in for as long as the task is scheduled.
func Intake(t *Transit, speed float64) command.Task {
	return command.StartEnd("intake ball", func() { t.Run(speed) }, t.Stop, t)
}
