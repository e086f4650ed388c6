package command

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"drivetrain-core/utils"
)

type resource string

func (r resource) Name() string { return string(r) }

type subsystem struct {
	resource
	periodic int
}

func (s *subsystem) Periodic() { s.periodic++ }

// recorder appends lifecycle events to a shared log.
type recorder struct {
	Base
	events   *[]string
	finishAt int // executions before IsFinished reports true; 0 never
	execs    int
}

func newRecorder(name string, events *[]string, finishAt int, reqs ...Resource) *recorder {
	return &recorder{Base: NewBase(name, reqs...), events: events, finishAt: finishAt}
}

func (r *recorder) Initialize() {
	r.execs = 0
	*r.events = append(*r.events, r.Name()+".init")
}

func (r *recorder) Execute() {
	r.execs++
	*r.events = append(*r.events, r.Name()+".exec")
}

func (r *recorder) End(interrupted bool) {
	*r.events = append(*r.events, fmt.Sprintf("%s.end(%v)", r.Name(), interrupted))
}

func (r *recorder) IsFinished() bool { return r.finishAt > 0 && r.execs >= r.finishAt }

func newTestScheduler() *Scheduler { return NewScheduler(utils.Discard()) }

func equalEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v\nwant     %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("events = %v\nwant     %v", got, want)
		}
	}
}

func TestScheduleInterruptsOwner(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()

	t1 := newRecorder("t1", &events, 0, drivetrain)
	t2 := newRecorder("t2", &events, 0, drivetrain)

	if err := s.Schedule(t1); err != nil {
		t.Fatal(err)
	}
	s.Tick()
	if err := s.Schedule(t2); err != nil {
		t.Fatal(err)
	}
	s.Tick()

	equalEvents(t, events, []string{
		"t1.init", "t1.exec",
		"t1.end(true)",
		"t2.init", "t2.exec",
	})
	if s.State(t1) != StateEnded || s.State(t2) != StateRunning {
		t.Fatalf("states = %s, %s", s.State(t1), s.State(t2))
	}
	if s.Owner(drivetrain) != t2 {
		t.Fatal("t2 does not own the drivetrain")
	}
}

func TestScheduleFromInsideTickInitializesSameTick(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()

	t1 := newRecorder("t1", &events, 0, drivetrain)
	t2 := newRecorder("t2", &events, 0, drivetrain)
	pressed := false
	s.Bind(NewTrigger(func() bool { return pressed }).OnTrue(t2))

	_ = s.Schedule(t1)
	s.Tick()
	pressed = true
	s.Tick()

	equalEvents(t, events, []string{
		"t1.init", "t1.exec",
		"t1.end(true)", "t2.init", "t2.exec",
	})
}

func TestDisjointTasksRunTogether(t *testing.T) {
	var events []string
	s := newTestScheduler()
	a := newRecorder("a", &events, 0, resource("drivetrain"))
	b := newRecorder("b", &events, 0, resource("transit"))
	_ = s.Schedule(a)
	_ = s.Schedule(b)
	s.Tick()
	if !s.IsScheduled(a) || !s.IsScheduled(b) {
		t.Fatal("disjoint tasks interrupted each other")
	}
}

func TestMultiResourceTaskInterruptsEveryOwner(t *testing.T) {
	dt, tr := resource("drivetrain"), resource("transit")
	var events []string
	s := newTestScheduler()
	a := newRecorder("a", &events, 0, dt)
	b := newRecorder("b", &events, 0, tr)
	both := newRecorder("both", &events, 0, dt, tr)
	_ = s.Schedule(a)
	_ = s.Schedule(b)
	s.Tick()
	_ = s.Schedule(both)
	if s.IsScheduled(a) || s.IsScheduled(b) {
		t.Fatal("owners still scheduled")
	}
	if s.Owner(dt) != both || s.Owner(tr) != both {
		t.Fatal("resources not transferred")
	}
}

func TestFinishedTaskEndsNotInterrupted(t *testing.T) {
	var events []string
	s := newTestScheduler()
	task := newRecorder("t", &events, 2, resource("drivetrain"))
	_ = s.Schedule(task)
	s.Tick()
	s.Tick()
	s.Tick()
	equalEvents(t, events, []string{"t.init", "t.exec", "t.exec", "t.end(false)"})
	if s.IsScheduled(task) {
		t.Fatal("finished task still scheduled")
	}
}

func TestDefaultTaskResumesNextTick(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()
	def := newRecorder("default", &events, 0, drivetrain)
	if err := s.RegisterDefault(drivetrain, def); err != nil {
		t.Fatal(err)
	}
	s.Tick()

	task := newRecorder("t", &events, 1, drivetrain)
	_ = s.Schedule(task)
	s.Tick() // t runs once and finishes
	s.Tick() // default is back with no idle tick

	equalEvents(t, events, []string{
		"default.init", "default.exec",
		"default.end(true)",
		"t.init", "t.exec", "t.end(false)",
		"default.init", "default.exec",
	})
}

func TestCancelFallsBackToDefault(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()
	def := newRecorder("default", &events, 0, drivetrain)
	_ = s.RegisterDefault(drivetrain, def)
	task := newRecorder("t", &events, 0, drivetrain)
	_ = s.Schedule(task)
	s.Tick()
	s.Cancel(task)
	if s.Owner(drivetrain) != nil {
		t.Fatal("resource still owned after cancel")
	}
	s.Tick()
	if s.Owner(drivetrain) != def || s.State(def) != StateRunning {
		t.Fatalf("default not running after cancel: %s", s.State(def))
	}
}

func TestInterruptBeforeInitializeSkipsEnd(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()
	a := newRecorder("a", &events, 0, drivetrain)
	b := newRecorder("b", &events, 0, drivetrain)
	_ = s.Schedule(a)
	_ = s.Schedule(b)
	s.Tick()
	equalEvents(t, events, []string{"b.init", "b.exec"})
}

func TestRegisterDefaultErrors(t *testing.T) {
	s := newTestScheduler()
	if err := s.RegisterDefault(resource("drivetrain"), nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("nil task: %v", err)
	}
	var events []string
	other := newRecorder("other", &events, 0, resource("transit"))
	if err := s.RegisterDefault(resource("drivetrain"), other); !errors.Is(err, ErrNoRequirement) {
		t.Errorf("missing requirement: %v", err)
	}
}

func TestRegisterDefaultReplaces(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()
	first := newRecorder("first", &events, 0, drivetrain)
	second := newRecorder("second", &events, 0, drivetrain)
	_ = s.RegisterDefault(drivetrain, first)
	s.Tick()
	_ = s.RegisterDefault(drivetrain, second)
	s.Tick()
	if s.Default(drivetrain) != second || s.Owner(drivetrain) != second {
		t.Fatal("replacement default not running")
	}
	if s.State(first) != StateEnded {
		t.Fatalf("old default state = %s", s.State(first))
	}
}

func TestSingleShot(t *testing.T) {
	var events []string
	s := newTestScheduler()
	task := newRecorder("once", &events, 1, resource("drivetrain"))
	task.SetSingleShot(true)
	_ = s.Schedule(task)
	s.Tick()
	if err := s.Schedule(task); !errors.Is(err, ErrSingleShot) {
		t.Fatalf("second schedule: %v", err)
	}
}

func TestRescheduleRunsOncePerTick(t *testing.T) {
	var events []string
	s := newTestScheduler()
	task := newRecorder("t", &events, 1, resource("drivetrain"))
	_ = s.Schedule(task)
	s.Tick()
	_ = s.Schedule(task)
	s.Tick()
	equalEvents(t, events, []string{
		"t.init", "t.exec", "t.end(false)",
		"t.init", "t.exec", "t.end(false)",
	})
}

func TestSubsystemPeriodicAndDisable(t *testing.T) {
	sub := &subsystem{resource: "drivetrain"}
	var events []string
	s := newTestScheduler()
	s.RegisterSubsystem(sub)
	_ = s.RegisterDefault(sub, newRecorder("default", &events, 0, sub))

	s.Tick()
	s.SetEnabled(false)
	s.Tick()
	s.Tick()

	if sub.periodic != 3 {
		t.Errorf("Periodic ran %d times, want 3", sub.periodic)
	}
	equalEvents(t, events, []string{"default.init", "default.exec", "default.end(true)"})
	if s.Ticks() != 3 {
		t.Errorf("Ticks = %d", s.Ticks())
	}

	s.SetEnabled(true)
	s.Tick()
	if s.Owner(sub) == nil {
		t.Fatal("default did not resume after enable")
	}
}

func TestCancelAll(t *testing.T) {
	var events []string
	s := newTestScheduler()
	a := newRecorder("a", &events, 0, resource("drivetrain"))
	b := newRecorder("b", &events, 0, resource("transit"))
	_ = s.Schedule(a)
	_ = s.Schedule(b)
	s.Tick()
	s.CancelAll()
	if s.IsScheduled(a) || s.IsScheduled(b) {
		t.Fatal("tasks still scheduled")
	}
	equalEvents(t, events, []string{"a.init", "a.exec", "b.init", "b.exec", "a.end(true)", "b.end(true)"})
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle: "idle", StateScheduled: "scheduled", StateInitialized: "initialized",
		StateRunning: "running", StateEnded: "ended",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q", st, st.String())
		}
	}
}

func TestRunIDPerSchedule(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	s := newTestScheduler()
	task := newRecorder("task", &events, 1, drivetrain)

	if _, ok := s.RunID(task); ok {
		t.Fatal("run id for a task never scheduled")
	}
	_ = s.Schedule(task)
	first, ok := s.RunID(task)
	if !ok {
		t.Fatal("no run id after Schedule")
	}
	s.Tick()
	if id, _ := s.RunID(task); id != first {
		t.Fatal("run id changed while the run finished")
	}

	_ = s.Schedule(task)
	second, _ := s.RunID(task)
	if second == first {
		t.Fatal("reschedule reused the run id")
	}
	// Scheduling an active task is a no-op and keeps its run.
	_ = s.Schedule(task)
	if id, _ := s.RunID(task); id != second {
		t.Fatal("active task got a new run id")
	}
}

func TestInterruptLogNamesRun(t *testing.T) {
	drivetrain := resource("drivetrain")
	var events []string
	var buf bytes.Buffer
	s := NewScheduler(utils.NewLogger(&buf, utils.DEBUG))

	t1 := newRecorder("t1", &events, 0, drivetrain)
	t2 := newRecorder("t2", &events, 0, drivetrain)
	_ = s.Schedule(t1)
	s.Tick()
	run, _ := s.RunID(t1)
	_ = s.Schedule(t2)

	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "interrupts") {
			if !strings.Contains(line, run.String()) {
				t.Fatalf("interrupt line without t1's run: %s", line)
			}
			return
		}
	}
	t.Fatalf("no interrupt logged:\n%s", buf.String())
}
