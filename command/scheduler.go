package command

import (
	"fmt"

	"github.com/google/uuid"

	"drivetrain-core/utils"
)

type entry struct {
	run         uuid.UUID // new on every Schedule
	state       State
	initialized bool
}

type defaultTask struct {
	resource Resource
	task     Task
}

// Scheduler arbitrates resource ownership between tasks. It is single
// threaded: Schedule, Cancel and Tick must all be called from the control loop.
type Scheduler struct {
	log *utils.Logger

	subsystems []Subsystem
	defaults   []defaultTask
	triggers   []*Trigger

	owners  map[Resource]Task
	entries map[Task]*entry
	active  []Task

	ticks    uint64
	disabled bool
}

func NewScheduler(log *utils.Logger) *Scheduler {
	return &Scheduler{
		log:     log.With("component", "scheduler"),
		owners:  make(map[Resource]Task),
		entries: make(map[Task]*entry),
	}
}

// RegisterSubsystem adds s to the set whose Periodic runs at the start of every tick.
func (s *Scheduler) RegisterSubsystem(subs ...Subsystem) {
	for _, sub := range subs {
		s.subsystems = append(s.subsystems, sub)
	}
}

// RegisterDefault sets the task that runs on r whenever nothing else owns it.
// A previous default is replaced; if it is running it is cancelled and the new
// default takes over on the next tick.
func (s *Scheduler) RegisterDefault(r Resource, t Task) error {
	if t == nil {
		return ErrNilTask
	}
	if !containsResource(t.Requirements(), r) {
		return fmt.Errorf("%w: %s does not require %s", ErrNoRequirement, NameOf(t), r.Name())
	}
	for i, d := range s.defaults {
		if d.resource != r {
			continue
		}
		if d.task != t && s.State(d.task).active() {
			s.Cancel(d.task)
		}
		s.defaults[i].task = t
		return nil
	}
	s.defaults = append(s.defaults, defaultTask{resource: r, task: t})
	return nil
}

// Default returns the default task registered for r.
func (s *Scheduler) Default(r Resource) Task {
	for _, d := range s.defaults {
		if d.resource == r {
			return d.task
		}
	}
	return nil
}

// Bind adds a trigger polled at the start of every tick.
func (s *Scheduler) Bind(t *Trigger) {
	s.triggers = append(s.triggers, t)
}

// Schedule admits t, interrupting every active task that holds one of its
// resources. The most recent schedule always wins. The interrupted tasks'
// End(true) runs before this returns; t is initialized and first executed on
// the next tick pass, which is this tick when called from inside Tick.
func (s *Scheduler) Schedule(t Task) error {
	if t == nil {
		return ErrNilTask
	}
	e, ok := s.entries[t]
	if ok && e.state.active() {
		return nil
	}
	if ok && e.state == StateEnded && isSingleShot(t) {
		return fmt.Errorf("%w: %s", ErrSingleShot, NameOf(t))
	}
	if ok {
		s.dropStale(t)
	}

	for _, r := range t.Requirements() {
		if owner, held := s.owners[r]; held && owner != t {
			s.log.Debug("%s interrupts %s on %s", NameOf(t), s.label(owner), r.Name())
			s.finish(owner, true)
		}
	}
	for _, r := range t.Requirements() {
		s.owners[r] = t
	}
	s.entries[t] = &entry{run: uuid.New(), state: StateScheduled}
	s.active = append(s.active, t)
	s.log.Debug("scheduled %s", s.label(t))
	return nil
}

// Cancel interrupts t if it is active. Its resources fall back to their
// default tasks on the next tick.
func (s *Scheduler) Cancel(t Task) {
	if e, ok := s.entries[t]; ok && e.state.active() {
		s.log.Debug("cancel %s", s.label(t))
		s.finish(t, true)
	}
}

// CancelAll interrupts every active task.
func (s *Scheduler) CancelAll() {
	for _, t := range s.active {
		if t != nil {
			s.Cancel(t)
		}
	}
	s.compact()
}

// State reports where t is in its lifecycle. Unknown tasks are idle.
func (s *Scheduler) State(t Task) State {
	if e, ok := s.entries[t]; ok {
		return e.state
	}
	return StateIdle
}

// RunID identifies the latest scheduling of t. Log lines for that run carry
// the same ID, so a rescheduled task can be told apart from its previous run.
func (s *Scheduler) RunID(t Task) (uuid.UUID, bool) {
	if e, ok := s.entries[t]; ok {
		return e.run, true
	}
	return uuid.Nil, false
}

func (s *Scheduler) label(t Task) string {
	if e, ok := s.entries[t]; ok {
		return fmt.Sprintf("%s[run=%s]", NameOf(t), e.run)
	}
	return NameOf(t)
}

func (s *Scheduler) IsScheduled(t Task) bool {
	return s.State(t).active()
}

// Owner returns the task holding r, or nil.
func (s *Scheduler) Owner(r Resource) Task {
	return s.owners[r]
}

// SetEnabled switches task execution on or off. Disabling cancels every
// active task; while disabled, Tick only runs subsystem Periodic hooks.
func (s *Scheduler) SetEnabled(enabled bool) {
	if !enabled && !s.disabled {
		s.CancelAll()
	}
	s.disabled = !enabled
}

func (s *Scheduler) Enabled() bool { return !s.disabled }

// Ticks counts completed Tick calls.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Tick runs one control period.
func (s *Scheduler) Tick() {
	for _, sub := range s.subsystems {
		sub.Periodic()
	}
	if s.disabled {
		s.ticks++
		return
	}
	for _, trig := range s.triggers {
		trig.poll(s)
	}
	for _, d := range s.defaults {
		if _, held := s.owners[d.resource]; !held {
			if err := s.Schedule(d.task); err != nil {
				s.log.Error("default task for %s: %v", d.resource.Name(), err)
			}
		}
	}

	// Tasks scheduled by an Execute are appended and still run this tick,
	// unless they already ran earlier in it.
	ran := make(map[Task]bool, len(s.active))
	for i := 0; i < len(s.active); i++ {
		t := s.active[i]
		if t == nil || ran[t] {
			continue
		}
		e := s.entries[t]
		if !e.state.active() {
			continue
		}
		ran[t] = true
		if !e.initialized {
			t.Initialize()
			e.initialized = true
			e.state = StateInitialized
		}
		if ir, ok := t.(Interrupter); ok && ir.InterruptRequested() {
			s.log.Debug("%s interrupt condition met", s.label(t))
			s.finish(t, true)
			continue
		}
		t.Execute()
		if !e.state.active() {
			// Cancelled itself during Execute.
			continue
		}
		e.state = StateRunning
		if t.IsFinished() {
			s.log.Debug("%s finished", s.label(t))
			s.finish(t, false)
		}
	}
	s.compact()
	s.ticks++
}

// finish ends t and releases its resources. A task interrupted before it was
// initialized is dropped without an End call.
func (s *Scheduler) finish(t Task, interrupted bool) {
	e := s.entries[t]
	if e == nil || !e.state.active() {
		return
	}
	e.state = StateEnded
	if e.initialized {
		t.End(interrupted)
	}
	for _, r := range t.Requirements() {
		if s.owners[r] == t {
			delete(s.owners, r)
		}
	}
}

// dropStale removes an ended task's old slot so a reschedule occupies exactly one.
func (s *Scheduler) dropStale(t Task) {
	for i, x := range s.active {
		if x == t {
			s.active[i] = nil
		}
	}
}

func (s *Scheduler) compact() {
	kept := s.active[:0]
	for _, t := range s.active {
		if t != nil && s.entries[t].state.active() {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = kept
}
