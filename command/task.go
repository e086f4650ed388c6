// Package command schedules cooperative tasks that share exclusive resources.
//
// A Scheduler is ticked once per control period by its host. Each tick it
// activates default tasks for unowned resources, then runs every active task
// once: Initialize on the first tick, Execute every tick, End when the task
// reports it is finished or loses a resource to a newer task. Nothing blocks
// inside a tick; waiting is expressed as a completion predicate polled across
// ticks.
package command

import "errors"

var (
	ErrNilTask       = errors.New("nil task")
	ErrSingleShot    = errors.New("single-shot task already ran")
	ErrNoRequirement = errors.New("default task does not require its resource")
)

// Resource is an exclusively ownable unit of hardware control.
type Resource interface {
	Name() string
}

// Subsystem is a Resource with a hook run once per tick before any task.
type Subsystem interface {
	Resource
	Periodic()
}

// Task is a unit of schedulable behavior.
type Task interface {
	Initialize()
	Execute()
	End(interrupted bool)
	IsFinished() bool
	Requirements() []Resource
}

// Interrupter is implemented by tasks with an interrupt predicate. When it
// holds, the scheduler ends the task with interrupted=true instead of running it.
type Interrupter interface {
	InterruptRequested() bool
}

// State is a task's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	// StateScheduled is admitted and owns its resources, but has not been initialized yet.
	StateScheduled
	StateInitialized
	StateRunning
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s State) active() bool {
	return s == StateScheduled || s == StateInitialized || s == StateRunning
}

// Base carries a name and requirements. Embed it and override the hooks
// you need; the defaults do nothing and never finish.
type Base struct {
	name       string
	reqs       []Resource
	singleShot bool
}

func NewBase(name string, reqs ...Resource) Base {
	return Base{name: name, reqs: reqs}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Requirements() []Resource { return b.reqs }

func (b *Base) AddRequirements(reqs ...Resource) {
	for _, r := range reqs {
		if !containsResource(b.reqs, r) {
			b.reqs = append(b.reqs, r)
		}
	}
}

// SetSingleShot makes the scheduler refuse to run the task a second time.
func (b *Base) SetSingleShot(v bool) { b.singleShot = v }

func (b *Base) SingleShot() bool { return b.singleShot }

func (b *Base) Initialize()      {}
func (b *Base) Execute()         {}
func (b *Base) End(bool)         {}
func (b *Base) IsFinished() bool { return false }

// NameOf returns a task's name when it has one.
func NameOf(t Task) string {
	if n, ok := t.(interface{ Name() string }); ok && n.Name() != "" {
		return n.Name()
	}
	return "task"
}

func isSingleShot(t Task) bool {
	s, ok := t.(interface{ SingleShot() bool })
	return ok && s.SingleShot()
}

func containsResource(rs []Resource, r Resource) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

// union merges requirement sets, keeping first-seen order.
func union(tasks ...Task) []Resource {
	var out []Resource
	for _, t := range tasks {
		for _, r := range t.Requirements() {
			if !containsResource(out, r) {
				out = append(out, r)
			}
		}
	}
	return out
}
