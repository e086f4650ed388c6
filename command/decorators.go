package command

// funcTask adapts plain functions to a Task.
type funcTask struct {
	Base
	init     func()
	exec     func()
	end      func(bool)
	finished func() bool
}

func (f *funcTask) Initialize() {
	if f.init != nil {
		f.init()
	}
}

func (f *funcTask) Execute() {
	if f.exec != nil {
		f.exec()
	}
}

func (f *funcTask) End(interrupted bool) {
	if f.end != nil {
		f.end(interrupted)
	}
}

func (f *funcTask) IsFinished() bool {
	return f.finished != nil && f.finished()
}

// Run calls fn every tick and never finishes on its own.
func Run(name string, fn func(), reqs ...Resource) Task {
	return &funcTask{Base: NewBase(name, reqs...), exec: fn}
}

// Instant calls fn once on initialize and finishes in the same tick.
func Instant(name string, fn func(), reqs ...Resource) Task {
	return &funcTask{
		Base:     NewBase(name, reqs...),
		init:     fn,
		finished: func() bool { return true },
	}
}

// StartEnd calls start on initialize and stop on end, however the task ends.
func StartEnd(name string, start, stop func(), reqs ...Resource) Task {
	return &funcTask{
		Base: NewBase(name, reqs...),
		init: start,
		end:  func(bool) { stop() },
	}
}

// Timeout wraps a task and force-completes it after a fixed number of executions.
type Timeout struct {
	inner    Task
	maxTicks int
	ticks    int
}

// WithTimeout bounds t to maxTicks executions. A non-positive maxTicks never times out.
func WithTimeout(t Task, maxTicks int) *Timeout {
	return &Timeout{inner: t, maxTicks: maxTicks}
}

func (w *Timeout) Name() string { return NameOf(w.inner) }

func (w *Timeout) Initialize() {
	w.ticks = 0
	w.inner.Initialize()
}

func (w *Timeout) Execute() {
	w.inner.Execute()
	w.ticks++
}

// End reports a timeout to the inner task as an interruption.
func (w *Timeout) End(interrupted bool) {
	w.inner.End(interrupted || w.Expired())
}

func (w *Timeout) IsFinished() bool {
	return w.inner.IsFinished() || w.TimedOut()
}

func (w *Timeout) TimedOut() bool {
	return w.maxTicks > 0 && w.ticks >= w.maxTicks
}

// Expired reports a timeout that cut the inner task short.
func (w *Timeout) Expired() bool {
	return w.TimedOut() && !w.inner.IsFinished()
}

func (w *Timeout) Requirements() []Resource { return w.inner.Requirements() }

func (w *Timeout) InterruptRequested() bool {
	ir, ok := w.inner.(Interrupter)
	return ok && ir.InterruptRequested()
}

// Interruptible wraps a task with an interrupt predicate.
type Interruptible struct {
	inner Task
	cond  func() bool
}

// Until ends t as interrupted once cond holds.
func Until(t Task, cond func() bool) *Interruptible {
	return &Interruptible{inner: t, cond: cond}
}

func (u *Interruptible) Name() string             { return NameOf(u.inner) }
func (u *Interruptible) Initialize()              { u.inner.Initialize() }
func (u *Interruptible) Execute()                 { u.inner.Execute() }
func (u *Interruptible) End(interrupted bool)     { u.inner.End(interrupted) }
func (u *Interruptible) IsFinished() bool         { return u.inner.IsFinished() }
func (u *Interruptible) Requirements() []Resource { return u.inner.Requirements() }

func (u *Interruptible) InterruptRequested() bool {
	if u.cond() {
		return true
	}
	ir, ok := u.inner.(Interrupter)
	return ok && ir.InterruptRequested()
}
